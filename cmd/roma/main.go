package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentient-agi/ROMA-sub000/internal/artifact"
	"github.com/sentient-agi/ROMA-sub000/internal/composer"
	"github.com/sentient-agi/ROMA-sub000/internal/config"
	"github.com/sentient-agi/ROMA-sub000/internal/observability"
	"github.com/sentient-agi/ROMA-sub000/internal/server"
	"github.com/sentient-agi/ROMA-sub000/internal/solver"
	"github.com/sentient-agi/ROMA-sub000/internal/taskgraph"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "roma",
		Short: "Recursive task-decomposition engine",
		Long:  "roma decomposes a goal into a task tree, executes leaves, and tracks every produced file as a deduplicated artifact with lineage.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newServeCmd(&configPath))
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	var (
		maxDepth    int
		concurrency int64
		retryBudget int
		mode        string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [goal]",
		Short: "Solve a goal with the built-in heuristic predictors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-depth") {
				cfg.Engine.MaxDepth = maxDepth
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.Engine.Concurrency = concurrency
			}
			if cmd.Flags().Changed("retry-budget") {
				cfg.Engine.RetryBudget = retryBudget
			}
			if cmd.Flags().Changed("injection-mode") {
				cfg.Engine.InjectionMode = mode
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := observability.NewLogger(observability.LogConfig{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				Output: os.Stderr,
			})

			metrics, err := observability.NewEngineMetrics("", nil)
			if err != nil {
				return err
			}
			eng, err := solver.New(solver.NewHeuristicSuite(), logger, solver.Options{
				MaxDepth:      cfg.Engine.MaxDepth,
				Concurrency:   cfg.Engine.Concurrency,
				RetryBudget:   cfg.Engine.RetryBudget,
				InjectionMode: composer.ParseInjectionMode(cfg.Engine.InjectionMode),
				TokenBudget:   cfg.Engine.TokenBudget,
				FSRoot:        cfg.Engine.FSRoot,
				Metrics:       metrics,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			res, err := eng.Run(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			printResult(cmd, res)
			if res.Status == taskgraph.StatusFailed {
				return errors.New(res.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-depth", 3, "maximum decomposition depth")
	cmd.Flags().Int64Var(&concurrency, "concurrency", 4, "concurrent predictor slots")
	cmd.Flags().IntVar(&retryBudget, "retry-budget", 2, "re-executions allowed per node")
	cmd.Flags().StringVar(&mode, "injection-mode", "dependencies", "artifact injection mode (none|dependencies|full|subtask)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "optional timeout for the whole execution")
	return cmd
}

func printResult(cmd *cobra.Command, res *solver.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "execution: %s\n", res.ExecutionID)
	fmt.Fprintf(out, "status:    %s\n", res.Status)
	if res.Error != "" {
		fmt.Fprintf(out, "error:     %s\n", res.Error)
	} else {
		fmt.Fprintf(out, "result:    %s\n", res.Output)
	}
	fmt.Fprintf(out, "elapsed:   %s\n", res.Elapsed.Round(time.Millisecond))
	if len(res.Artifacts) > 0 {
		fmt.Fprintln(out, "artifacts:")
		for _, art := range res.Artifacts {
			fmt.Fprintf(out, "  %s  %s (%s, %s)\n", art.ID, art.Path, art.Type, art.Media)
		}
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the artifact registration HTTP surface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := observability.NewLogger(observability.LogConfig{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				Output: os.Stderr,
			})
			metrics, err := observability.NewEngineMetrics("", nil)
			if err != nil {
				return err
			}

			builder := artifact.NewBuilder(logger, artifact.WithPreviewBytes(cfg.Artifact.PreviewBytes))
			registry := artifact.NewRegistry(logger, artifact.WithObserver(metrics))
			srv := server.New(builder, registry, logger, server.Options{
				AllowedOrigins: cfg.Server.AllowedOrigins,
				MetricsEnabled: cfg.Server.MetricsEnabled,
			})

			httpSrv := &http.Server{
				Addr:              cfg.Server.ListenAddr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- httpSrv.ListenAndServe() }()
			logger.Info("artifact surface listening", "addr", cfg.Server.ListenAddr)

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					return err
				}
				registry.Clear()
			}
			return nil
		},
	}
	return cmd
}
