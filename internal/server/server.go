// Package server exposes the artifact registration surface to external tool
// collaborators over HTTP.
package server

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentient-agi/ROMA-sub000/internal/artifact"
	"github.com/sentient-agi/ROMA-sub000/internal/observability"
	"github.com/sentient-agi/ROMA-sub000/internal/taskerr"
)

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	MetricsEnabled bool
}

// Server wires the artifact builder and registry behind HTTP handlers.
type Server struct {
	builder  *artifact.Builder
	registry *artifact.Registry
	logger   *observability.Logger
	opts     Options
}

// New constructs the HTTP surface over one execution-scoped registry.
func New(builder *artifact.Builder, registry *artifact.Registry, logger *observability.Logger, opts Options) *Server {
	return &Server{
		builder:  builder,
		registry: registry,
		logger:   observability.OrNop(logger),
		opts:     opts,
	}
}

// Router builds the gin engine with every route attached.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if len(s.opts.AllowedOrigins) > 0 {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = s.opts.AllowedOrigins
		router.Use(cors.New(corsCfg))
	}

	router.GET("/healthz", s.handleHealth)
	if s.opts.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api")
	{
		api.POST("/artifacts", s.handleRegister)
		api.POST("/artifacts/batch", s.handleRegisterBatch)
		api.GET("/artifacts", s.handleList)
		api.GET("/artifacts/:id", s.handleGet)
		api.GET("/artifacts/:id/lineage", s.handleLineage)
		api.GET("/artifacts/:id/descendants", s.handleDescendants)
		api.GET("/stats", s.handleStats)
	}
	return router
}

// RegisterRequest is one artifact registration item.
type RegisterRequest struct {
	Path        string `json:"path" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Description string `json:"description"`
	Task        string `json:"task"`
	Module      string `json:"module"`
	// DerivedFrom holds comma-separated parent artifact ids.
	DerivedFrom string `json:"derived_from"`
}

// BatchRegisterRequest carries multiple registration items.
type BatchRegisterRequest struct {
	Items []RegisterRequest `json:"items" binding:"required"`
}

// BatchFailure itemizes one rejected registration.
type BatchFailure struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchRegisterResponse reports partial success: accepted summaries plus
// per-item failures.
type BatchRegisterResponse struct {
	Artifacts []artifact.Summary `json:"artifacts"`
	Failures  []BatchFailure     `json:"failures"`
}

func (s *Server) build(req RegisterRequest) (*artifact.Artifact, error) {
	module := req.Module
	if module == "" {
		module = "http"
	}
	return s.builder.Build(artifact.BuildRequest{
		Path:            req.Path,
		Name:            req.Name,
		Type:            artifact.Type(req.Type),
		Description:     req.Description,
		CreatedByTask:   req.Task,
		CreatedByModule: module,
		DerivedFrom:     splitLineage(req.DerivedFrom),
	})
}

func (s *Server) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	art, err := s.build(req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	stored, err := s.registry.Register(art)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, stored.Summarize())
}

func (s *Server) handleRegisterBatch(c *gin.Context) {
	var req BatchRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := BatchRegisterResponse{Failures: []BatchFailure{}}
	accepted := make([]*artifact.Artifact, 0, len(req.Items))
	for i, item := range req.Items {
		art, err := s.build(item)
		if err != nil {
			resp.Failures = append(resp.Failures, BatchFailure{Index: i, Error: err.Error()})
			continue
		}
		accepted = append(accepted, art)
	}

	stored, err := s.registry.RegisterBatch(accepted)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	resp.Artifacts = make([]artifact.Summary, 0, len(stored))
	for _, art := range stored {
		resp.Artifacts = append(resp.Artifacts, art.Summarize())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleList(c *gin.Context) {
	var arts []*artifact.Artifact
	switch {
	case c.Query("task") != "":
		arts = s.registry.GetByTask(c.Query("task"))
	case c.Query("type") != "":
		arts = s.registry.GetByType(artifact.Type(c.Query("type")))
	case c.Query("media") != "":
		arts = s.registry.GetByMedia(artifact.MediaType(c.Query("media")))
	default:
		arts = s.registry.GetAll()
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": summaries(arts)})
}

func (s *Server) handleGet(c *gin.Context) {
	art, ok := s.registry.GetByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": taskerr.NewNotFound("artifact", c.Param("id")).Error()})
		return
	}
	c.JSON(http.StatusOK, art)
}

func (s *Server) handleLineage(c *gin.Context) {
	if _, ok := s.registry.GetByID(c.Param("id")); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": taskerr.NewNotFound("artifact", c.Param("id")).Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": summaries(s.registry.GetLineage(c.Param("id")))})
}

func (s *Server) handleDescendants(c *gin.Context) {
	if _, ok := s.registry.GetByID(c.Param("id")); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": taskerr.NewNotFound("artifact", c.Param("id")).Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": summaries(s.registry.GetDescendants(c.Param("id")))})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.GetStats())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case taskerr.IsValidation(err):
		return http.StatusBadRequest
	case taskerr.IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func summaries(arts []*artifact.Artifact) []artifact.Summary {
	out := make([]artifact.Summary, 0, len(arts))
	for _, art := range arts {
		out = append(out, art.Summarize())
	}
	return out
}

func splitLineage(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if id := strings.TrimSpace(p); id != "" {
			out = append(out, id)
		}
	}
	return out
}
