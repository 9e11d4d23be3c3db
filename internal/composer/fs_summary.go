package composer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// summarizeDir produces a bounded one-level listing of root for the
// fundamental layer. Unreadable directories yield an empty summary.
func summarizeDir(root string, maxEntries int) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	truncated := false
	if maxEntries > 0 && len(names) > maxEntries {
		names = names[:maxEntries]
		truncated = true
	}
	summary := fmt.Sprintf("%s: %s", filepath.Clean(root), strings.Join(names, ", "))
	if truncated {
		summary += ", …"
	}
	return summary
}
