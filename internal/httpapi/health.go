package httpapi

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/arkeep-io/sandboxagent/internal/traceid"
)

// version is the build-time version string. Overridden by -ldflags in
// release builds; left as "dev" otherwise, matching the teacher's
// cmd/server version var.
var version = "dev"

// HealthHandler serves /health and /readiness, neither of which requires
// auth (spec §4.J).
type HealthHandler struct {
	startedAt     time.Time
	workspacePath string
}

func NewHealthHandler(workspacePath string) *HealthHandler {
	return &HealthHandler{startedAt: time.Now(), workspacePath: workspacePath}
}

// Health returns {timestamp, uptime, version} (spec §4.J).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startedAt).Seconds(),
		"version":   version,
	})
}

// Readiness performs one write-then-delete probe in a temp path under the
// workspace and reports {ready, checks:{filesystem}} (spec §4.J).
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	fsOK := h.probeFilesystem()
	writeJSON(w, map[string]any{
		"ready":  fsOK,
		"checks": map[string]bool{"filesystem": fsOK},
	})
}

func (h *HealthHandler) probeFilesystem() bool {
	probe := filepath.Join(h.workspacePath, ".sandboxagent-readiness-"+traceid.New())
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return false
	}
	return os.Remove(probe) == nil
}
