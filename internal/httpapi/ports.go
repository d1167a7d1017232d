package httpapi

import (
	"net/http"

	"github.com/arkeep-io/sandboxagent/internal/portmonitor"
)

// PortsHandler serves GET /api/v1/ports (spec §4.I; exposed as a
// supplemented route since spec.md never wires the monitor to a client).
type PortsHandler struct {
	monitor *portmonitor.Monitor
}

func NewPortsHandler(monitor *portmonitor.Monitor) *PortsHandler {
	return &PortsHandler{monitor: monitor}
}

func (h *PortsHandler) List(w http.ResponseWriter, r *http.Request) {
	ports, takenAt := h.monitor.Snapshot()
	writeJSON(w, map[string]any{"ports": ports, "takenAt": takenAt})
}
