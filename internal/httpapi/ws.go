package httpapi

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/arkeep-io/sandboxagent/internal/wshub"
)

// WSHandler upgrades GET /ws connections into the hub (spec §4.H, §6).
type WSHandler struct {
	hub    *wshub.Hub
	logger *zap.Logger
}

func NewWSHandler(hub *wshub.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: hub, logger: logger}
}

func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	client, err := wshub.NewClient(h.hub, w, r, h.logger)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	client.Run()
}
