package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arkeep-io/sandboxagent/internal/portmonitor"
)

func TestPortsListReturnsSnapshot(t *testing.T) {
	h := NewPortsHandler(portmonitor.New(time.Minute, nil))

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest("GET", "/api/v1/ports", nil))

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	data := env.Data.(map[string]any)
	if _, ok := data["ports"]; !ok {
		t.Fatalf("response missing ports field: %+v", data)
	}
	if _, ok := data["takenAt"]; !ok {
		t.Fatalf("response missing takenAt field: %+v", data)
	}
}
