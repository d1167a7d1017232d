package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestHealthReturnsVersionAndUptime(t *testing.T) {
	h := NewHealthHandler(t.TempDir())

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	data := env.Data.(map[string]any)
	if data["version"] != "dev" {
		t.Errorf("version = %v, want dev", data["version"])
	}
	if _, ok := data["timestamp"]; !ok {
		t.Errorf("response missing timestamp field: %+v", data)
	}
}

func TestReadinessReportsFilesystemOK(t *testing.T) {
	h := NewHealthHandler(t.TempDir())

	w := httptest.NewRecorder()
	h.Readiness(w, httptest.NewRequest("GET", "/readiness", nil))

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	data := env.Data.(map[string]any)
	if data["ready"] != true {
		t.Fatalf("ready = %v, want true", data["ready"])
	}
	checks := data["checks"].(map[string]any)
	if checks["filesystem"] != true {
		t.Fatalf("checks.filesystem = %v, want true", checks["filesystem"])
	}
}

func TestReadinessReportsFilesystemFailureWhenWorkspaceMissing(t *testing.T) {
	h := NewHealthHandler("/nonexistent/path/for/sandboxagent-test")

	w := httptest.NewRecorder()
	h.Readiness(w, httptest.NewRequest("GET", "/readiness", nil))

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	data := env.Data.(map[string]any)
	if data["ready"] != false {
		t.Fatalf("ready = %v, want false when workspace path does not exist", data["ready"])
	}
}
