package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/arkeep-io/sandboxagent/internal/apierr"
	"github.com/arkeep-io/sandboxagent/internal/session"
)

func newTestSessionsHandler(t *testing.T) *SessionsHandler {
	t.Helper()
	return NewSessionsHandler(session.New("/bin/sh", noopSessionSink{}, zap.NewNop()))
}

type noopSessionSink struct{}

func (noopSessionSink) PublishSessionLog(sessionID, stream, line string) {}
func (noopSessionSink) PublishSessionClosed(sessionID string)            {}

func createTestSession(t *testing.T, h *SessionsHandler) session.Snapshot {
	t.Helper()
	w := httptest.NewRecorder()
	h.Create(w, httptest.NewRequest("POST", "/api/v1/sessions", strings.NewReader(`{}`)))
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	data, _ := json.Marshal(env.Data)
	var snap session.Snapshot
	json.Unmarshal(data, &snap)
	if snap.ID == "" {
		t.Fatalf("Create() did not return a session id, body = %s", w.Body.String())
	}
	return snap
}

func TestCreateSessionReturnsActiveSnapshot(t *testing.T) {
	h := newTestSessionsHandler(t)
	snap := createTestSession(t, h)
	if snap.Status != session.StatusActive {
		t.Fatalf("Status = %v, want active", snap.Status)
	}
}

func TestListIncludesCreatedSession(t *testing.T) {
	h := newTestSessionsHandler(t)
	snap := createTestSession(t, h)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest("GET", "/api/v1/sessions", nil))
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	data, _ := json.Marshal(env.Data)
	var snaps []session.Snapshot
	json.Unmarshal(data, &snaps)

	found := false
	for _, s := range snaps {
		if s.ID == snap.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("List() = %+v, missing session %s", snaps, snap.ID)
	}
}

func TestExecRejectsEmptyCommand(t *testing.T) {
	h := newTestSessionsHandler(t)
	snap := createTestSession(t, h)

	w := httptest.NewRecorder()
	r := requestWithURLParam("POST", "/api/v1/sessions/"+snap.ID+"/exec", `{"command":""}`, "id", snap.ID)
	h.Exec(w, r)

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Status != apierr.StatusValidation {
		t.Fatalf("status = %v, want StatusValidation", env.Status)
	}
}

func TestExecOnUnknownSessionIsNotFound(t *testing.T) {
	h := newTestSessionsHandler(t)
	w := httptest.NewRecorder()
	r := requestWithURLParam("POST", "/api/v1/sessions/nope/exec", `{"command":"echo hi"}`, "id", "nope")
	h.Exec(w, r)

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Status != apierr.StatusNotFound {
		t.Fatalf("status = %v, want StatusNotFound", env.Status)
	}
}

func TestCwdRejectsEmptyPath(t *testing.T) {
	h := newTestSessionsHandler(t)
	snap := createTestSession(t, h)

	w := httptest.NewRecorder()
	r := requestWithURLParam("POST", "/api/v1/sessions/"+snap.ID+"/cwd", `{"path":""}`, "id", snap.ID)
	h.Cwd(w, r)

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Status != apierr.StatusValidation {
		t.Fatalf("status = %v, want StatusValidation", env.Status)
	}
}

func TestEnvUpdatesSessionEnvironment(t *testing.T) {
	h := newTestSessionsHandler(t)
	snap := createTestSession(t, h)

	w := httptest.NewRecorder()
	r := requestWithURLParam("POST", "/api/v1/sessions/"+snap.ID+"/env", `{"env":{"FOO":"bar"}}`, "id", snap.ID)
	h.Env(w, r)

	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Status != apierr.StatusOK {
		t.Fatalf("Env() status = %v, want OK", env.Status)
	}
}

func TestTerminateEndsSession(t *testing.T) {
	h := newTestSessionsHandler(t)
	snap := createTestSession(t, h)

	w := httptest.NewRecorder()
	r := requestWithURLParam("POST", "/api/v1/sessions/"+snap.ID+"/terminate", "", "id", snap.ID)
	h.Terminate(w, r)
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	w2 := httptest.NewRecorder()
	r2 := requestWithURLParam("POST", "/api/v1/sessions/"+snap.ID+"/terminate", "", "id", snap.ID)
	h.Terminate(w2, r2)
	var env envelope
	json.Unmarshal(w2.Body.Bytes(), &env)
	if env.Status != apierr.StatusNotFound {
		t.Fatalf("second Terminate() status = %v, want StatusNotFound", env.Status)
	}
}

func TestTerminateOnUnknownSessionIsNotFound(t *testing.T) {
	h := newTestSessionsHandler(t)
	w := httptest.NewRecorder()
	r := requestWithURLParam("POST", "/api/v1/sessions/nope/terminate", "", "id", "nope")
	h.Terminate(w, r)

	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Status != apierr.StatusNotFound {
		t.Fatalf("status = %v, want StatusNotFound", env.Status)
	}
}
