package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arkeep-io/sandboxagent/internal/apierr"
	"github.com/arkeep-io/sandboxagent/internal/session"
)

// SessionsHandler serves every /api/v1/sessions/* route (spec §4.G, §6).
type SessionsHandler struct {
	manager *session.Manager
}

func NewSessionsHandler(manager *session.Manager) *SessionsHandler {
	return &SessionsHandler{manager: manager}
}

type createSessionBody struct {
	WorkingDir string            `json:"workingDir"`
	Env        map[string]string `json:"env"`
	Shell      string            `json:"shell"`
}

// Create spawns a new interactive shell session (spec §4.G "Create").
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createSessionBody
	if r.ContentLength != 0 {
		if aerr := decodeJSON(r, &body); aerr != nil {
			writeError(w, aerr)
			return
		}
	}
	sess, aerr := h.manager.Create(body.WorkingDir, body.Env, body.Shell)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, sess.Snapshot())
}

// List returns every live session.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.manager.List())
}

type execSessionBody struct {
	Command string `json:"command"`
}

// Exec runs a command in an existing session (spec §4.G "Exec-in-session").
func (h *SessionsHandler) Exec(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body execSessionBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	if body.Command == "" {
		writeError(w, apierr.Validation("command is required"))
		return
	}
	result, aerr := h.manager.Exec(r.Context(), id, body.Command)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, map[string]any{
		"output":   result.Output,
		"exitCode": result.ExitCode,
		"timedOut": result.TimedOut,
	})
}

type envSessionBody struct {
	Env map[string]string `json:"env"`
}

// Env exports additional variables into a session's shell (spec §4.G
// "Mutate env").
func (h *SessionsHandler) Env(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body envSessionBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	if aerr := h.manager.MutateEnv(id, body.Env); aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSONMessage(w, "env updated", nil)
}

type cwdSessionBody struct {
	Path string `json:"path"`
}

// Cwd changes a session's working directory (spec §4.G "Change dir").
func (h *SessionsHandler) Cwd(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body cwdSessionBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	if body.Path == "" {
		writeError(w, apierr.Validation("path is required"))
		return
	}
	if aerr := h.manager.ChangeDir(id, body.Path); aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSONMessage(w, "cwd updated", nil)
}

// Terminate ends a session (spec §4.G "Terminate").
func (h *SessionsHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if aerr := h.manager.Terminate(id); aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSONMessage(w, "terminated", nil)
}
