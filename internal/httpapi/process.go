package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arkeep-io/sandboxagent/internal/apierr"
	"github.com/arkeep-io/sandboxagent/internal/procsup"
)

// ProcessHandler serves every /api/v1/process/* route (spec §4.F, §6).
type ProcessHandler struct {
	sup *procsup.Supervisor
}

func NewProcessHandler(sup *procsup.Supervisor) *ProcessHandler {
	return &ProcessHandler{sup: sup}
}

type execBody struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Cwd     string            `json:"cwd"`
	Env     map[string]string `json:"env"`
	Shell   bool              `json:"shell"`
	Timeout int               `json:"timeout"` // seconds
}

func (b execBody) toRequest() procsup.ExecRequest {
	var timeout time.Duration
	if b.Timeout > 0 {
		timeout = time.Duration(b.Timeout) * time.Second
	}
	return procsup.ExecRequest{
		Command: b.Command,
		Args:    b.Args,
		Cwd:     b.Cwd,
		Env:     b.Env,
		Shell:   b.Shell,
		Timeout: timeout,
	}
}

// Exec spawns a process asynchronously (spec §4.F "Exec (async)").
func (h *ProcessHandler) Exec(w http.ResponseWriter, r *http.Request) {
	var body execBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	if body.Command == "" {
		writeError(w, apierr.Validation("command is required"))
		return
	}
	rec, aerr := h.sup.Exec(r.Context(), body.toRequest())
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, rec.Snapshot())
}

// ExecSync spawns a process and blocks until it finishes (spec §4.F
// "Exec (sync)").
func (h *ProcessHandler) ExecSync(w http.ResponseWriter, r *http.Request) {
	var body execBody
	if aerr := decodeJSON(r, &body); aerr != nil {
		writeError(w, aerr)
		return
	}
	if body.Command == "" {
		writeError(w, apierr.Validation("command is required"))
		return
	}
	result, aerr := h.sup.ExecSync(r.Context(), body.toRequest())
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, map[string]any{
		"exitCode": result.ExitCode,
		"stdout":   result.Stdout,
		"stderr":   result.Stderr,
		"duration": result.Duration.Seconds(),
	})
}

// Status returns a process's current record (spec §4.F "Status").
func (h *ProcessHandler) Status(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec := h.sup.Get(id)
	if rec == nil {
		writeError(w, apierr.NotFound("process not found: "+id))
		return
	}
	writeJSON(w, rec.Snapshot())
}

// Logs returns the last `tail` lines of each stream (spec §4.F "Logs").
func (h *ProcessHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tail := 0
	if t := r.URL.Query().Get("tail"); t != "" {
		n, err := strconv.Atoi(t)
		if err != nil {
			writeError(w, apierr.Validation("tail must be an integer"))
			return
		}
		tail = n
	}
	stdout, stderr, aerr := h.sup.Logs(id, tail)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSON(w, map[string]any{"stdout": stdout, "stderr": stderr})
}

type killBody struct {
	Signal string `json:"signal"`
}

// Kill sends a signal to a process (spec §4.F "Kill").
func (h *ProcessHandler) Kill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body killBody
	if r.ContentLength != 0 {
		if aerr := decodeJSON(r, &body); aerr != nil {
			writeError(w, aerr)
			return
		}
	}
	sig, aerr := parseSignal(body.Signal)
	if aerr != nil {
		writeError(w, aerr)
		return
	}
	if aerr := h.sup.Kill(id, sig); aerr != nil {
		writeError(w, aerr)
		return
	}
	writeJSONMessage(w, "signal sent", nil)
}

func parseSignal(name string) (int, *apierr.Error) {
	switch strings.ToUpper(name) {
	case "", "SIGTERM", "TERM":
		return 15, nil
	case "SIGKILL", "KILL":
		return 9, nil
	case "SIGINT", "INT":
		return 2, nil
	case "SIGHUP", "HUP":
		return 1, nil
	default:
		return 0, apierr.Validation("unsupported signal: " + name)
	}
}
