package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arkeep-io/sandboxagent/internal/fileengine"
	"github.com/arkeep-io/sandboxagent/internal/metrics"
	"github.com/arkeep-io/sandboxagent/internal/portmonitor"
	"github.com/arkeep-io/sandboxagent/internal/procsup"
	"github.com/arkeep-io/sandboxagent/internal/session"
	"github.com/arkeep-io/sandboxagent/internal/wshub"
)

// Deps bundles every component the router wires into handlers.
type Deps struct {
	Token         string
	WorkspacePath string
	Logger        *zap.Logger
	Metrics       *metrics.Metrics

	Engine     *fileengine.Engine
	Supervisor *procsup.Supervisor
	Sessions   *session.Manager
	Hub        *wshub.Hub
	Ports      *portmonitor.Monitor
}

// NewRouter builds the chi router with the exact route table and
// middleware order spec.md §6/§4.B specify: recovery → logger → metrics →
// auth, with /health, /readiness, and /metrics exempt from auth
// (spec §4.B, §9 "ambient /metrics endpoint").
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(TraceID())
	r.Use(Recover(deps.Logger))
	r.Use(RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(Metrics(deps.Metrics))
	}

	health := NewHealthHandler(deps.WorkspacePath)
	r.Get("/health", health.Health)
	r.Get("/readiness", health.Readiness)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	files := NewFilesHandler(deps.Engine)
	process := NewProcessHandler(deps.Supervisor)
	sessions := NewSessionsHandler(deps.Sessions)
	ports := NewPortsHandler(deps.Ports)
	ws := NewWSHandler(deps.Hub, deps.Logger)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(deps.Token))

		r.Route("/api/v1/files", func(r chi.Router) {
			r.Post("/write", files.Write)
			r.Get("/read", files.Read)
			r.Post("/list", files.List)
			r.Post("/delete", files.Delete)
			r.Post("/move", files.Move)
			r.Post("/rename", files.Rename)
			r.Post("/search", files.Search)
			r.Post("/find", files.Find)
			r.Post("/replace", files.Replace)
		})

		r.Route("/api/v1/process", func(r chi.Router) {
			r.Post("/exec", process.Exec)
			r.Post("/exec-sync", process.ExecSync)
			r.Get("/{id}/status", process.Status)
			r.Get("/{id}/logs", process.Logs)
			r.Post("/{id}/kill", process.Kill)
		})

		r.Route("/api/v1/sessions", func(r chi.Router) {
			r.Post("/create", sessions.Create)
			r.Get("/", sessions.List)
			r.Post("/{id}/exec", sessions.Exec)
			r.Post("/{id}/env", sessions.Env)
			r.Post("/{id}/cwd", sessions.Cwd)
			r.Post("/{id}/terminate", sessions.Terminate)
		})

		r.Get("/api/v1/ports", ports.List)

		r.Get("/ws", ws.Serve)
	})

	return r
}
