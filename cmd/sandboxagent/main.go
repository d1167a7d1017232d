package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arkeep-io/sandboxagent/internal/config"
	"github.com/arkeep-io/sandboxagent/internal/fileengine"
	"github.com/arkeep-io/sandboxagent/internal/httpapi"
	"github.com/arkeep-io/sandboxagent/internal/metrics"
	"github.com/arkeep-io/sandboxagent/internal/pathguard"
	"github.com/arkeep-io/sandboxagent/internal/portmonitor"
	"github.com/arkeep-io/sandboxagent/internal/procsup"
	"github.com/arkeep-io/sandboxagent/internal/session"
	"github.com/arkeep-io/sandboxagent/internal/wshub"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// shutdownDeadline bounds how long graceful shutdown waits for in-flight
// work before forcing exit 1 (spec §4.K, default 15 s).
const shutdownDeadline = 15 * time.Second

// portSnapshotTTL is Tₚ, the port monitor's cache window (spec §4.I,
// default 1 s).
const portSnapshotTTL = time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags config.Flags

	root := &cobra.Command{
		Use:   "sandboxagent",
		Short: "Sandbox agent — in-container file, process, and shell API",
		Long: `sandboxagent is a long-lived HTTP + WebSocket daemon that runs inside an
isolated container and exposes its filesystem, process table, and
interactive shells to a remote client over a token-authenticated API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&flags.Addr, "addr", "", "Listen address (env ADDR, default :9757)")
	root.PersistentFlags().StringVar(&flags.WorkspacePath, "workspace-path", "", "Workspace root (env WORKSPACE_PATH)")
	root.PersistentFlags().StringVar(&flags.Token, "token", "", "Bearer token (env TOKEN, random if unset)")
	root.PersistentFlags().StringVar(&flags.MaxFileSize, "max-file-size", "", "Max upload size in bytes (env MAX_FILE_SIZE)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "debug|info|warn|error (env LOG_LEVEL)")
	root.PersistentFlags().StringVar(&flags.MaxConcurrentReads, "max-concurrent-reads", "", "Shared I/O limiter size (env MAX_CONCURRENT_READS)")
	root.PersistentFlags().StringVar(&flags.ExcludedPorts, "excluded-ports", "", "Comma-separated ports hidden from the monitor (env EXCLUDED_PORTS)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sandboxagent %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, flags config.Flags) error {
	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting sandboxagent",
		zap.String("version", version),
		zap.String("addr", cfg.Addr),
		zap.String("workspace_path", cfg.WorkspacePath),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("token_auto_generated", cfg.TokenAutoGenerated),
	)
	if cfg.TokenAutoGenerated {
		logger.Warn("no TOKEN configured — generated one for this run",
			zap.String("token", cfg.Token),
			zap.String("hint", "set TOKEN or --token to pin it across restarts"),
		)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.WorkspacePath, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace root: %w", err)
	}
	guard, err := pathguard.New(cfg.WorkspacePath)
	if err != nil {
		return fmt.Errorf("failed to initialize path guard: %w", err)
	}
	engine := fileengine.New(guard, cfg.MaxFileSize, cfg.MaxConcurrentReads)

	hub := wshub.New(logger)
	sup := procsup.New(hub, logger)
	sessions := session.New("", hub, logger)
	hub.SetListers(sup, sessions)

	ports := portmonitor.New(portSnapshotTTL, cfg.ExcludedPorts)
	metricsReg := metrics.New()

	go hub.Run(ctx)
	go sup.StartReaper(ctx)
	go sessions.StartGC(ctx)
	go metricsReg.StartSampler(ctx)
	go sampleComponentGauges(ctx, metricsReg, sup, sessions, hub)

	router := httpapi.NewRouter(httpapi.Deps{
		Token:         cfg.Token,
		WorkspacePath: cfg.WorkspacePath,
		Logger:        logger,
		Metrics:       metricsReg,
		Engine:        engine,
		Supervisor:    sup,
		Sessions:      sessions,
		Hub:           hub,
		Ports:         ports,
	})

	httpSrv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server failed to start", zap.Error(err))
			return err
		}
	}

	return shutdown(logger, httpSrv, sup, sessions)
}

// shutdown drains in-flight HTTP work, closes every WebSocket with code
// 1001, terminates sessions, and signals surviving child processes
// (spec §4.K). Exceeding shutdownDeadline forces exit 1.
func shutdown(logger *zap.Logger, httpSrv *http.Server, sup *procsup.Supervisor, sessions *session.Manager) error {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server graceful shutdown error", zap.Error(err))
		}
		for _, sess := range sessions.List() {
			sessions.Terminate(sess.ID)
		}
		for _, rec := range sup.List() {
			if rec.Status == procsup.StatusRunning {
				sup.Kill(rec.ID, 0)
			}
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("sandboxagent stopped cleanly")
		return nil
	case <-shutdownCtx.Done():
		logger.Error("graceful shutdown deadline exceeded, forcing exit")
		os.Exit(1)
		return nil
	}
}

// sampleComponentGauges periodically mirrors live component counts onto
// the corresponding Prometheus gauges (spec §9 supplemented /metrics).
func sampleComponentGauges(ctx context.Context, m *metrics.Metrics, sup *procsup.Supervisor, sessions *session.Manager, hub *wshub.Hub) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			running := 0
			for _, rec := range sup.List() {
				if rec.Status == procsup.StatusRunning {
					running++
				}
			}
			m.ProcessesRunning.Set(float64(running))
			m.SessionsActive.Set(float64(len(sessions.List())))
			m.WebSocketClients.Set(float64(hub.ConnectedCount()))
		}
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
