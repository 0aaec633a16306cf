// imclient runs one IM session: it connects, keeps the token fresh, and logs
// what arrives.
// Usage: go run ./cmd/imclient --config configs/imclient.example.yaml
//
// Signals:
//
//	SIGUSR1 - toggle "page hidden"
//	SIGUSR2 - toggle "offline"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/imsession/internal/api"
	"github.com/rickgao/imsession/internal/config"
	"github.com/rickgao/imsession/internal/database"
	"github.com/rickgao/imsession/internal/environment"
	"github.com/rickgao/imsession/internal/inbox"
	"github.com/rickgao/imsession/internal/journal"
	"github.com/rickgao/imsession/internal/model"
	"github.com/rickgao/imsession/internal/poller"
	"github.com/rickgao/imsession/internal/router"
	"github.com/rickgao/imsession/internal/session"
	"github.com/rickgao/imsession/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/imclient.example.yaml", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting imclient",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database if anything needs it
	var pool *pgxpool.Pool
	if cfg.NeedsDatabase() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := database.EnsureSchema(ctx, pool); err != nil {
			logger.Error("failed to prepare schema", "error", err)
			os.Exit(1)
		}
		logger.Info("database connected")
	}

	store, err := buildTokenStore(cfg, pool)
	if err != nil {
		logger.Error("failed to create token store", "error", err)
		os.Exit(1)
	}

	apiClient := api.NewClient(
		cfg.Server.APIURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)

	signals := environment.NewSignals(logger)
	go watchEnvironment(ctx, signals, logger)

	orch, err := session.New(ctx, sessionConfig(cfg),
		session.WithLogger(logger),
		session.WithTokenStore(store),
		session.WithTokenAPI(apiClient),
		session.WithProbe(signals),
	)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}

	orch.OnEvent(func(ev session.Event) { logEvent(logger, ev) })

	// Transition journal
	var jw *journal.Writer
	if cfg.Journal.Enabled {
		jw = journal.NewWriter(journalConfig(cfg), pool, orch.SessionID(), cfg.Instance.ID, logger)
		if err := jw.Start(ctx); err != nil {
			logger.Error("failed to start journal", "error", err)
			os.Exit(1)
		}
		orch.OnStateChange(jw.Record)
	}

	// Message router
	rtr := router.NewRouter(router.DefaultConfig(), logger)
	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}
	orch.OnMessage(rtr.Handle)

	buffers := rtr.Buffers()
	go printMessages(buffers.Private, logger)
	go printMessages(buffers.Group, logger)
	go printMessages(buffers.System, logger)

	// Status poller
	sources := []poller.Source{
		poller.NewSource("session", func(context.Context) (any, error) {
			return orch.Status(), nil
		}),
		poller.NewSource("router", func(context.Context) (any, error) {
			return rtr.Stats(), nil
		}),
	}
	if jw != nil {
		sources = append(sources, poller.NewSource("journal", func(context.Context) (any, error) {
			return jw.Stats(), nil
		}))
	}
	if pool != nil {
		sources = append(sources, poller.NewSource("database", func(ctx context.Context) (any, error) {
			if err := pool.Ping(ctx); err != nil {
				return nil, err
			}
			return "connected", nil
		}))
	}

	statusPoller := poller.New(poller.Config{
		Interval:    cfg.Health.StatusInterval,
		Concurrency: 2,
		Timeout:     5 * time.Second,
	}, sources, poller.SnapshotHandlerFunc(func(s poller.Snapshot) error {
		if st, ok := s.Values["session"].(session.Status); ok {
			logger.Info("status", statusAttrs(st)...)
		}
		return nil
	}), logger)
	if err := statusPoller.Start(ctx); err != nil {
		logger.Error("failed to start status poller", "error", err)
		os.Exit(1)
	}

	// Health server
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(orch, statusPoller),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	if err := orch.Connect(); err != nil {
		logger.Error("failed to connect", "error", err)
	}

	logger.Info("imclient running",
		"session_id", orch.SessionID(),
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	healthServer.Shutdown(shutdownCtx)
	statusPoller.Stop(shutdownCtx)
	orch.Close()
	rtr.Stop(shutdownCtx)
	if jw != nil {
		jw.Stop(shutdownCtx)
	}

	logger.Info("imclient stopped")
}

// watchEnvironment maps SIGUSR1/SIGUSR2 onto the page-hidden and offline
// signals.
func watchEnvironment(ctx context.Context, signals *environment.Signals, logger *slog.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			switch sig {
			case syscall.SIGUSR1:
				logger.Info("page hidden toggled", "hidden", signals.TogglePageHidden())
			case syscall.SIGUSR2:
				logger.Info("offline toggled", "offline", signals.ToggleOffline())
			}
		}
	}
}

func logEvent(logger *slog.Logger, ev session.Event) {
	switch ev.Kind {
	case session.EventConnected, session.EventReconnecting:
		logger.Info("session event", "event", ev.Kind, "attempt", ev.Attempt)
	case session.EventReconnectScheduled:
		logger.Info("session event", "event", ev.Kind, "attempt", ev.Attempt, "delay", ev.Delay)
	case session.EventDisconnected, session.EventClosed:
		logger.Info("session event", "event", ev.Kind, "code", ev.Code, "reason", ev.Reason)
	case session.EventTokenRotated:
		logger.Info("session event", "event", ev.Kind, "source", ev.Source)
	case session.EventKicked, session.EventGaveUp:
		logger.Warn("session event", "event", ev.Kind, "reason", ev.Reason, "attempt", ev.Attempt)
	case session.EventSessionExpiring, session.EventError:
		logger.Error("session event", "event", ev.Kind, "error", ev.Err)
	default:
		logger.Debug("session event", "event", ev.Kind)
	}
}

// printMessages logs chat frames until buf is closed.
func printMessages(buf *inbox.Queue[model.ChatMessage], logger *slog.Logger) {
	for {
		msg, ok := buf.Pop()
		if !ok {
			return
		}
		logger.Info("message",
			"kind", msg.Kind(),
			"from", msg.FromID,
			"to", msg.ToID,
			"group", msg.GroupID,
			"user", msg.Username,
			"content", msg.Content,
		)
	}
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(orch *session.Orchestrator, statusPoller *poller.Poller) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		st := orch.Status()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     healthStatus(st),
			Components: make(map[string]interface{}),
		}

		health.Components["session"] = map[string]interface{}{
			"session_id":         st.SessionID,
			"state":              st.State.String(),
			"ready_state":        st.ReadyState.String(),
			"reconnect_attempts": st.ReconnectAttempts,
			"pending_reconnect":  st.PendingReconnect,
			"has_token":          st.HasToken,
			"kicked":             st.Kicked,
			"disconnect_reason":  st.Metadata.DisconnectReason,
		}

		snap := statusPoller.Latest()
		if err, ok := snap.Errors["database"]; ok {
			health.Status = "unhealthy"
			health.Components["database"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else if v, ok := snap.Values["database"]; ok {
			health.Components["database"] = v
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/timers", func(w http.ResponseWriter, r *http.Request) {
		entries := orch.Timers()
		out := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			out = append(out, map[string]interface{}{
				"name":       e.Name,
				"kind":       e.Kind.String(),
				"delay":      e.Delay.String(),
				"created_at": e.CreatedAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":  len(out),
			"timers": out,
		})
	})

	mux.HandleFunc("/debug/status", func(w http.ResponseWriter, r *http.Request) {
		snap := statusPoller.Latest()
		errs := make(map[string]string, len(snap.Errors))
		for name, err := range snap.Errors {
			errs[name] = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"taken":  snap.Taken,
			"values": snap.Values,
			"errors": errs,
		})
	})

	return mux
}
