// imdevserver is a local IM server for exercising imclient.
// Usage: go run ./cmd/imdevserver --addr :8090 --token dev-token
//
// It serves /socket (websocket, ?token= required) and the
// /im/checkWsTokenExpiry, /im/renewWsToken and /im/heartbeat endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	seedToken := flag.String("token", "dev-token", "token accepted at startup")
	ttl := flag.Duration("token-ttl", 30*time.Minute, "lifetime of issued tokens")
	dropAfter := flag.Duration("drop-after", 0, "drop each socket abruptly after this long (0 = never)")
	verbose := flag.Bool("verbose", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	srv := newServer(*ttl, *dropAfter, logger)
	srv.seed(*seedToken)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: srv.handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("dev server listening",
			"addr", *addr,
			"token", *seedToken,
			"token_ttl", *ttl,
			"drop_after", *dropAfter,
		)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	logger.Info("dev server stopped")
}
