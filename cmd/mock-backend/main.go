// Command mock-backend runs a scripted Chat Completions server for local
// runs and end-to-end tests without a real model. It calls the first
// offered tool once, answers from the tool result, honors JSON response
// formats and can fail every Nth request to exercise retries.
//
// Configuration:
//
//	MOCK_PORT       - Listen port (default: 9090)
//	MOCK_FAIL_EVERY - Answer every Nth request with 503 (default: 0, never)
//	MOCK_LATENCY    - Delay before every response (default: 0)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type settings struct {
	Port      string        `default:"9090"`
	FailEvery int           `split_words:"true"`
	Latency   time.Duration `default:"0s"`
}

func main() {
	var s settings
	if err := envconfig.Process("MOCK", &s); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	b := &backend{failEvery: s.FailEvery, latency: s.Latency}
	srv := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           b.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", s.Port, "fail_every", s.FailEvery)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
