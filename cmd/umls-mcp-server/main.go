// Command umls-mcp-server publishes the terminology capabilities over MCP
// (streamable HTTP) and, when a NATS URL is given, over the NATS
// capability protocol. The terminology store comes from the terminology
// section of the maia configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/maia-bench/maia/internal/app"
	"github.com/maia-bench/maia/pkg/capability"
	"github.com/maia-bench/maia/pkg/capability/builtins"
	"github.com/maia-bench/maia/pkg/capability/mcp"
	"github.com/maia-bench/maia/pkg/capability/natsrpc"
	"github.com/maia-bench/maia/pkg/config"
	"github.com/maia-bench/maia/pkg/debug"
)

const version = "0.1.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("umls-mcp-server failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("umls-mcp-server", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the maia config file")
	addr := fs.String("addr", ":8090", "HTTP listen address")
	path := fs.String("path", "/mcp", "MCP endpoint path")
	families := fs.String("families", "umls,oncology", "comma-separated builtin families to publish")
	natsURL := fs.String("nats-url", "", "also serve over NATS at this URL")
	natsPrefix := fs.String("nats-prefix", "maia.umls", "NATS subject prefix")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	debug.Init(debug.Options{
		Categories: cfg.Observability.Debug,
		Level:      cfg.Observability.LogLevel,
		Format:     cfg.Observability.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := app.OpenTerminology(ctx, cfg.Terminology)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("terminology type is none; configure a memory fixture or postgres")
	}
	defer store.Close()

	sources, err := builtins.Sources(builtins.Options{
		Enabled:     splitList(*families),
		Terminology: store,
	})
	if err != nil {
		return err
	}
	_, table, err := capability.Assemble(sources...)
	if err != nil {
		return err
	}

	if *natsURL != "" {
		nc, err := natsrpc.Connect(*natsURL, "umls-mcp-server")
		if err != nil {
			return err
		}
		defer nc.Close()
		ns, err := natsrpc.Serve(nc, *natsPrefix, table, natsrpc.ServerOptions{})
		if err != nil {
			return err
		}
		defer ns.Close()
		slog.Info("serving over NATS", "url", *natsURL, "prefix", *natsPrefix)
	}

	mux := http.NewServeMux()
	mux.Handle(*path, mcp.Handler(mcp.NewServer("maia-umls", version, table)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("MCP server starting", "addr", *addr, "path", *path, "capabilities", table.Registry().Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("serving MCP: %w", err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
