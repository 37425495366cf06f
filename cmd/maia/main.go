// Command maia answers medical questions with a tool-calling model and
// runs the dataset pipelines built on the same orchestrator.
//
// Usage:
//
//	maia [-config file] <command> [flags]
//
// Commands:
//
//	ask          answer one question and print the result
//	answer       answer every question in a dataset file
//	rewrite      rewrite dataset entries into the structured answer format
//	generate     generate question-answer pairs from UMLS paths
//	prefix-eval  score completions of question prefixes
//	serve        run the HTTP API
//
// Settings come from a YAML file and MAIA_* environment variables; see
// pkg/config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maia-bench/maia/pkg/config"
	"github.com/maia-bench/maia/pkg/debug"
	"github.com/maia-bench/maia/pkg/observability"
)

var errUsage = errors.New("usage")

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, cfg *config.Config, args []string) error
}

var commands = []command{
	{"ask", "answer one question and print the result", runAsk},
	{"answer", "answer every question in a dataset file", runAnswer},
	{"rewrite", "rewrite dataset entries into the structured answer format", runRewrite},
	{"generate", "generate question-answer pairs from UMLS paths", runGenerate},
	{"prefix-eval", "score completions of question prefixes", runPrefixEval},
	{"serve", "run the HTTP API", runServe},
}

func main() {
	err := run(os.Args[1:])
	switch {
	case err == nil:
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	default:
		slog.Error("maia failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("maia", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML config file")
	fs.Usage = usage(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	name := fs.Arg(0)
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "maia: unknown command %q\n", name)
		fs.Usage()
		return errUsage
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

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Enabled:  cfg.Observability.Tracing.Enabled,
		Exporter: cfg.Observability.Tracing.Exporter,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("flushing traces", "error", err)
		}
	}()

	return cmd.run(ctx, cfg, fs.Args()[1:])
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		w := fs.Output()
		fmt.Fprintln(w, "Usage: maia [-config file] <command> [flags]")
		fmt.Fprintln(w, "\nCommands:")
		for _, c := range commands {
			fmt.Fprintf(w, "  %-12s %s\n", c.name, c.summary)
		}
		fmt.Fprintln(w, "\nFlags:")
		fs.PrintDefaults()
	}
}
