package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/maia-bench/maia/internal/app"
	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/config"
	"github.com/maia-bench/maia/pkg/transport"
)

func runAsk(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "print the full response as JSON")
	record := fs.Bool("record", false, "record the run in the configured ledger")
	if err := fs.Parse(args); err != nil {
		return err
	}

	question, err := readQuestion(fs.Args(), os.Stdin)
	if err != nil {
		return err
	}

	a, err := app.Open(ctx, cfg, app.Needs{Capabilities: true, Ledger: *record})
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.Engine()
	if err != nil {
		return err
	}
	answerer := &transport.EngineAnswerer{
		Engine:     eng,
		Registry:   a.Registry,
		Table:      a.Table,
		Ledger:     a.Ledger,
		RunTimeout: cfg.Server.RunTimeout,
	}
	resp, err := answerer.Answer(ctx, &api.AnswerRequest{Question: question})
	if err != nil {
		return err
	}
	return printAnswer(os.Stdout, resp, *asJSON)
}

// readQuestion joins the arguments, or reads stdin when there are none or
// the only argument is "-".
func readQuestion(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading question: %w", err)
		}
		args = []string{string(data)}
	}
	q := strings.TrimSpace(strings.Join(args, " "))
	if q == "" {
		return "", fmt.Errorf("%w: ask needs a question", errUsage)
	}
	return q, nil
}

func printAnswer(w io.Writer, resp *api.AnswerResponse, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	if _, err := fmt.Fprintln(w, resp.Answer); err != nil {
		return err
	}
	if resp.Error != nil {
		fmt.Fprintf(os.Stderr, "run %s ended %s: %s\n", resp.RunID, resp.Status, resp.Error.Message)
	}
	return nil
}
