package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/maia-bench/maia/internal/app"
	"github.com/maia-bench/maia/pkg/api"
	"github.com/maia-bench/maia/pkg/batch"
	"github.com/maia-bench/maia/pkg/config"
	"github.com/maia-bench/maia/pkg/dataset"
	"github.com/maia-bench/maia/pkg/pipeline/answer"
	"github.com/maia-bench/maia/pkg/pipeline/prefixeval"
	"github.com/maia-bench/maia/pkg/pipeline/qagen"
	"github.com/maia-bench/maia/pkg/pipeline/rewrite"
	"github.com/maia-bench/maia/pkg/storage"
)

// batchFlags are shared by the dataset commands.
type batchFlags struct {
	in          string
	out         string
	batchID     string
	concurrency int
	interval    time.Duration
	record      bool
}

func newBatchFlags(name string, cfg *config.Config) (*flag.FlagSet, *batchFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	bf := &batchFlags{}
	fs.StringVar(&bf.in, "in", "", "input file (required)")
	fs.StringVar(&bf.out, "out", "", "output file (required)")
	fs.StringVar(&bf.batchID, "batch-id", "", "batch ID for ledger records; empty generates one")
	fs.IntVar(&bf.concurrency, "concurrency", cfg.Batch.Concurrency, "items processed at once")
	fs.DurationVar(&bf.interval, "interval", cfg.Batch.Interval, "minimum spacing between item starts")
	fs.BoolVar(&bf.record, "record", true, "record every item in the configured ledger")
	return fs, bf
}

func (bf *batchFlags) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if bf.in == "" || bf.out == "" {
		return fmt.Errorf("%w: %s needs -in and -out", errUsage, fs.Name())
	}
	if bf.batchID != "" && !api.ValidateBatchID(bf.batchID) {
		return fmt.Errorf("%w: invalid batch ID %q", errUsage, bf.batchID)
	}
	return nil
}

func (bf *batchFlags) runner(ledger storage.Ledger) *batch.Runner {
	return &batch.Runner{
		BatchID:     bf.batchID,
		Concurrency: bf.concurrency,
		Interval:    bf.interval,
		Ledger:      ledger,
	}
}

func runAnswer(ctx context.Context, cfg *config.Config, args []string) error {
	fs, bf := newBatchFlags("answer", cfg)
	if err := bf.parse(fs, args); err != nil {
		return err
	}
	entries, err := dataset.Load(bf.in)
	if err != nil {
		return err
	}

	a, err := app.Open(ctx, cfg, app.Needs{Capabilities: true, Ledger: bf.record})
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.Engine()
	if err != nil {
		return err
	}
	p, err := answer.New(eng, a.Table)
	if err != nil {
		return err
	}

	r := bf.runner(a.Ledger)
	out, results, runErr := p.Run(ctx, r, entries)
	return finish(answer.Name, results, runErr, dataset.Save(bf.out, out), bf.out)
}

func runRewrite(ctx context.Context, cfg *config.Config, args []string) error {
	fs, bf := newBatchFlags("rewrite", cfg)
	if err := bf.parse(fs, args); err != nil {
		return err
	}
	entries, err := dataset.Load(bf.in)
	if err != nil {
		return err
	}

	a, err := app.Open(ctx, cfg, app.Needs{Ledger: bf.record})
	if err != nil {
		return err
	}
	defer a.Close()

	rc := rewrite.DefaultConfig(cfg.Provider.Model)
	rc.Attempts = cfg.Retry.Model.Attempts
	rc.BaseDelay = cfg.Retry.Model.BaseDelay
	rc.Timeout = cfg.Retry.Model.Timeout
	if cfg.Provider.Temperature != nil {
		rc.Temperature = *cfg.Provider.Temperature
	}
	p, err := rewrite.New(a.Provider, rc)
	if err != nil {
		return err
	}

	r := bf.runner(a.Ledger)
	out, results, runErr := p.Run(ctx, r, entries)
	return finish(rewrite.Name, results, runErr, dataset.Save(bf.out, out), bf.out)
}

func runGenerate(ctx context.Context, cfg *config.Config, args []string) error {
	fs, bf := newBatchFlags("generate", cfg)
	minLength := fs.Int("min-length", dataset.DefaultMinPathLength, "shortest path, in nodes, worth a question")
	if err := bf.parse(fs, args); err != nil {
		return err
	}
	paths, err := dataset.LoadPaths(bf.in)
	if err != nil {
		return err
	}
	jobs := qagen.Jobs(paths.Filter(*minLength))
	slog.Info("loaded paths", "templates", len(paths), "jobs", len(jobs))

	a, err := app.Open(ctx, cfg, app.Needs{Ledger: bf.record})
	if err != nil {
		return err
	}
	defer a.Close()

	qc := qagen.DefaultConfig(cfg.Provider.Model)
	qc.ModelPolicy = app.Policy(qagen.Name, cfg.Retry.Model)
	qc.CheckpointPath = bf.out
	qc.CheckpointEvery = cfg.Batch.CheckpointEvery
	if cfg.Provider.Temperature != nil {
		qc.Temperature = *cfg.Provider.Temperature
	}
	p, err := qagen.New(a.Provider, qc)
	if err != nil {
		return err
	}

	r := bf.runner(a.Ledger)
	// qagen paces at its own default when the interval is unset.
	_, results, runErr := p.Run(ctx, r, jobs)
	return finish(qagen.Name, results, runErr, nil, bf.out)
}

func runPrefixEval(ctx context.Context, cfg *config.Config, args []string) error {
	fs, bf := newBatchFlags("prefix-eval", cfg)
	ratio := fs.Float64("ratio", prefixeval.DefaultRatio, "share of question tokens given as the prefix")
	maxTokens := fs.Int("max-tokens", prefixeval.DefaultMaxTokens, "completion token limit")
	encoding := fs.String("encoding", "", "tiktoken encoding; empty picks the model's")
	if err := bf.parse(fs, args); err != nil {
		return err
	}
	entries, err := dataset.Load(bf.in)
	if err != nil {
		return err
	}

	var tok prefixeval.Tokenizer
	if *encoding != "" {
		tok, err = prefixeval.NewTiktoken(*encoding)
	} else {
		tok, err = prefixeval.TiktokenForModel(cfg.Provider.Model)
	}
	if err != nil {
		return err
	}

	a, err := app.Open(ctx, cfg, app.Needs{Ledger: bf.record})
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := prefixeval.New(a.Provider, tok, prefixeval.Config{
		Model:       cfg.Provider.Model,
		Ratio:       *ratio,
		MaxTokens:   *maxTokens,
		ModelPolicy: app.Policy(prefixeval.Name, cfg.Retry.Model),
	})
	if err != nil {
		return err
	}

	r := bf.runner(a.Ledger)
	report, results, runErr := p.Run(ctx, r, entries)
	if report != nil {
		slog.Info("prefix evaluation",
			"scored", len(report.Items),
			"skipped", report.Skipped,
			"rouge_l_mean", report.RougeL.Mean,
			"seq_ratio_mean", report.SeqRatio.Mean,
		)
	}
	return finish(prefixeval.Name, results, runErr, dataset.WriteJSON(bf.out, report), bf.out)
}

// finish logs the batch summary and reports the first failure. Item
// failures are in the summary and the ledger; only a cut-short batch or
// a failed write fails the command.
func finish[R any](pipeline string, results []batch.Result[R], runErr, saveErr error, out string) error {
	sum := batch.Summarize(results)
	slog.Info("batch finished",
		"batch_id", sum.BatchID,
		"pipeline", pipeline,
		"total", sum.Total,
		"completed", sum.Completed,
		"fallback", sum.Fallback,
		"aborted", sum.Aborted,
		"out", out,
	)
	if saveErr != nil {
		saveErr = fmt.Errorf("writing %s: %w", out, saveErr)
	}
	return errors.Join(runErr, saveErr)
}
