package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/epistlab/epist"
	"github.com/epistlab/epist/backend"
	"github.com/epistlab/epist/cases"
	"github.com/epistlab/epist/pipeline"
	"github.com/epistlab/epist/trace"
)

var runFlags struct {
	file     string
	caseID   string
	parallel int
	host     string
	model    string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cases of a case file through the pipeline",
	Long: `Run loads a YAML case file, executes each case through the reasoning
pipeline, and writes the final state and a human-readable run log per
case into the configured output directory.

Each individual run is strictly sequential; --parallel only bounds how
many independent cases are in flight at once.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCases(cmd)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runFlags.file, "file", "f", "cases.yaml", "Case file to load")
	runCmd.Flags().StringVar(&runFlags.caseID, "case", "", "Run only the case with this id")
	runCmd.Flags().IntVar(&runFlags.parallel, "parallel", 1, "Maximum cases in flight at once")
	runCmd.Flags().StringVar(&runFlags.host, "host", "", "Backend host (overrides the case file)")
	runCmd.Flags().StringVar(&runFlags.model, "model", "", "Model id (overrides the case file)")
	rootCmd.AddCommand(runCmd)
}

func runCases(cmd *cobra.Command) error {
	cfg, err := cases.Load(runFlags.file)
	if err != nil {
		return err
	}
	if runFlags.host != "" {
		cfg.Host = runFlags.host
	}
	if runFlags.model != "" {
		cfg.Model = runFlags.model
	}

	selected := cfg.Cases
	if runFlags.caseID != "" {
		cs, ok := cfg.Lookup(runFlags.caseID)
		if !ok {
			return fmt.Errorf("case %q not found in %s", runFlags.caseID, runFlags.file)
		}
		selected = []cases.Case{cs}
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := trace.NewSlog(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))

	exec := backend.New(cfg.Host)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(runFlags.parallel, 1))

	for _, cs := range selected {
		cs := cs
		g.Go(func() error {
			if err := runOne(ctx, cfg, cs, exec, logger); err != nil {
				return fmt.Errorf("case %s: %w", cs.ID, err)
			}
			logger.Info(ctx, "case completed", "case", cs.ID)
			return nil
		})
	}
	return g.Wait()
}

func runOne(ctx context.Context, cfg *cases.Config, cs cases.Case, exec epist.Executor, logger epist.Logger) error {
	caseDir := filepath.Join(cfg.OutputDir, cs.ID)
	if err := os.MkdirAll(caseDir, 0o750); err != nil {
		return fmt.Errorf("create case dir: %w", err)
	}

	stamp := time.Now().Format("2006-01-02_15-04-05")
	logFile, err := os.Create(filepath.Join(caseDir, fmt.Sprintf("run_%s.log", stamp))) // #nosec G304
	if err != nil {
		return fmt.Errorf("create run log: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	traceFile, err := os.Create(filepath.Join(caseDir, fmt.Sprintf("trace_%s.jsonl", stamp))) // #nosec G304
	if err != nil {
		return fmt.Errorf("create trace file: %w", err)
	}
	defer func() { _ = traceFile.Close() }()

	p, err := pipeline.New(exec,
		pipeline.WithLogger(logger),
		pipeline.WithMiddleware(epist.Timing(logger)),
		pipeline.WithTraceSink(trace.Multi(trace.NewHuman(logFile), trace.NewJSONL(traceFile))),
	)
	if err != nil {
		return err
	}

	final, runErr := p.Run(ctx, pipeline.Input{
		CaseText:   cs.Text,
		ModelID:    cfg.Model,
		TopK:       cfg.TopK,
		StepBudget: cfg.StepBudget,
	})

	// The final state is written even on failure: it is the
	// last-known-good state and the primary debugging artifact.
	data, err := oj.Marshal(final, 2)
	if err != nil {
		return fmt.Errorf("marshal final state: %w", err)
	}
	statePath := filepath.Join(caseDir, fmt.Sprintf("state_%s.json", stamp))
	if err := os.WriteFile(statePath, data, 0o600); err != nil {
		return fmt.Errorf("write final state: %w", err)
	}

	return runErr
}
