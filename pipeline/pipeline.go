// Package pipeline wires the six phase nodes into the fixed diagnostic
// reasoning topology and exposes the run entry point.
//
// The topology has exactly one cycle, ranking -> deduction -> induction ->
// ranking, and it executes at most once: the second visit to ranking sets
// the rerank flag, which forces the post-ranking router to Terminal. A run
// with a present abstraction takes exactly 7 steps; a run whose
// abstraction is absent takes exactly 1.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/epistlab/epist"
	"github.com/epistlab/epist/phases"
)

// Input carries the immutable inputs of one run.
type Input struct {
	CaseText   string
	ModelID    string
	TopK       int
	StepBudget int // 0 means epist.DefaultStepBudget
}

func (in Input) validate() error {
	if in.CaseText == "" {
		return fmt.Errorf("pipeline: case text is required")
	}
	if in.ModelID == "" {
		return fmt.Errorf("pipeline: model id is required")
	}
	if in.TopK < 1 {
		return fmt.Errorf("pipeline: top_k must be >= 1, got %d", in.TopK)
	}
	return nil
}

// Pipeline is a reusable handle to the compiled topology. It is safe to
// run the same pipeline for many cases; each run threads its own state.
type Pipeline struct {
	graph *epist.Graph
}

// config collects pipeline construction options.
type config struct {
	logger epist.Logger
	sink   epist.TraceSink
	rng    *rand.Rand
	mws    []epist.Middleware
}

// Option configures a Pipeline.
type Option func(*config)

// WithLogger adds structured logging to the engine.
func WithLogger(logger epist.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithTraceSink wires the sink receiving every merged patch.
func WithTraceSink(sink epist.TraceSink) Option {
	return func(c *config) { c.sink = sink }
}

// WithRand injects the random source used by focused abduction
// downsampling.
func WithRand(rng *rand.Rand) Option {
	return func(c *config) { c.rng = rng }
}

// WithMiddleware wraps every phase node, first listed outermost.
func WithMiddleware(mws ...epist.Middleware) Option {
	return func(c *config) { c.mws = append(c.mws, mws...) }
}

// New compiles the topology around the given executor.
func New(exec epist.Executor, opts ...Option) (*Pipeline, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	var focusedOpts []phases.Option
	if cfg.rng != nil {
		focusedOpts = append(focusedOpts, phases.WithRand(cfg.rng))
	}

	graphOpts := []epist.GraphOption{epist.WithNamespace("pipeline")}
	if cfg.logger != nil {
		graphOpts = append(graphOpts, epist.WithLogger(cfg.logger))
	}
	if cfg.sink != nil {
		graphOpts = append(graphOpts, epist.WithTraceSink(cfg.sink))
	}

	wrap := func(n epist.Node) epist.Node { return epist.Apply(n, cfg.mws...) }

	b := epist.NewBuilder().
		Add(wrap(phases.Abstraction(exec))).
		Add(wrap(phases.AbductionUnfocused(exec))).
		Add(wrap(phases.AbductionFocused(exec, focusedOpts...))).
		Add(wrap(phases.Ranking(exec))).
		Add(wrap(phases.Deduction(exec))).
		Add(wrap(phases.Induction(exec))).
		Entry(string(epist.PhaseAbstraction)).
		Route(string(epist.PhaseAbstraction), AfterAbstraction,
			string(epist.PhaseAbductionUnfocused), epist.Terminal).
		Edge(string(epist.PhaseAbductionUnfocused), string(epist.PhaseAbductionFocused)).
		Edge(string(epist.PhaseAbductionFocused), string(epist.PhaseRanking)).
		Route(string(epist.PhaseRanking), AfterRanking,
			string(epist.PhaseDeduction), epist.Terminal).
		Edge(string(epist.PhaseDeduction), string(epist.PhaseInduction)).
		Edge(string(epist.PhaseInduction), string(epist.PhaseRanking)).
		WithOptions(graphOpts...)

	graph, err := b.Build()
	if err != nil {
		return nil, err
	}
	return &Pipeline{graph: graph}, nil
}

// Run executes one case. The returned state always reflects every step
// that completed; when err is non-nil it is the last-known-good state. An
// absent abstraction is a normal terminal outcome, not an error.
func (p *Pipeline) Run(ctx context.Context, in Input) (epist.State, error) {
	if err := in.validate(); err != nil {
		return epist.State{}, err
	}

	initial := epist.State{
		CaseText: in.CaseText,
		ModelID:  in.ModelID,
		TopK:     in.TopK,
	}

	graph := p.graph
	if in.StepBudget > 0 {
		// Rebuilding for a per-run budget would complicate the handle;
		// budgets are per-graph, so clone with the override.
		clone := *p.graph
		clone.SetStepBudget(in.StepBudget)
		graph = &clone
	}

	return graph.Run(ctx, initial)
}

// AfterAbstraction is the first decision point: a present abstraction
// (even an empty one) continues into abduction; an absent one ends the
// run.
func AfterAbstraction(s epist.State) epist.Branch {
	if s.Abstraction != nil {
		return epist.BranchContinue
	}
	return epist.BranchEnd
}

// AfterRanking is the loop exit: the run continues into deduction until
// the rerank flag is set by the second ranking pass.
func AfterRanking(s epist.State) epist.Branch {
	if s.Reranked {
		return epist.BranchEnd
	}
	return epist.BranchContinue
}
