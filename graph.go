package epist

import (
	"context"
	"fmt"
	"time"
)

// Terminal is the reserved pointer value that ends a run. It is not a
// node name; resolving an edge to Terminal terminates the run
// successfully.
const Terminal = "terminal"

// DefaultStepBudget bounds the number of node executions per run. The
// fixed topology needs at most 7 steps; anything approaching the budget
// is a routing defect, not a long run.
const DefaultStepBudget = 60

// conditionalEdge pairs a router with its two labeled targets.
type conditionalEdge struct {
	router     Router
	onContinue string
	onEnd      string
}

// Graph holds the fixed topology and drives execution step by step. Build
// one with a Builder; a built graph is immutable and safe to reuse across
// runs, though each individual run is strictly sequential.
type Graph struct {
	nodes map[string]Node
	edges map[string]string
	conds map[string]conditionalEdge
	entry string
	opts  graphOptions
}

// graphOptions holds configuration for a Graph.
type graphOptions struct {
	logger     Logger
	sink       TraceSink
	namespace  []string
	stepBudget int
}

// GraphOption configures a Graph.
type GraphOption func(*graphOptions)

// WithLogger adds structured logging to the engine.
func WithLogger(logger Logger) GraphOption {
	return func(o *graphOptions) {
		o.logger = logger
	}
}

// WithTraceSink wires the sink that receives every merged patch.
func WithTraceSink(sink TraceSink) GraphOption {
	return func(o *graphOptions) {
		o.sink = sink
	}
}

// WithNamespace sets the namespace tag passed to the trace sink.
func WithNamespace(namespace ...string) GraphOption {
	return func(o *graphOptions) {
		o.namespace = namespace
	}
}

// WithStepBudget overrides DefaultStepBudget.
func WithStepBudget(budget int) GraphOption {
	return func(o *graphOptions) {
		if budget > 0 {
			o.stepBudget = budget
		}
	}
}

// Builder provides a fluent API for constructing graphs.
type Builder struct {
	nodes map[string]Node
	edges map[string]string
	conds map[string]conditionalEdge
	entry string
	opts  []GraphOption
}

// NewBuilder creates a new graph builder.
func NewBuilder() *Builder {
	return &Builder{
		nodes: make(map[string]Node),
		edges: make(map[string]string),
		conds: make(map[string]conditionalEdge),
	}
}

// Add registers a node. The first node added becomes the entry point
// unless Entry overrides it.
func (b *Builder) Add(node Node) *Builder {
	b.nodes[node.Name()] = node
	if b.entry == "" {
		b.entry = node.Name()
	}
	return b
}

// Entry sets the entry node.
func (b *Builder) Entry(name string) *Builder {
	b.entry = name
	return b
}

// Edge adds an unconditional edge from one node to another (or to
// Terminal).
func (b *Builder) Edge(from, to string) *Builder {
	b.edges[from] = to
	return b
}

// Route adds a conditional edge: after from runs, router is evaluated
// against the post-merge state and the returned branch selects onContinue
// or onEnd. Either target may be Terminal.
func (b *Builder) Route(from string, router Router, onContinue, onEnd string) *Builder {
	b.conds[from] = conditionalEdge{router: router, onContinue: onContinue, onEnd: onEnd}
	return b
}

// WithOptions adds graph options.
func (b *Builder) WithOptions(opts ...GraphOption) *Builder {
	b.opts = append(b.opts, opts...)
	return b
}

// Build validates the topology and creates the graph. Every node must
// have exactly one outgoing edge (plain or conditional) and every edge
// target must be a registered node or Terminal.
func (b *Builder) Build() (*Graph, error) {
	if b.entry == "" {
		return nil, ErrNoEntryNode
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("%w: entry %q", ErrNodeNotFound, b.entry)
	}

	target := func(name string) error {
		if name == Terminal {
			return nil
		}
		if _, ok := b.nodes[name]; !ok {
			return fmt.Errorf("%w: edge target %q", ErrNodeNotFound, name)
		}
		return nil
	}

	for name := range b.nodes {
		_, plain := b.edges[name]
		_, cond := b.conds[name]
		if plain && cond {
			return nil, fmt.Errorf("epist: node %q has both a plain edge and a conditional edge", name)
		}
		if !plain && !cond {
			return nil, fmt.Errorf("epist: node %q has no outgoing edge", name)
		}
	}
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: edge source %q", ErrNodeNotFound, from)
		}
		if err := target(to); err != nil {
			return nil, err
		}
	}
	for from, ce := range b.conds {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("%w: conditional edge source %q", ErrNodeNotFound, from)
		}
		if ce.router == nil {
			return nil, fmt.Errorf("epist: node %q has a conditional edge without a router", from)
		}
		if err := target(ce.onContinue); err != nil {
			return nil, err
		}
		if err := target(ce.onEnd); err != nil {
			return nil, err
		}
	}

	g := &Graph{
		nodes: b.nodes,
		edges: b.edges,
		conds: b.conds,
		entry: b.entry,
	}
	g.opts.stepBudget = DefaultStepBudget
	for _, opt := range b.opts {
		opt(&g.opts)
	}
	return g, nil
}

// SetStepBudget overrides the step budget on this graph value. The
// topology maps are shared between copies; only the options are per-value.
func (g *Graph) SetStepBudget(budget int) {
	if budget > 0 {
		g.opts.stepBudget = budget
	}
}

// Run executes the graph from its entry node against the initial state.
//
// On each step the engine executes the current node, merges its patch,
// emits the patch to the trace sink, and resolves the next pointer. The
// run terminates successfully when the resolved pointer is Terminal. If
// the step budget is exhausted first, Run fails with a *BudgetError
// carrying the full step trace.
//
// On any error, the returned state is the last-known-good state: every
// patch merged before the failure is present, nothing after it.
func (g *Graph) Run(ctx context.Context, initial State) (State, error) {
	state := initial
	current := g.entry
	trace := make([]Step, 0, 8)

	for step := 1; step <= g.opts.stepBudget; step++ {
		node, ok := g.nodes[current]
		if !ok {
			return state, fmt.Errorf("%w: %q", ErrNodeNotFound, current)
		}

		if g.opts.logger != nil {
			g.opts.logger.Debug(ctx, "executing node", "node", current, "step", step)
		}

		patch, err := node.Run(ctx, state)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", current, err)
		}

		merged, err := state.Merge(patch)
		if err != nil {
			return state, fmt.Errorf("node %s: %w", current, err)
		}
		state = merged

		g.emit(ctx, current, patch)

		next := g.resolve(current, state)
		trace = append(trace, Step{Node: current, Next: next})

		if g.opts.logger != nil {
			g.opts.logger.Debug(ctx, "resolved next node", "node", current, "next", next)
		}

		if next == Terminal {
			return state, nil
		}
		current = next
	}

	return state, &BudgetError{Budget: g.opts.stepBudget, Trace: trace}
}

// resolve returns the next pointer for a node against the post-merge
// state. Build guarantees every node has exactly one outgoing edge.
func (g *Graph) resolve(current string, state State) string {
	if ce, ok := g.conds[current]; ok {
		if ce.router(state) == BranchEnd {
			return ce.onEnd
		}
		return ce.onContinue
	}
	return g.edges[current]
}

// emit delivers a patch to the trace sink. Sink failures are logged and
// swallowed; they never reach the step loop.
func (g *Graph) emit(ctx context.Context, node string, patch Patch) {
	if g.opts.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && g.opts.logger != nil {
			g.opts.logger.Error(ctx, "trace sink panicked", "node", node, "panic", r)
		}
	}()
	g.opts.sink.Emit(node, g.opts.namespace, time.Now(), patch)
}
