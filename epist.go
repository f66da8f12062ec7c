// Package epist provides the orchestration engine for a multi-phase
// diagnostic reasoning pipeline: a directed graph of phase nodes reading
// and writing a shared accumulating state, with conditional branching and
// a single guarded feedback loop.
//
// The engine itself carries no clinical semantics. Each node pulls the
// fields it needs from a state snapshot, calls an external Executor for
// its phase, and returns a partial-state Patch. The engine merges patches
// in strict step order, emits every merged patch to a TraceSink, resolves
// the next node through plain or Router-conditional edges, and aborts the
// run if the step budget is exhausted before the terminal marker is
// reached.
package epist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors.
var (
	// ErrNoEntryNode is returned when a graph is built without an entry node.
	ErrNoEntryNode = errors.New("epist: no entry node defined")

	// ErrNodeNotFound is returned when an edge references an unknown node.
	ErrNodeNotFound = errors.New("epist: node not found")

	// ErrStepBudgetExceeded is returned when a run executes its full step
	// budget without reaching the terminal marker. It signals a topology or
	// routing defect, not a transient condition.
	ErrStepBudgetExceeded = errors.New("epist: step budget exceeded")

	// ErrInvalidResponse is returned when an Executor produced a result that
	// does not conform to the phase's declared shape.
	ErrInvalidResponse = errors.New("epist: invalid executor response")

	// ErrCardinalityViolation is returned when a phase result's size or
	// membership is inconsistent with the hypothesis set it was derived from.
	ErrCardinalityViolation = errors.New("epist: cardinality violation")

	// ErrStateConflict is returned when a patch would violate a state
	// invariant, such as resetting the rerank flag or rolling the iteration
	// counter backwards.
	ErrStateConflict = errors.New("epist: state conflict")
)

// Phase identifies one computation step of the pipeline.
type Phase string

// The six phases, in topology order.
const (
	PhaseAbstraction        Phase = "abstraction"
	PhaseAbductionUnfocused Phase = "abduction_unfocused"
	PhaseAbductionFocused   Phase = "abduction_focused"
	PhaseRanking            Phase = "ranking"
	PhaseDeduction          Phase = "deduction"
	PhaseInduction          Phase = "induction"
)

// Executor is the external collaborator that produces a structured result
// for a phase. Implementations receive a read-only snapshot of the current
// state and must return the result type the phase's node expects, or an
// error. Retry policy, if any, lives entirely inside the Executor; the
// engine never retries.
type Executor interface {
	Execute(ctx context.Context, phase Phase, snapshot State) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, phase Phase, snapshot State) (any, error)

// Execute calls fn.
func (fn ExecutorFunc) Execute(ctx context.Context, phase Phase, snapshot State) (any, error) {
	return fn(ctx, phase, snapshot)
}

// Node wraps one phase. Run receives a value snapshot of the current state
// and returns a patch containing only the fields the phase owns. Nodes must
// treat the snapshot as read-only and return new data rather than mutating
// shared values in place.
type Node interface {
	Name() string
	Run(ctx context.Context, snapshot State) (Patch, error)
}

// NodeFunc adapts a named function to the Node interface.
func NodeFunc(name string, fn func(ctx context.Context, snapshot State) (Patch, error)) Node {
	return &funcNode{name: name, fn: fn}
}

type funcNode struct {
	name string
	fn   func(ctx context.Context, snapshot State) (Patch, error)
}

func (n *funcNode) Name() string { return n.name }

func (n *funcNode) Run(ctx context.Context, snapshot State) (Patch, error) {
	return n.fn(ctx, snapshot)
}

// Branch is the decision a Router returns at a conditional edge. Using a
// closed type instead of free-form strings gives exhaustive handling at
// each decision point.
type Branch int

const (
	// BranchContinue follows the conditional edge's continue target.
	BranchContinue Branch = iota

	// BranchEnd follows the conditional edge's end target.
	BranchEnd
)

// String returns the branch label.
func (b Branch) String() string {
	switch b {
	case BranchContinue:
		return "continue"
	case BranchEnd:
		return "end"
	default:
		return fmt.Sprintf("branch(%d)", int(b))
	}
}

// Router is a pure function from post-merge state to a branch label. It
// must not have side effects; it is re-evaluated on every visit to its
// node.
type Router func(State) Branch

// TraceSink receives, in step order, every patch the engine merges, tagged
// with the originating node name. Sinks are observability only: the engine
// swallows sink panics and a sink can never influence control flow.
type TraceSink interface {
	Emit(node string, namespace []string, ts time.Time, patch Patch)
}

// Logger provides structured logging.
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}

// Step records one executed step of a run: the node that ran and the
// pointer resolved after its patch was merged.
type Step struct {
	Node string
	Next string
}

// BudgetError is returned by Graph.Run when the step budget is exhausted.
// It carries the full step trace for diagnosis of the defective topology
// or router.
type BudgetError struct {
	Budget int
	Trace  []Step
}

// Error implements the error interface.
func (e *BudgetError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v after %d steps: ", ErrStepBudgetExceeded, e.Budget)
	for i, s := range e.Trace {
		if i > 0 {
			b.WriteString(" -> ")
		}
		b.WriteString(s.Node)
	}
	return b.String()
}

// Unwrap reports the sentinel so callers can errors.Is against
// ErrStepBudgetExceeded.
func (e *BudgetError) Unwrap() error { return ErrStepBudgetExceeded }
