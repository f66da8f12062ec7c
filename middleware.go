package epist

import (
	"context"
	"time"
)

// Middleware wraps a Node with cross-cutting behavior while preserving
// its name.
type Middleware func(Node) Node

// Apply wraps node with the given middleware, first listed outermost.
func Apply(node Node, mws ...Middleware) Node {
	for i := len(mws) - 1; i >= 0; i-- {
		node = mws[i](node)
	}
	return node
}

// Timing logs each node's wall-clock duration at debug level.
func Timing(logger Logger) Middleware {
	return func(next Node) Node {
		return NodeFunc(next.Name(), func(ctx context.Context, snap State) (Patch, error) {
			start := time.Now()
			patch, err := next.Run(ctx, snap)
			logger.Debug(ctx, "node finished", "node", next.Name(), "duration", time.Since(start))
			return patch, err
		})
	}
}
