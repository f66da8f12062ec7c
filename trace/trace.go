// Package trace provides TraceSink implementations for the engine's
// execution stream: a human-readable run log, a machine-readable JSONL
// stream, and a fan-out combinator. It also adapts log/slog to the
// engine's Logger interface.
//
// Sinks are observability only. They swallow their own write errors and
// never signal back into the engine.
package trace

import (
	"time"

	"github.com/epistlab/epist"
)

// Func adapts a function to the epist.TraceSink interface.
type Func func(node string, namespace []string, ts time.Time, patch epist.Patch)

// Emit calls fn.
func (fn Func) Emit(node string, namespace []string, ts time.Time, patch epist.Patch) {
	fn(node, namespace, ts, patch)
}

// Multi fans one execution stream out to several sinks, in order.
func Multi(sinks ...epist.TraceSink) epist.TraceSink {
	return Func(func(node string, namespace []string, ts time.Time, patch epist.Patch) {
		for _, s := range sinks {
			s.Emit(node, namespace, ts, patch)
		}
	})
}
