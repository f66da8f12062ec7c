package trace

import (
	"io"
	"sync"
	"time"

	"github.com/ohler55/ojg/oj"

	"github.com/epistlab/epist"
)

// event is one line of the JSONL stream.
type event struct {
	Step      int         `json:"step"`
	Node      string      `json:"node"`
	Namespace []string    `json:"namespace,omitempty"`
	Timestamp string      `json:"timestamp"`
	Patch     epist.Patch `json:"patch"`
}

// JSONL writes one JSON object per step, suitable for machine audit of a
// run. Marshal and write errors are dropped.
type JSONL struct {
	mu   sync.Mutex
	w    io.Writer
	step int
}

// NewJSONL creates a JSONL sink.
func NewJSONL(w io.Writer) *JSONL {
	return &JSONL{w: w}
}

// Emit implements epist.TraceSink.
func (j *JSONL) Emit(node string, namespace []string, ts time.Time, patch epist.Patch) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.step++

	data, err := oj.Marshal(event{
		Step:      j.step,
		Node:      node,
		Namespace: namespace,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Patch:     patch,
	})
	if err != nil {
		return
	}
	_, _ = j.w.Write(append(data, '\n'))
}
