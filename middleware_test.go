package epist_test

import (
	"context"
	"testing"

	"github.com/epistlab/epist"
)

// recordLogger captures debug messages for assertions.
type recordLogger struct {
	msgs []string
}

func (l *recordLogger) Debug(ctx context.Context, msg string, kv ...any) {
	l.msgs = append(l.msgs, msg)
}
func (l *recordLogger) Info(ctx context.Context, msg string, kv ...any)  {}
func (l *recordLogger) Error(ctx context.Context, msg string, kv ...any) {}

func TestApplyOrder(t *testing.T) {
	var order []string
	mark := func(name string) epist.Middleware {
		return func(next epist.Node) epist.Node {
			return epist.NodeFunc(next.Name(), func(ctx context.Context, snap epist.State) (epist.Patch, error) {
				order = append(order, name)
				return next.Run(ctx, snap)
			})
		}
	}
	inner := epist.NodeFunc("inner", func(ctx context.Context, snap epist.State) (epist.Patch, error) {
		order = append(order, "inner")
		return epist.Patch{}, nil
	})

	node := epist.Apply(inner, mark("outer"), mark("middle"))
	if node.Name() != "inner" {
		t.Errorf("Name() = %q, want inner", node.Name())
	}
	if _, err := node.Run(context.Background(), epist.State{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"outer", "middle", "inner"}
	for i := range want {
		if i >= len(order) || order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestTimingLogsAndPassesThrough(t *testing.T) {
	logger := &recordLogger{}
	node := epist.Apply(
		epist.NodeFunc("ranking", func(ctx context.Context, snap epist.State) (epist.Patch, error) {
			return epist.Patch{Reranked: epist.Bool(true)}, nil
		}),
		epist.Timing(logger),
	)

	patch, err := node.Run(context.Background(), epist.State{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if patch.Reranked == nil || !*patch.Reranked {
		t.Error("middleware altered the node's patch")
	}
	if len(logger.msgs) != 1 || logger.msgs[0] != "node finished" {
		t.Errorf("debug messages = %v, want one %q entry", logger.msgs, "node finished")
	}
}
