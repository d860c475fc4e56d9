package process

import (
	"context"
	"testing"

	"github.com/iriberri/provgraph/internal/graph"
	"github.com/iriberri/provgraph/internal/platform/logger"
)

func TestLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t)

	proc := startedProcess(t, stack.env, graph.KindCalculation)
	guardA := NewGuard(stack.locks, "worker-a", logger.NewNop())
	guardB := NewGuard(stack.locks, "worker-b", logger.NewNop())

	release, err := guardA.Lock(ctx, proc.UUID())
	if err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	if _, err := guardB.Lock(ctx, proc.UUID()); !graph.IsLockError(err) {
		t.Fatalf("competing Lock: want lock_error, got %v", err)
	}
	locked, err := guardB.IsLocked(ctx, proc.UUID())
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if !locked {
		t.Fatalf("IsLocked: want=true")
	}

	release()
	// Release is idempotent.
	release()

	releaseB, err := guardB.Lock(ctx, proc.UUID())
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	releaseB()
}

func TestForceUnlock(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t)

	proc := startedProcess(t, stack.env, graph.KindCalculation)
	guard := NewGuard(stack.locks, "worker-a", logger.NewNop())

	if _, err := guard.Lock(ctx, proc.UUID()); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := guard.ForceUnlock(ctx, proc.UUID()); err != nil {
		t.Fatalf("ForceUnlock: %v", err)
	}
	locked, err := guard.IsLocked(ctx, proc.UUID())
	if err != nil {
		t.Fatalf("IsLocked: %v", err)
	}
	if locked {
		t.Fatalf("IsLocked after ForceUnlock: want=false")
	}
}

func TestReleaseAllDropsHeldLocks(t *testing.T) {
	ctx := context.Background()
	stack := newTestStack(t)

	first := startedProcess(t, stack.env, graph.KindCalculation)
	second := startedProcess(t, stack.env, graph.KindCalculation)
	guard := NewGuard(stack.locks, "worker-a", logger.NewNop())

	if _, err := guard.Lock(ctx, first.UUID()); err != nil {
		t.Fatalf("Lock first: %v", err)
	}
	if _, err := guard.Lock(ctx, second.UUID()); err != nil {
		t.Fatalf("Lock second: %v", err)
	}

	guard.ReleaseAll(ctx)

	for _, proc := range []*Process{first, second} {
		locked, err := guard.IsLocked(ctx, proc.UUID())
		if err != nil {
			t.Fatalf("IsLocked: %v", err)
		}
		if locked {
			t.Fatalf("lock on %s survived ReleaseAll", proc.UUID())
		}
	}
}
