package process

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/iriberri/provgraph/internal/graph"
	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/repos"
)

// Guard hands out exclusive per-node locks backed by the node_lock table.
// Acquisition is a single row insert; the unique constraint makes the
// database the arbiter between competing workers. The guard remembers
// what it holds so ReleaseAll can clean up on shutdown.
type Guard struct {
	locks repos.LockRepo
	owner string
	log   *logger.Logger

	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func NewGuard(locks repos.LockRepo, owner string, baseLog *logger.Logger) *Guard {
	return &Guard{
		locks: locks,
		owner: owner,
		log:   baseLog.With("component", "lock_guard"),
		held:  map[uuid.UUID]struct{}{},
	}
}

// Lock acquires the exclusive lock on a process node and returns the
// release func. A held lock surfaces as a lock_error, distinguishable via
// graph.IsLockError.
func (g *Guard) Lock(ctx context.Context, nodeID uuid.UUID) (func(), error) {
	if err := g.locks.Acquire(ctx, nodeID, g.owner); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, graph.LockErrorf("node %s is locked by another worker", nodeID)
		}
		return nil, err
	}
	g.mu.Lock()
	g.held[nodeID] = struct{}{}
	g.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, nodeID)
			g.mu.Unlock()
			// Release must run even when the caller's ctx died; the lock
			// row would otherwise orphan until a ForceUnlock.
			if err := g.locks.Release(context.Background(), nodeID); err != nil {
				g.log.Error("Failed to release node lock", "node", nodeID, "error", err)
			}
		})
	}
	return release, nil
}

// IsLocked reports whether any worker currently holds the node.
func (g *Guard) IsLocked(ctx context.Context, nodeID uuid.UUID) (bool, error) {
	return g.locks.IsLocked(ctx, nodeID)
}

// ForceUnlock removes the lock row regardless of holder. Administrative
// recovery only: unsafe while a legitimate holder is alive.
func (g *Guard) ForceUnlock(ctx context.Context, nodeID uuid.UUID) error {
	g.mu.Lock()
	delete(g.held, nodeID)
	g.mu.Unlock()
	return g.locks.Release(ctx, nodeID)
}

// ReleaseAll drops every lock this guard still holds. Wired as a
// shutdown hook so a stopping worker never strands its processes.
func (g *Guard) ReleaseAll(ctx context.Context) {
	g.mu.Lock()
	ids := make([]uuid.UUID, 0, len(g.held))
	for id := range g.held {
		ids = append(ids, id)
	}
	g.held = map[uuid.UUID]struct{}{}
	g.mu.Unlock()

	for _, id := range ids {
		if err := g.locks.Release(ctx, id); err != nil {
			g.log.Error("Failed to release node lock on shutdown", "node", id, "error", err)
		}
	}
}
