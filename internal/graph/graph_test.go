package graph

import (
	"testing"

	"github.com/iriberri/provgraph/internal/db"
	"github.com/iriberri/provgraph/internal/graph/repofs"
	"github.com/iriberri/provgraph/internal/platform/cachecfg"
	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/repos"
)

// newTestEnv builds a fully wired Env on in-memory sqlite and a local
// file backend. Caching defaults off so graphs in unrelated tests never
// resolve each other as cache hits.
func newTestEnv(t *testing.T) *Env {
	t.Helper()
	gdb, err := db.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	backend, err := repofs.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend: %v", err)
	}
	log := logger.NewNop()
	return &Env{
		Nodes:     repos.NewNodeRepo(gdb, log),
		Links:     repos.NewLinkRepo(gdb, log),
		Computers: repos.NewComputerRepo(gdb, log),
		Files:     backend,
		Kinds:     NewRegistry(),
		Cache:     &cachecfg.Config{Default: false},
		Log:       log,
		Version:   "test",
	}
}

func newTestEnvWithCache(t *testing.T) *Env {
	t.Helper()
	env := newTestEnv(t)
	env.Cache = &cachecfg.Config{Default: true}
	return env
}

func mustNode(t *testing.T, env *Env, kind string) *Node {
	t.Helper()
	n, err := NewNode(env, kind)
	if err != nil {
		t.Fatalf("NewNode(%q): %v", kind, err)
	}
	return n
}
