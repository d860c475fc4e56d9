package graph

import (
	"context"

	"github.com/iriberri/provgraph/internal/graph/repofs"
	"github.com/iriberri/provgraph/internal/platform/cachecfg"
	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/repos"
	"github.com/iriberri/provgraph/internal/types"
)

// Mirror receives stored nodes and persisted links for projection into a
// secondary graph store. Implementations must be best-effort: the node
// core logs mirror failures and never fails a store over them.
type Mirror interface {
	MirrorNode(ctx context.Context, row *types.Node) error
	MirrorLink(ctx context.Context, link *types.Link) error
}

// Env bundles the collaborators every node operation needs: the
// relational repos, the file repository backend, the kind registry and
// the caching policy. One Env is shared by all nodes of a profile.
type Env struct {
	Nodes     repos.NodeRepo
	Links     repos.LinkRepo
	Computers repos.ComputerRepo
	Files     repofs.Backend
	Kinds     *Registry
	Cache     *cachecfg.Config
	Log       *logger.Logger

	// Version tags the producing code and participates in content
	// hashing, so upgrading the engine invalidates prior cache entries.
	Version string

	// Mirror is optional.
	Mirror Mirror
}

func (e *Env) logger() *logger.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logger.NewNop()
}

func (e *Env) useCache(spec *KindSpec) bool {
	return spec.Cacheable && e.Cache.UseCache(spec.Name)
}
