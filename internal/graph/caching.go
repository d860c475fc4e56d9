package graph

import (
	"context"

	"github.com/google/uuid"

	"github.com/iriberri/provgraph/internal/types"
)

const cachePageSize = 50

// CreatedFromCache reports whether this node was stored as a cache hit.
func (n *Node) CreatedFromCache() bool {
	_, ok := n.CacheSource()
	return ok
}

// CacheSource returns the UUID of the node this one was cached from.
func (n *Node) CacheSource() (uuid.UUID, bool) {
	v, ok := n.extras[ExtraCachedFrom].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// findSameNode returns the first stored node of the same kind whose
// content hash equals this node's, walking candidates lazily in pages
// ordered by insertion. Candidates that fail the kind's validity hook or
// that already emitted return links are skipped. A nil result with a nil
// error means no usable cache source exists.
func (n *Node) findSameNode(ctx context.Context) (*Node, error) {
	hash, err := n.computeHash(ctx)
	if err != nil || hash == "" {
		return nil, err
	}
	n.extras[ExtraContentHash] = hash

	for offset := 0; ; offset += cachePageSize {
		rows, err := n.env.Nodes.FindByHashExtra(ctx, nil, n.spec.Name, hash, cachePageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			ok, err := n.usableCacheSource(ctx, row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			return nodeFromRow(n.env, row)
		}
		if len(rows) < cachePageSize {
			return nil, nil
		}
	}
}

func (n *Node) usableCacheSource(ctx context.Context, row *types.Node) (bool, error) {
	if n.spec.ValidCache != nil && !n.spec.ValidCache(row) {
		return false, nil
	}
	// A source that returned pre-existing nodes cannot be replayed: the
	// returned nodes are not creations and cloning cannot reproduce them.
	returns, err := n.env.Links.ListOutgoing(ctx, nil, row.UUID, []string{string(LinkReturn)})
	if err != nil {
		return false, err
	}
	return len(returns) == 0, nil
}

// storeFromCache stores the node as a cache hit on same: label,
// description, attributes (minus the sealed marker) and the repository
// folder are taken from the source, the provenance links stay this
// node's own, and the source UUID is recorded in a bookkeeping extra.
func (n *Node) storeFromCache(ctx context.Context, same *Node) error {
	n.label = same.label
	n.description = same.description

	for key, value := range same.attrs {
		if key == AttrSealed {
			continue
		}
		n.attrs[key] = value
	}

	sandbox, err := n.ensureSandbox()
	if err != nil {
		return err
	}
	if err := n.env.Files.CopyToDir(ctx, same.id, sandbox.Dir()); err != nil {
		return err
	}

	// The content hash extra was already written during the lookup, so
	// storeDirect persists the looked-up hash rather than recomputing it
	// over the copied folder.
	if err := n.storeDirect(ctx, true); err != nil {
		return err
	}
	if err := n.SetExtra(ctx, ExtraCachedFrom, same.id.String()); err != nil {
		return err
	}
	n.cloneCreateOutputs(ctx, same)
	return nil
}

// cloneCreateOutputs replays the created outputs of the cache source
// onto this node. Failures here leave a hit without some outputs, which
// is logged but does not undo the store.
func (n *Node) cloneCreateOutputs(ctx context.Context, same *Node) {
	links, err := same.Outgoing(ctx, string(LinkCreate))
	if err != nil {
		n.env.logger().Warn("Failed to list outputs of cache source",
			"source", same.id, "error", err)
		return
	}
	for _, link := range links {
		if err := n.cloneOutput(ctx, link.TargetID, link.Label); err != nil {
			n.env.logger().Warn("Failed to clone cached output",
				"source", same.id, "output", link.TargetID, "label", link.Label, "error", err)
		}
	}
}

func (n *Node) cloneOutput(ctx context.Context, outputID uuid.UUID, label string) error {
	orig, err := LoadNode(ctx, n.env, outputID)
	if err != nil {
		return err
	}
	clone, err := NewNode(n.env, orig.spec.Name)
	if err != nil {
		return err
	}
	clone.label = orig.label
	clone.description = orig.description
	for key, value := range orig.attrs {
		clone.attrs[key] = value
	}
	names, err := orig.ListFiles(ctx)
	if err != nil {
		return err
	}
	if len(names) > 0 {
		sandbox, err := clone.ensureSandbox()
		if err != nil {
			return err
		}
		if err := n.env.Files.CopyToDir(ctx, orig.id, sandbox.Dir()); err != nil {
			return err
		}
	}
	if err := clone.AddIncoming(ctx, n, LinkCreate, label); err != nil {
		return err
	}
	if err := clone.Store(ctx); err != nil {
		return err
	}
	return clone.SetExtra(ctx, ExtraCachedFrom, orig.id.String())
}
