package graphmirror

import (
	"context"
	"fmt"
	"strings"

	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/platform/neo4jdb"
	"github.com/iriberri/provgraph/internal/types"
)

// Mirror projects stored nodes and persisted links into neo4j so the
// provenance graph can be traversed with cypher. The relational store
// stays the source of truth; every write here is idempotent MERGE.
type Mirror struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func New(client *neo4jdb.Client, baseLog *logger.Logger) (*Mirror, error) {
	if client == nil {
		return nil, fmt.Errorf("graphmirror: neo4j client required")
	}
	return &Mirror{
		client: client,
		log:    baseLog.With("service", "GraphMirror"),
	}, nil
}

func (m *Mirror) MirrorNode(ctx context.Context, node *types.Node) error {
	cypher := `
		MERGE (n:Node {uuid: $uuid})
		SET n.kind = $kind,
		    n.process_type = $process_type,
		    n.label = $label
	`
	return m.client.ExecWrite(ctx, cypher, map[string]any{
		"uuid":         node.UUID.String(),
		"kind":         node.Kind,
		"process_type": node.ProcessType,
		"label":        node.Label,
	})
}

func (m *Mirror) MirrorLink(ctx context.Context, link *types.Link) error {
	cypher := fmt.Sprintf(`
		MERGE (s:Node {uuid: $source})
		MERGE (t:Node {uuid: $target})
		MERGE (s)-[r:%s {label: $label}]->(t)
	`, relType(link.Type))
	return m.client.ExecWrite(ctx, cypher, map[string]any{
		"source": link.SourceID.String(),
		"target": link.TargetID.String(),
		"label":  link.Label,
	})
}

// relType sanitizes a link type into a cypher relationship type.
// Relationship types cannot be parameterized in cypher.
func relType(linkType string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(linkType) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "LINK"
	}
	return b.String()
}

func (m *Mirror) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}
