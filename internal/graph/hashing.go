package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"sort"
)

// hashPayload is what actually gets digested: the engine version, the
// hash-relevant attributes, a per-file digest of the repository folder
// and the associated computer. json.Marshal emits map keys sorted at
// every nesting level, so one marshal of this struct is canonical.
type hashPayload struct {
	Version  string                 `json:"version"`
	Attrs    map[string]interface{} `json:"attributes"`
	Files    map[string]string      `json:"files"`
	Computer string                 `json:"computer"`
}

// computeHash returns the content hash of the node, or "" when the kind
// is not cacheable.
func (n *Node) computeHash(ctx context.Context) (string, error) {
	if !n.spec.Cacheable {
		return "", nil
	}
	attrs := make(map[string]interface{}, len(n.attrs))
	for key, value := range n.attrs {
		if n.spec.hashIgnored(key) {
			continue
		}
		attrs[key] = value
	}
	files, err := n.fileDigests(ctx)
	if err != nil {
		return "", err
	}
	payload := hashPayload{
		Version: n.env.Version,
		Attrs:   attrs,
		Files:   files,
	}
	if n.computerID != nil {
		payload.Computer = n.computerID.String()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// fileDigests maps each repository file path to the hex sha256 of its
// content, reading from the sandbox before store and from the permanent
// backend after.
func (n *Node) fileDigests(ctx context.Context) (map[string]string, error) {
	names, err := n.ListFiles(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	out := make(map[string]string, len(names))
	for _, name := range names {
		var r io.ReadCloser
		if n.stored {
			r, err = n.env.Files.Open(ctx, n.id, name)
		} else {
			r, err = n.sandbox.Open(name)
		}
		if err != nil {
			return nil, err
		}
		h := sha256.New()
		_, err = io.Copy(h, r)
		r.Close()
		if err != nil {
			return nil, err
		}
		out[name] = hex.EncodeToString(h.Sum(nil))
	}
	return out, nil
}

// Hash returns the stored content hash extra, if any.
func (n *Node) Hash() (string, bool) {
	v, ok := n.extras[ExtraContentHash].(string)
	return v, ok && v != ""
}

// Rehash recomputes the content hash of a stored node and rewrites the
// extra. Useful after an engine version bump.
func (n *Node) Rehash(ctx context.Context) error {
	if !n.stored {
		return InvalidOperationf("cannot rehash unstored node %s", n.id)
	}
	if !n.spec.Cacheable {
		return InvalidOperationf("nodes of kind %q carry no content hash", n.spec.Name)
	}
	hash, err := n.computeHash(ctx)
	if err != nil {
		return err
	}
	return n.SetExtra(ctx, ExtraContentHash, hash)
}

// ClearHash removes the content hash extra so the node is never again
// offered as a cache source.
func (n *Node) ClearHash(ctx context.Context) error {
	if _, ok := n.extras[ExtraContentHash]; !ok {
		return nil
	}
	return n.DelExtra(ctx, ExtraContentHash)
}
