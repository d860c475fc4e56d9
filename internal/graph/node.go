package graph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/iriberri/provgraph/internal/graph/repofs"
	"github.com/iriberri/provgraph/internal/types"
)

// Node is the in-memory handle on a provenance graph node. Before Store
// all state lives in local caches (attributes, extras, incoming links,
// sandbox folder); Store persists everything in one failure-atomic
// operation and freezes the attributes outside the kind's updatable set.
type Node struct {
	env  *Env
	spec *KindSpec

	id          uuid.UUID
	pk          int64
	label       string
	description string
	processType string
	computerID  *uuid.UUID
	userID      *uuid.UUID

	attrs    map[string]interface{}
	extras   map[string]interface{}
	incoming []LinkTriple
	sandbox  *repofs.Sandbox

	stored    bool
	createdAt time.Time

	// Validate is an optional per-instance hook checked before store.
	Validate func(n *Node) error
}

func NewNode(env *Env, kind string) (*Node, error) {
	spec, err := env.Kinds.Resolve(kind)
	if err != nil {
		return nil, err
	}
	return &Node{
		env:    env,
		spec:   spec,
		id:     uuid.New(),
		attrs:  map[string]interface{}{},
		extras: map[string]interface{}{},
	}, nil
}

// LoadNode rehydrates a stored node by UUID.
func LoadNode(ctx context.Context, env *Env, id uuid.UUID) (*Node, error) {
	row, err := env.Nodes.GetByUUID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, NotExistentf("no node with uuid %s", id)
	}
	return nodeFromRow(env, row)
}

func nodeFromRow(env *Env, row *types.Node) (*Node, error) {
	spec, err := env.Kinds.Resolve(row.Kind)
	if err != nil {
		return nil, err
	}
	attrs, err := decodeBag(row.Attributes)
	if err != nil {
		return nil, err
	}
	extras, err := decodeBag(row.Extras)
	if err != nil {
		return nil, err
	}
	return &Node{
		env:         env,
		spec:        spec,
		id:          row.UUID,
		pk:          row.ID,
		label:       row.Label,
		description: row.Description,
		processType: row.ProcessType,
		computerID:  row.ComputerID,
		userID:      row.UserID,
		attrs:       attrs,
		extras:      extras,
		stored:      true,
		createdAt:   row.CreatedAt,
	}, nil
}

func decodeBag(raw datatypes.JSON) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeBag(bag map[string]interface{}) (datatypes.JSON, error) {
	raw, err := json.Marshal(bag)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func (n *Node) UUID() uuid.UUID    { return n.id }
func (n *Node) PK() int64          { return n.pk }
func (n *Node) Kind() string       { return n.spec.Name }
func (n *Node) Spec() *KindSpec    { return n.spec }
func (n *Node) IsStored() bool     { return n.stored }
func (n *Node) Label() string      { return n.label }
func (n *Node) Description() string { return n.description }
func (n *Node) ProcessType() string { return n.processType }
func (n *Node) ComputerID() *uuid.UUID { return n.computerID }

func (n *Node) SetLabel(ctx context.Context, label string) error {
	n.label = label
	if !n.stored {
		return nil
	}
	return n.env.Nodes.UpdateFields(ctx, nil, n.id, map[string]interface{}{"label": label})
}

func (n *Node) SetDescription(ctx context.Context, description string) error {
	n.description = description
	if !n.stored {
		return nil
	}
	return n.env.Nodes.UpdateFields(ctx, nil, n.id, map[string]interface{}{"description": description})
}

func (n *Node) SetProcessType(processType string) error {
	if n.stored {
		return ModificationNotAllowedf("cannot change process type of stored node %s", n.id)
	}
	n.processType = processType
	return nil
}

// SetComputer associates a stored computer with an unstored node. The
// computer UUID participates in content hashing.
func (n *Node) SetComputer(ctx context.Context, computerID uuid.UUID) error {
	if n.stored {
		return ModificationNotAllowedf("cannot set computer on stored node %s", n.id)
	}
	computer, err := n.env.Computers.GetByID(ctx, nil, computerID)
	if err != nil {
		return err
	}
	if computer == nil {
		return NotExistentf("no computer with uuid %s", computerID)
	}
	id := computer.ID
	n.computerID = &id
	return nil
}

func (n *Node) SetUser(userID uuid.UUID) error {
	if n.stored {
		return ModificationNotAllowedf("cannot set user on stored node %s", n.id)
	}
	n.userID = &userID
	return nil
}

// region attributes

func validateBagKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ValidationErrorf("attribute key must not be empty")
	}
	if strings.Contains(key, ".") {
		return ValidationErrorf("attribute key %q must not contain '.'", key)
	}
	return nil
}

// normalizeValue round-trips through JSON so attribute bags contain only
// JSON types and non-finite floats are rejected up front.
func normalizeValue(value interface{}) (interface{}, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, ValidationErrorf("value is not JSON-serializable: %v", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, ValidationErrorf("value does not round-trip as JSON: %v", err)
	}
	return out, nil
}

// SetAttr sets an attribute. On an unstored node every key is writable;
// on a stored node only the kind's updatable keys are, and only while the
// node is not sealed.
func (n *Node) SetAttr(ctx context.Context, key string, value interface{}) error {
	if err := validateBagKey(key); err != nil {
		return err
	}
	norm, err := normalizeValue(value)
	if err != nil {
		return err
	}
	if !n.stored {
		n.attrs[key] = norm
		return nil
	}
	if !n.spec.updatable(key) {
		return ModificationNotAllowedf("cannot change attribute %q of stored node %s", key, n.id)
	}
	if n.IsSealed() {
		return ModificationNotAllowedf("cannot change attribute %q of sealed node %s", key, n.id)
	}
	return n.writeAttrs(ctx, map[string]interface{}{key: norm})
}

// SetAttrs applies several updatable-key writes as a single persisted
// update, keeping e.g. a process state and its checkpoint consistent.
func (n *Node) SetAttrs(ctx context.Context, updates map[string]interface{}) error {
	normalized := make(map[string]interface{}, len(updates))
	for key, value := range updates {
		if err := validateBagKey(key); err != nil {
			return err
		}
		norm, err := normalizeValue(value)
		if err != nil {
			return err
		}
		normalized[key] = norm
	}
	if !n.stored {
		for key, value := range normalized {
			n.attrs[key] = value
		}
		return nil
	}
	for key := range normalized {
		if !n.spec.updatable(key) {
			return ModificationNotAllowedf("cannot change attribute %q of stored node %s", key, n.id)
		}
	}
	if n.IsSealed() {
		return ModificationNotAllowedf("cannot change attributes of sealed node %s", n.id)
	}
	return n.writeAttrs(ctx, normalized)
}

func (n *Node) DelAttr(ctx context.Context, key string) error {
	if !n.stored {
		if _, ok := n.attrs[key]; !ok {
			return NotExistentf("node %s has no attribute %q", n.id, key)
		}
		delete(n.attrs, key)
		return nil
	}
	if !n.spec.updatable(key) {
		return ModificationNotAllowedf("cannot delete attribute %q of stored node %s", key, n.id)
	}
	if n.IsSealed() {
		return ModificationNotAllowedf("cannot delete attribute %q of sealed node %s", key, n.id)
	}
	if _, ok := n.attrs[key]; !ok {
		return NotExistentf("node %s has no attribute %q", n.id, key)
	}
	delete(n.attrs, key)
	return n.flushAttrs(ctx)
}

func (n *Node) GetAttr(key string) (interface{}, bool) {
	v, ok := n.attrs[key]
	return v, ok
}

// Attrs returns a shallow copy of the attribute bag.
func (n *Node) Attrs() map[string]interface{} {
	out := make(map[string]interface{}, len(n.attrs))
	for k, v := range n.attrs {
		out[k] = v
	}
	return out
}

// forceSetAttr persists an attribute bypassing the mutability checks.
// Reserved for the seal write itself.
func (n *Node) forceSetAttr(ctx context.Context, key string, value interface{}) error {
	norm, err := normalizeValue(value)
	if err != nil {
		return err
	}
	if !n.stored {
		n.attrs[key] = norm
		return nil
	}
	return n.writeAttrs(ctx, map[string]interface{}{key: norm})
}

func (n *Node) writeAttrs(ctx context.Context, updates map[string]interface{}) error {
	for key, value := range updates {
		n.attrs[key] = value
	}
	return n.flushAttrs(ctx)
}

func (n *Node) flushAttrs(ctx context.Context) error {
	raw, err := encodeBag(n.attrs)
	if err != nil {
		return err
	}
	return n.env.Nodes.UpdateFields(ctx, nil, n.id, map[string]interface{}{"attributes": raw})
}

// endregion

// region extras

// SetExtra sets a bookkeeping extra. Extras stay writable for the whole
// life of a node, stored or not, sealed or not.
func (n *Node) SetExtra(ctx context.Context, key string, value interface{}) error {
	if err := validateBagKey(key); err != nil {
		return err
	}
	norm, err := normalizeValue(value)
	if err != nil {
		return err
	}
	n.extras[key] = norm
	if !n.stored {
		return nil
	}
	return n.flushExtras(ctx)
}

func (n *Node) DelExtra(ctx context.Context, key string) error {
	if _, ok := n.extras[key]; !ok {
		return NotExistentf("node %s has no extra %q", n.id, key)
	}
	delete(n.extras, key)
	if !n.stored {
		return nil
	}
	return n.flushExtras(ctx)
}

func (n *Node) GetExtra(key string) (interface{}, bool) {
	v, ok := n.extras[key]
	return v, ok
}

func (n *Node) flushExtras(ctx context.Context) error {
	raw, err := encodeBag(n.extras)
	if err != nil {
		return err
	}
	return n.env.Nodes.UpdateFields(ctx, nil, n.id, map[string]interface{}{"extras": raw})
}

// endregion

// region files

func (n *Node) ensureSandbox() (*repofs.Sandbox, error) {
	if n.sandbox == nil {
		sandbox, err := repofs.NewSandbox()
		if err != nil {
			return nil, err
		}
		n.sandbox = sandbox
	}
	return n.sandbox, nil
}

func (n *Node) PutFile(name string, data []byte) error {
	if n.stored {
		return ModificationNotAllowedf("cannot insert a file into stored node %s", n.id)
	}
	sandbox, err := n.ensureSandbox()
	if err != nil {
		return err
	}
	return sandbox.InsertBytes(name, data)
}

func (n *Node) RemoveFile(name string) error {
	if n.stored {
		return ModificationNotAllowedf("cannot delete a file from stored node %s", n.id)
	}
	if n.sandbox == nil {
		return NotExistentf("node %s has no file %q", n.id, name)
	}
	return n.sandbox.Remove(name)
}

func (n *Node) ListFiles(ctx context.Context) ([]string, error) {
	if n.stored {
		return n.env.Files.List(ctx, n.id)
	}
	if n.sandbox == nil {
		return nil, nil
	}
	return n.sandbox.List()
}

func (n *Node) OpenFile(ctx context.Context, name string) ([]byte, error) {
	var rc io.ReadCloser
	var err error
	if n.stored {
		rc, err = n.env.Files.Open(ctx, n.id, name)
	} else {
		if n.sandbox == nil {
			return nil, NotExistentf("node %s has no file %q", n.id, name)
		}
		rc, err = n.sandbox.Open(name)
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// endregion

// region links

// AddIncoming records a provenance edge source -> this node. On an
// unstored target (or for an unstored source) the link is held in the
// incoming cache; otherwise it is persisted immediately against the
// current database state.
func (n *Node) AddIncoming(ctx context.Context, source *Node, linkType LinkType, label string) error {
	if strings.TrimSpace(label) == "" {
		return ValidationErrorf("link label must not be empty")
	}
	if source.id == n.id {
		return ValidationErrorf("cannot link node %s to itself", n.id)
	}
	if err := ValidateLinkType(source.spec, n.spec, linkType); err != nil {
		return err
	}
	for _, triple := range n.incoming {
		if triple.Label == label {
			return UniquenessErrorf("node %s already has a cached incoming link labelled %q", n.id, label)
		}
	}
	if n.stored {
		exists, err := n.env.Links.LabelExists(ctx, nil, n.id, label)
		if err != nil {
			return err
		}
		if exists {
			return UniquenessErrorf("node %s already has an incoming link labelled %q", n.id, label)
		}
	}
	if n.stored && source.stored {
		return n.persistLink(ctx, nil, LinkTriple{Source: source, Type: linkType, Label: label})
	}
	n.incoming = append(n.incoming, LinkTriple{Source: source, Type: linkType, Label: label})
	return nil
}

// CachedIncoming returns the incoming links not yet persisted.
func (n *Node) CachedIncoming() []LinkTriple {
	out := make([]LinkTriple, len(n.incoming))
	copy(out, n.incoming)
	return out
}

func (n *Node) persistLink(ctx context.Context, tx *gorm.DB, triple LinkTriple) error {
	// Adding source -> target creates a cycle exactly when the target can
	// already reach the source.
	cyclic, err := n.env.Links.PathExists(ctx, tx, n.id, triple.Source.id)
	if err != nil {
		return err
	}
	if cyclic {
		return ValidationErrorf(
			"link %q from %s to %s would introduce a cycle",
			triple.Type, triple.Source.id, n.id,
		)
	}
	link := &types.Link{
		SourceID: triple.Source.id,
		TargetID: n.id,
		Type:     string(triple.Type),
		Label:    triple.Label,
	}
	if err := n.env.Links.Create(ctx, tx, link); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return UniquenessErrorf("node %s already has an incoming link labelled %q", n.id, triple.Label)
		}
		return err
	}
	n.mirrorLink(ctx, link)
	return nil
}

// StoreCachedIncoming persists any cached incoming links whose source has
// been stored in the meantime. Callable any number of times on a stored
// node.
func (n *Node) StoreCachedIncoming(ctx context.Context) error {
	if !n.stored {
		return InvalidOperationf("cannot persist cached links of unstored node %s", n.id)
	}
	var remaining []LinkTriple
	for i, triple := range n.incoming {
		if !triple.Source.stored {
			remaining = append(remaining, triple)
			continue
		}
		if err := n.persistLink(ctx, nil, triple); err != nil {
			n.incoming = append(remaining, n.incoming[i:]...)
			return err
		}
	}
	n.incoming = remaining
	return nil
}

// Outgoing lists the persisted links leaving this node, optionally
// filtered by type.
func (n *Node) Outgoing(ctx context.Context, linkTypes ...string) ([]*types.Link, error) {
	if !n.stored {
		return nil, nil
	}
	return n.env.Links.ListOutgoing(ctx, nil, n.id, linkTypes)
}

// Incoming lists the persisted links entering this node, optionally
// filtered by type.
func (n *Node) Incoming(ctx context.Context, linkTypes ...string) ([]*types.Link, error) {
	if !n.stored {
		return nil, nil
	}
	return n.env.Links.ListIncoming(ctx, nil, n.id, linkTypes)
}

// checkParentsStored verifies that every cached incoming link has a
// stored source. Only direct parents are checked.
func (n *Node) checkParentsStored() error {
	for _, triple := range n.incoming {
		if !triple.Source.stored {
			return ModificationNotAllowedf(
				"cannot store link %q: source node %s is not stored",
				triple.Label, triple.Source.id,
			)
		}
	}
	return nil
}

// endregion

// region store

// Store persists the node: validation, parent check, atomic folder move,
// one transactional write of the row plus the cached incoming links, and
// the content-hash extra when caching applies to the kind. A second call
// is an error, never a silent no-op.
func (n *Node) Store(ctx context.Context) error {
	if !n.spec.Storable {
		return StoringNotAllowedf("nodes of kind %q cannot be stored", n.spec.Name)
	}
	if n.stored {
		return ModificationNotAllowedf("node %s is already stored", n.id)
	}
	if n.Validate != nil {
		if err := n.Validate(n); err != nil {
			return &Error{Code: ErrCodeValidation, Msg: "node validation failed", Err: err}
		}
	}
	if err := n.checkParentsStored(); err != nil {
		return err
	}
	useCache := n.env.useCache(n.spec)
	if useCache {
		same, err := n.findSameNode(ctx)
		if err != nil {
			// Cache lookup is best-effort, never a correctness dependency.
			n.env.logger().Warn("Cache lookup failed, storing without cache",
				"node", n.id, "error", err)
		} else if same != nil {
			return n.storeFromCache(ctx, same)
		}
	}
	return n.storeDirect(ctx, useCache)
}

// StoreAll stores unstored direct parents first, then the node itself.
// Cascading is limited to one level: a grandparent left unstored fails
// the whole operation.
func (n *Node) StoreAll(ctx context.Context) error {
	if n.stored {
		return ModificationNotAllowedf("node %s is already stored", n.id)
	}
	for _, triple := range n.incoming {
		if err := triple.Source.checkParentsStored(); err != nil {
			return ModificationNotAllowedf(
				"source node %s has unstored parents; only direct parents are stored by StoreAll",
				triple.Source.id,
			)
		}
	}
	for _, triple := range n.incoming {
		if triple.Source.stored {
			continue
		}
		if err := triple.Source.Store(ctx); err != nil {
			return err
		}
	}
	return n.Store(ctx)
}

func (n *Node) storeDirect(ctx context.Context, writeHash bool) error {
	if _, ok := n.extras[ExtraContentHash]; writeHash && !ok {
		hash, err := n.computeHash(ctx)
		if err != nil {
			n.env.logger().Warn("Hashing failed, storing without content hash",
				"node", n.id, "error", err)
		} else if hash != "" {
			n.extras[ExtraContentHash] = hash
		}
	}

	// Move the sandbox into the permanent repository first so a database
	// row never exists without its backing folder.
	moved := false
	var sandboxDir string
	if n.sandbox != nil {
		sandboxDir = n.sandbox.Dir()
		if err := n.env.Files.ReplaceFolder(ctx, n.id, sandboxDir, true); err != nil {
			return err
		}
		moved = true
	}

	attrsRaw, err := encodeBag(n.attrs)
	if err != nil {
		return n.compensateStore(ctx, moved, sandboxDir, err)
	}
	extrasRaw, err := encodeBag(n.extras)
	if err != nil {
		return n.compensateStore(ctx, moved, sandboxDir, err)
	}
	row := &types.Node{
		UUID:        n.id,
		Kind:        n.spec.Name,
		ProcessType: n.processType,
		Label:       n.label,
		Description: n.description,
		Attributes:  attrsRaw,
		Extras:      extrasRaw,
		ComputerID:  n.computerID,
		UserID:      n.userID,
	}

	pending := n.incoming
	err = n.env.Nodes.Transaction(ctx, func(tx *gorm.DB) error {
		if err := n.env.Nodes.Create(ctx, tx, row); err != nil {
			return err
		}
		for _, triple := range pending {
			cyclic, err := n.env.Links.PathExists(ctx, tx, n.id, triple.Source.id)
			if err != nil {
				return err
			}
			if cyclic {
				return ValidationErrorf(
					"link %q from %s to %s would introduce a cycle",
					triple.Type, triple.Source.id, n.id,
				)
			}
			link := &types.Link{
				SourceID: triple.Source.id,
				TargetID: n.id,
				Type:     string(triple.Type),
				Label:    triple.Label,
			}
			if err := n.env.Links.Create(ctx, tx, link); err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return UniquenessErrorf("node %s already has an incoming link labelled %q", n.id, triple.Label)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return n.compensateStore(ctx, moved, sandboxDir, err)
	}

	n.pk = row.ID
	n.stored = true
	n.createdAt = row.CreatedAt
	n.incoming = nil
	n.sandbox = nil

	n.mirrorNode(ctx, row)
	return nil
}

// compensateStore moves the files back into the sandbox before handing
// the original error to the caller.
func (n *Node) compensateStore(ctx context.Context, moved bool, sandboxDir string, cause error) error {
	if moved {
		if restoreErr := n.env.Files.RestoreToDir(ctx, n.id, sandboxDir); restoreErr != nil {
			n.env.logger().Error("Failed to restore node files to sandbox after store failure",
				"node", n.id, "error", restoreErr)
		} else {
			n.sandbox = repofs.NewSandboxAt(sandboxDir)
		}
	}
	return cause
}

func (n *Node) mirrorNode(ctx context.Context, row *types.Node) {
	if n.env.Mirror == nil {
		return
	}
	if err := n.env.Mirror.MirrorNode(ctx, row); err != nil {
		n.env.logger().Warn("Graph mirror rejected node", "node", n.id, "error", err)
	}
}

func (n *Node) mirrorLink(ctx context.Context, link *types.Link) {
	if n.env.Mirror == nil {
		return
	}
	if err := n.env.Mirror.MirrorLink(ctx, link); err != nil {
		n.env.logger().Warn("Graph mirror rejected link", "target", n.id, "error", err)
	}
}

// endregion

// IsSealed reports whether the node carries the sealed marker.
func (n *Node) IsSealed() bool {
	sealed, ok := n.attrs[AttrSealed].(bool)
	return ok && sealed
}

// Seal freezes the updatable attribute keys permanently. Only process
// nodes can be sealed, and only once.
func (n *Node) Seal(ctx context.Context) error {
	if !n.spec.IsProcess() {
		return InvalidOperationf("nodes of kind %q cannot be sealed", n.spec.Name)
	}
	if n.IsSealed() {
		return ModificationNotAllowedf("node %s is already sealed", n.id)
	}
	return n.forceSetAttr(ctx, AttrSealed, true)
}
