package graph

import (
	"encoding/json"

	"github.com/iriberri/provgraph/internal/types"
)

// Attribute keys shared between the node core and the process layer.
const (
	AttrProcessState  = "process_state"
	AttrProcessStatus = "process_status"
	AttrProcessLabel  = "process_label"
	AttrCheckpoint    = "checkpoints"
	AttrException     = "exception"
	AttrExitStatus    = "exit_status"
	AttrExitMessage   = "exit_message"
	AttrPaused        = "paused"
	AttrSealed        = "sealed"
	AttrKillRequested = "kill_requested"
)

// Extras keys used for cache bookkeeping.
const (
	ExtraContentHash = "_content_hash"
	ExtraCachedFrom  = "_cached_from"
)

// Built-in node kinds.
const (
	KindData        = "data"
	KindCalculation = "calculation"
	KindWorkflow    = "workflow"
)

// Category classifies a kind for link-type validation.
type Category string

const (
	CategoryData        Category = "data"
	CategoryCalculation Category = "calculation"
	CategoryWorkflow    Category = "workflow"
)

// KindSpec describes the capabilities of a concrete node kind: whether it
// can be stored at all, whether it participates in caching, which
// attribute keys stay writable after store, and which are excluded from
// the content hash.
type KindSpec struct {
	Name             string
	Category         Category
	Storable         bool
	Cacheable        bool
	UpdatableAttrs   map[string]bool
	HashIgnoredAttrs map[string]bool

	// ValidCache decides whether a stored row may serve as a cache source.
	// Nil means always valid.
	ValidCache func(row *types.Node) bool
}

// IsProcess reports whether nodes of this kind represent process executions.
func (s *KindSpec) IsProcess() bool {
	return s != nil && s.Category != CategoryData
}

func (s *KindSpec) updatable(key string) bool {
	if s == nil || s.UpdatableAttrs == nil {
		return false
	}
	return s.UpdatableAttrs[key]
}

func (s *KindSpec) hashIgnored(key string) bool {
	if s == nil {
		return false
	}
	if s.UpdatableAttrs != nil && s.UpdatableAttrs[key] {
		return true
	}
	if s.HashIgnoredAttrs != nil && s.HashIgnoredAttrs[key] {
		return true
	}
	return false
}

// Registry resolves kind strings to their specs. This stands in for a
// dynamic plugin loader: concrete kinds register at wiring time.
type Registry struct {
	kinds map[string]*KindSpec
}

func processUpdatableAttrs() map[string]bool {
	return map[string]bool{
		AttrProcessState:  true,
		AttrProcessStatus: true,
		AttrProcessLabel:  true,
		AttrCheckpoint:    true,
		AttrException:     true,
		AttrExitStatus:    true,
		AttrExitMessage:   true,
		AttrPaused:        true,
		AttrSealed:        true,
		AttrKillRequested: true,
	}
}

// NewRegistry returns a registry with the built-in kinds. Calculation
// nodes are cacheable but only valid cache sources when they finished
// with a zero exit status; workflow nodes are never cached because their
// RETURN fan-out cannot be safely cloned.
func NewRegistry() *Registry {
	r := &Registry{kinds: map[string]*KindSpec{}}
	r.Register(&KindSpec{
		Name:      KindData,
		Category:  CategoryData,
		Storable:  true,
		Cacheable: true,
	})
	r.Register(&KindSpec{
		Name:           KindCalculation,
		Category:       CategoryCalculation,
		Storable:       true,
		Cacheable:      true,
		UpdatableAttrs: processUpdatableAttrs(),
		ValidCache:     calculationValidCache,
	})
	r.Register(&KindSpec{
		Name:           KindWorkflow,
		Category:       CategoryWorkflow,
		Storable:       true,
		Cacheable:      false,
		UpdatableAttrs: processUpdatableAttrs(),
	})
	return r
}

func (r *Registry) Register(spec *KindSpec) {
	r.kinds[spec.Name] = spec
}

func (r *Registry) Resolve(kind string) (*KindSpec, error) {
	spec, ok := r.kinds[kind]
	if !ok {
		return nil, NotExistentf("unknown node kind %q", kind)
	}
	return spec, nil
}

func calculationValidCache(row *types.Node) bool {
	if row == nil || len(row.Attributes) == 0 {
		return false
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(row.Attributes, &attrs); err != nil {
		return false
	}
	if attrs[AttrProcessState] != "finished" {
		return false
	}
	status, ok := attrs[AttrExitStatus].(float64)
	return ok && status == 0
}
