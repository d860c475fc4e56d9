package graph

import (
	"context"
	"testing"

	"github.com/iriberri/provgraph/internal/platform/cachecfg"
)

// storedCalc stores a calculation carrying the given input attribute and
// the terminal attributes that make it a valid cache source.
func storedCalc(t *testing.T, env *Env, value interface{}) *Node {
	t.Helper()
	ctx := context.Background()
	calc := mustNode(t, env, KindCalculation)
	if err := calc.SetAttr(ctx, "input", value); err != nil {
		t.Fatalf("SetAttr input: %v", err)
	}
	if err := calc.SetAttr(ctx, AttrProcessState, "finished"); err != nil {
		t.Fatalf("SetAttr process_state: %v", err)
	}
	if err := calc.SetAttr(ctx, AttrExitStatus, 0); err != nil {
		t.Fatalf("SetAttr exit_status: %v", err)
	}
	if err := calc.Store(ctx); err != nil {
		t.Fatalf("Store: %v", err)
	}
	return calc
}

func TestCacheHitCopiesFromSource(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvWithCache(t)

	first := storedCalc(t, env, 42)
	if err := first.SetLabel(ctx, "original"); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}

	second := mustNode(t, env, KindCalculation)
	if err := second.SetAttr(ctx, "input", 42); err != nil {
		t.Fatalf("SetAttr input: %v", err)
	}
	if err := second.Store(ctx); err != nil {
		t.Fatalf("Store second: %v", err)
	}

	if !second.CreatedFromCache() {
		t.Fatalf("CreatedFromCache: want=true")
	}
	from, ok := second.CacheSource()
	if !ok || from != first.UUID() {
		t.Fatalf("CacheSource: want=%s got=%s ok=%v", first.UUID(), from, ok)
	}
	if second.Label() != "original" {
		t.Fatalf("label not copied: want=%q got=%q", "original", second.Label())
	}
	if v, _ := second.GetAttr(AttrProcessState); v != "finished" {
		t.Fatalf("attrs not copied: process_state=%v", v)
	}

	h1, _ := first.Hash()
	h2, _ := second.Hash()
	if h1 == "" || h1 != h2 {
		t.Fatalf("hash mismatch: first=%q second=%q", h1, h2)
	}
}

func TestCacheSkipsUnfinishedSources(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvWithCache(t)

	running := mustNode(t, env, KindCalculation)
	if err := running.SetAttr(ctx, "input", 7); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := running.SetAttr(ctx, AttrProcessState, "running"); err != nil {
		t.Fatalf("SetAttr process_state: %v", err)
	}
	if err := running.Store(ctx); err != nil {
		t.Fatalf("Store running: %v", err)
	}

	second := mustNode(t, env, KindCalculation)
	if err := second.SetAttr(ctx, "input", 7); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := second.Store(ctx); err != nil {
		t.Fatalf("Store second: %v", err)
	}
	if _, ok := second.GetExtra(ExtraCachedFrom); ok {
		t.Fatalf("unfinished source served a cache hit")
	}
}

func TestCacheDifferentFilesMiss(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvWithCache(t)

	storedCalc(t, env, 1)

	second := mustNode(t, env, KindCalculation)
	if err := second.SetAttr(ctx, "input", 1); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := second.PutFile("extra.txt", []byte("different")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	if err := second.Store(ctx); err != nil {
		t.Fatalf("Store second: %v", err)
	}
	if _, ok := second.GetExtra(ExtraCachedFrom); ok {
		t.Fatalf("nodes with different files resolved as cache hit")
	}
}

func TestCacheDisabledWritesNoHash(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first := storedCalc(t, env, 9)
	if _, ok := first.Hash(); ok {
		t.Fatalf("hash written with caching disabled")
	}

	second := mustNode(t, env, KindCalculation)
	if err := second.SetAttr(ctx, "input", 9); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := second.Store(ctx); err != nil {
		t.Fatalf("Store second: %v", err)
	}
	if _, ok := second.GetExtra(ExtraCachedFrom); ok {
		t.Fatalf("cache hit despite caching disabled")
	}
}

func TestCachePerKindOverride(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvWithCache(t)
	env.Cache = &cachecfg.Config{Default: true, Disabled: []string{KindCalculation}}

	storedCalc(t, env, 5)

	second := mustNode(t, env, KindCalculation)
	if err := second.SetAttr(ctx, "input", 5); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := second.Store(ctx); err != nil {
		t.Fatalf("Store second: %v", err)
	}
	if _, ok := second.GetExtra(ExtraCachedFrom); ok {
		t.Fatalf("cache hit despite per-kind disable")
	}
}

func TestCacheRejectsReturnBearingSources(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvWithCache(t)
	env.Kinds.Register(&KindSpec{
		Name:           "cached_workflow",
		Category:       CategoryWorkflow,
		Storable:       true,
		Cacheable:      true,
		UpdatableAttrs: processUpdatableAttrs(),
	})

	first := mustNode(t, env, "cached_workflow")
	if err := first.Store(ctx); err != nil {
		t.Fatalf("Store first: %v", err)
	}

	returned := mustNode(t, env, KindData)
	if err := returned.Store(ctx); err != nil {
		t.Fatalf("Store returned data: %v", err)
	}
	if err := returned.AddIncoming(ctx, first, LinkReturn, "out"); err != nil {
		t.Fatalf("AddIncoming return: %v", err)
	}

	second := mustNode(t, env, "cached_workflow")
	if err := second.Store(ctx); err != nil {
		t.Fatalf("Store second: %v", err)
	}
	if from, ok := second.GetExtra(ExtraCachedFrom); ok {
		t.Fatalf("return-bearing source served a cache hit: cached_from=%v", from)
	}
}

func TestCacheClonesCreateOutputs(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvWithCache(t)

	first := storedCalc(t, env, 11)
	out := mustNode(t, env, KindData)
	if err := out.SetAttr(ctx, "result", 22); err != nil {
		t.Fatalf("SetAttr result: %v", err)
	}
	if err := out.AddIncoming(ctx, first, LinkCreate, "result"); err != nil {
		t.Fatalf("AddIncoming create: %v", err)
	}
	if err := out.Store(ctx); err != nil {
		t.Fatalf("Store output: %v", err)
	}

	second := mustNode(t, env, KindCalculation)
	if err := second.SetAttr(ctx, "input", 11); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := second.Store(ctx); err != nil {
		t.Fatalf("Store second: %v", err)
	}
	if _, ok := second.GetExtra(ExtraCachedFrom); !ok {
		t.Fatalf("expected cache hit")
	}

	created, err := second.Outgoing(ctx, string(LinkCreate))
	if err != nil {
		t.Fatalf("Outgoing: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("cloned outputs: want=1 got=%d", len(created))
	}
	if created[0].Label != "result" {
		t.Fatalf("cloned output label: want=%q got=%q", "result", created[0].Label)
	}
	if created[0].TargetID == out.UUID() {
		t.Fatalf("output was re-linked instead of cloned")
	}
	clone, err := LoadNode(ctx, env, created[0].TargetID)
	if err != nil {
		t.Fatalf("LoadNode clone: %v", err)
	}
	if v, _ := clone.GetAttr("result"); v != float64(22) {
		t.Fatalf("clone attr result: want=22 got=%v", v)
	}
	if from, _ := clone.GetExtra(ExtraCachedFrom); from != out.UUID().String() {
		t.Fatalf("clone cached_from: want=%s got=%v", out.UUID(), from)
	}
}

func TestRehashAndClearHash(t *testing.T) {
	ctx := context.Background()
	env := newTestEnvWithCache(t)

	first := storedCalc(t, env, 3)
	h, ok := first.Hash()
	if !ok {
		t.Fatalf("stored calculation has no hash")
	}
	if err := first.Rehash(ctx); err != nil {
		t.Fatalf("Rehash: %v", err)
	}
	h2, _ := first.Hash()
	if h != h2 {
		t.Fatalf("Rehash changed a stable hash: %q vs %q", h, h2)
	}
	if err := first.ClearHash(ctx); err != nil {
		t.Fatalf("ClearHash: %v", err)
	}
	if _, ok := first.Hash(); ok {
		t.Fatalf("hash survives ClearHash")
	}
}
