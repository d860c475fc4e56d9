package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestStoreIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	n := mustNode(t, env, KindData)
	if err := n.SetAttr(ctx, "value", 42); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := n.Store(ctx); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if !n.IsStored() {
		t.Fatalf("IsStored: want=true got=false")
	}
	err := n.Store(ctx)
	if !IsModificationNotAllowed(err) {
		t.Fatalf("second Store: want modification_not_allowed, got %v", err)
	}
}

func TestAttributesFreezeAtStore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	n := mustNode(t, env, KindData)
	if err := n.SetAttr(ctx, "value", 1); err != nil {
		t.Fatalf("SetAttr before store: %v", err)
	}
	if err := n.Store(ctx); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if err := n.SetAttr(ctx, "value", 2); !IsModificationNotAllowed(err) {
		t.Fatalf("SetAttr after store: want modification_not_allowed, got %v", err)
	}
	if err := n.DelAttr(ctx, "value"); !IsModificationNotAllowed(err) {
		t.Fatalf("DelAttr after store: want modification_not_allowed, got %v", err)
	}

	// Extras stay writable for the whole node lifetime.
	if err := n.SetExtra(ctx, "note", "hello"); err != nil {
		t.Fatalf("SetExtra after store: %v", err)
	}
	reloaded, err := LoadNode(ctx, env, n.UUID())
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if v, _ := reloaded.GetExtra("note"); v != "hello" {
		t.Fatalf("extra note: want=%q got=%v", "hello", v)
	}
}

func TestUpdatableAttrsWritableUntilSealed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	n := mustNode(t, env, KindCalculation)
	if err := n.Store(ctx); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := n.SetAttr(ctx, AttrProcessStatus, "working"); err != nil {
		t.Fatalf("SetAttr process_status on stored node: %v", err)
	}
	if err := n.Seal(ctx); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := n.SetAttr(ctx, AttrProcessStatus, "done"); !IsModificationNotAllowed(err) {
		t.Fatalf("SetAttr after seal: want modification_not_allowed, got %v", err)
	}
	if err := n.Seal(ctx); !IsModificationNotAllowed(err) {
		t.Fatalf("second Seal: want modification_not_allowed, got %v", err)
	}
}

func TestSealOnlyProcessNodes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	n := mustNode(t, env, KindData)
	if err := n.Store(ctx); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := n.Seal(ctx); !IsInvalidOperation(err) {
		t.Fatalf("Seal data node: want invalid_operation, got %v", err)
	}
}

func TestStoreRequiresStoredParents(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	calc := mustNode(t, env, KindCalculation)
	out := mustNode(t, env, KindData)
	if err := out.AddIncoming(ctx, calc, LinkCreate, "result"); err != nil {
		t.Fatalf("AddIncoming: %v", err)
	}
	if err := out.Store(ctx); !IsModificationNotAllowed(err) {
		t.Fatalf("Store with unstored parent: want modification_not_allowed, got %v", err)
	}
	if err := calc.Store(ctx); err != nil {
		t.Fatalf("Store parent: %v", err)
	}
	if err := out.Store(ctx); err != nil {
		t.Fatalf("Store after parent stored: %v", err)
	}

	links, err := out.Incoming(ctx)
	if err != nil {
		t.Fatalf("Incoming: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("Incoming: want=1 got=%d", len(links))
	}
	if links[0].SourceID != calc.UUID() || links[0].Label != "result" {
		t.Fatalf("persisted link: got source=%s label=%q", links[0].SourceID, links[0].Label)
	}
}

func TestStoreAllCascadesOneLevel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	input := mustNode(t, env, KindData)
	calc := mustNode(t, env, KindCalculation)
	if err := calc.AddIncoming(ctx, input, LinkInputCalc, "x"); err != nil {
		t.Fatalf("AddIncoming: %v", err)
	}
	if err := calc.StoreAll(ctx); err != nil {
		t.Fatalf("StoreAll: %v", err)
	}
	if !input.IsStored() || !calc.IsStored() {
		t.Fatalf("StoreAll: input stored=%v calc stored=%v", input.IsStored(), calc.IsStored())
	}
}

func TestStoreAllRejectsDeeperUnstoredAncestors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	grandInput := mustNode(t, env, KindData)
	calc := mustNode(t, env, KindCalculation)
	if err := calc.AddIncoming(ctx, grandInput, LinkInputCalc, "x"); err != nil {
		t.Fatalf("AddIncoming grandparent: %v", err)
	}
	out := mustNode(t, env, KindData)
	if err := out.AddIncoming(ctx, calc, LinkCreate, "result"); err != nil {
		t.Fatalf("AddIncoming parent: %v", err)
	}
	if err := out.StoreAll(ctx); !IsModificationNotAllowed(err) {
		t.Fatalf("StoreAll two levels deep: want modification_not_allowed, got %v", err)
	}
}

func TestLinkLabelCollision(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	a := mustNode(t, env, KindData)
	b := mustNode(t, env, KindData)
	calc := mustNode(t, env, KindCalculation)
	if err := calc.AddIncoming(ctx, a, LinkInputCalc, "x"); err != nil {
		t.Fatalf("AddIncoming first: %v", err)
	}
	if err := calc.AddIncoming(ctx, b, LinkInputCalc, "x"); !IsUniquenessError(err) {
		t.Fatalf("duplicate cached label: want uniqueness, got %v", err)
	}

	// Same check against persisted links on a stored target.
	if err := a.Store(ctx); err != nil {
		t.Fatalf("Store a: %v", err)
	}
	if err := b.Store(ctx); err != nil {
		t.Fatalf("Store b: %v", err)
	}
	if err := calc.Store(ctx); err != nil {
		t.Fatalf("Store calc: %v", err)
	}
	if err := calc.AddIncoming(ctx, b, LinkInputCalc, "x"); !IsUniquenessError(err) {
		t.Fatalf("duplicate persisted label: want uniqueness, got %v", err)
	}
}

func TestLinkTypeMatrix(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	d1 := mustNode(t, env, KindData)
	d2 := mustNode(t, env, KindData)
	wf := mustNode(t, env, KindWorkflow)
	calc := mustNode(t, env, KindCalculation)

	if err := d2.AddIncoming(ctx, d1, LinkCreate, "bad"); !HasCode(err, ErrCodeValidation) {
		t.Fatalf("data CREATE data: want validation, got %v", err)
	}
	if err := calc.AddIncoming(ctx, wf, LinkInputCalc, "bad"); !HasCode(err, ErrCodeValidation) {
		t.Fatalf("workflow INPUT_CALC calculation: want validation, got %v", err)
	}
	if err := calc.AddIncoming(ctx, wf, LinkCallCalc, "sub"); err != nil {
		t.Fatalf("workflow CALL_CALC calculation: %v", err)
	}
	if err := calc.AddIncoming(ctx, calc, LinkInputCalc, "self"); !HasCode(err, ErrCodeValidation) {
		t.Fatalf("self link: want validation, got %v", err)
	}
}

func TestCycleRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	calc := mustNode(t, env, KindCalculation)
	if err := calc.Store(ctx); err != nil {
		t.Fatalf("Store calc: %v", err)
	}
	data := mustNode(t, env, KindData)
	if err := data.AddIncoming(ctx, calc, LinkCreate, "out"); err != nil {
		t.Fatalf("AddIncoming create: %v", err)
	}
	if err := data.Store(ctx); err != nil {
		t.Fatalf("Store data: %v", err)
	}

	// calc already reaches data over the CREATE edge, so feeding data
	// back in closes a cycle.
	if err := calc.AddIncoming(ctx, data, LinkInputCalc, "loop"); !HasCode(err, ErrCodeValidation) {
		t.Fatalf("cyclic link: want validation, got %v", err)
	}
}

func TestFilesMoveToRepositoryAtStore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	n := mustNode(t, env, KindData)
	if err := n.PutFile("input.txt", []byte("payload")); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	names, err := n.ListFiles(ctx)
	if err != nil {
		t.Fatalf("ListFiles before store: %v", err)
	}
	if len(names) != 1 || names[0] != "input.txt" {
		t.Fatalf("ListFiles before store: got %v", names)
	}

	if err := n.Store(ctx); err != nil {
		t.Fatalf("Store: %v", err)
	}
	names, err = n.ListFiles(ctx)
	if err != nil {
		t.Fatalf("ListFiles after store: %v", err)
	}
	if len(names) != 1 || names[0] != "input.txt" {
		t.Fatalf("ListFiles after store: got %v", names)
	}
	content, err := n.OpenFile(ctx, "input.txt")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if string(content) != "payload" {
		t.Fatalf("OpenFile: want=%q got=%q", "payload", content)
	}

	if err := n.PutFile("late.txt", nil); !IsModificationNotAllowed(err) {
		t.Fatalf("PutFile after store: want modification_not_allowed, got %v", err)
	}
}

func TestNonStorableKind(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.Kinds.Register(&KindSpec{Name: "abstract", Category: CategoryData, Storable: false})

	n := mustNode(t, env, "abstract")
	if err := n.Store(ctx); !HasCode(err, ErrCodeStoringNotAllowed) {
		t.Fatalf("Store non-storable kind: want storing_not_allowed, got %v", err)
	}
}

func TestValidateHookBlocksStore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	n := mustNode(t, env, KindData)
	n.Validate = func(n *Node) error {
		return ValidationErrorf("missing mandatory value")
	}
	if err := n.Store(ctx); !HasCode(err, ErrCodeValidation) {
		t.Fatalf("Store with failing hook: want validation, got %v", err)
	}
	if n.IsStored() {
		t.Fatalf("node stored despite failing validation")
	}
}

func TestNaNAttributeRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	n := mustNode(t, env, KindData)
	nan := 0.0
	nan = nan / nan
	if err := n.SetAttr(ctx, "bad", nan); !HasCode(err, ErrCodeValidation) {
		t.Fatalf("SetAttr NaN: want validation, got %v", err)
	}
}

func TestLoadNodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	n := mustNode(t, env, KindData)
	if err := n.SetLabel(ctx, "my data"); err != nil {
		t.Fatalf("SetLabel: %v", err)
	}
	if err := n.SetAttr(ctx, "value", 3.5); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if err := n.Store(ctx); err != nil {
		t.Fatalf("Store: %v", err)
	}

	loaded, err := LoadNode(ctx, env, n.UUID())
	if err != nil {
		t.Fatalf("LoadNode: %v", err)
	}
	if loaded.Label() != "my data" {
		t.Fatalf("Label: want=%q got=%q", "my data", loaded.Label())
	}
	if v, _ := loaded.GetAttr("value"); v != 3.5 {
		t.Fatalf("attr value: want=3.5 got=%v", v)
	}
	if loaded.PK() != n.PK() {
		t.Fatalf("PK: want=%d got=%d", n.PK(), loaded.PK())
	}

	if _, err := LoadNode(ctx, env, uuid.New()); !IsNotExistent(err) {
		t.Fatalf("LoadNode unknown uuid: want not_existent, got %v", err)
	}
}
