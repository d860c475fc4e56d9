package process

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/iriberri/provgraph/internal/graph"
)

// State is the lifecycle state of a process node, persisted in the
// process_state attribute.
type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateWaiting  State = "waiting"
	StateFinished State = "finished"
	StateExcepted State = "excepted"
	StateKilled   State = "killed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateExcepted, StateKilled:
		return true
	}
	return false
}

// transitions lists the reachable states from each non-terminal state.
// Finishing requires an active RUNNING state; WAITING resumes through
// RUNNING first.
var transitions = map[State][]State{
	StateCreated: {StateRunning, StateExcepted, StateKilled},
	StateRunning: {StateWaiting, StateFinished, StateExcepted, StateKilled},
	StateWaiting: {StateRunning, StateExcepted, StateKilled},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Process drives a calculation or workflow node through its lifecycle.
// Every transition persists the state attribute and its companions in a
// single attribute write, so a process observed in the database is never
// between states.
type Process struct {
	env  *graph.Env
	node *graph.Node
}

// New prepares an unstored process of the given kind. Inputs are linked
// with AddInput before Start stores the node.
func New(ctx context.Context, env *graph.Env, kind, label string) (*Process, error) {
	node, err := graph.NewNode(env, kind)
	if err != nil {
		return nil, err
	}
	if !node.Spec().IsProcess() {
		return nil, graph.InvalidOperationf("kind %q is not a process kind", kind)
	}
	if err := node.SetAttr(ctx, graph.AttrProcessState, string(StateCreated)); err != nil {
		return nil, err
	}
	if label != "" {
		if err := node.SetAttr(ctx, graph.AttrProcessLabel, label); err != nil {
			return nil, err
		}
	}
	return &Process{env: env, node: node}, nil
}

// LoadProcess rehydrates a stored process node, typically on a worker
// other than the one that created it.
func LoadProcess(ctx context.Context, env *graph.Env, id uuid.UUID) (*Process, error) {
	node, err := graph.LoadNode(ctx, env, id)
	if err != nil {
		return nil, err
	}
	return FromNode(env, node)
}

// FromNode wraps an already loaded process node.
func FromNode(env *graph.Env, node *graph.Node) (*Process, error) {
	if !node.Spec().IsProcess() {
		return nil, graph.InvalidOperationf("node %s of kind %q is not a process", node.UUID(), node.Kind())
	}
	return &Process{env: env, node: node}, nil
}

func (p *Process) Node() *graph.Node { return p.node }
func (p *Process) UUID() uuid.UUID   { return p.node.UUID() }

// State reads the current lifecycle state from the attributes.
func (p *Process) State() State {
	v, _ := p.node.GetAttr(graph.AttrProcessState)
	s, _ := v.(string)
	return State(s)
}

func (p *Process) IsTerminated() bool { return p.State().Terminal() }
func (p *Process) IsSealed() bool     { return p.node.IsSealed() }

// ExitStatus returns the recorded exit status of a finished process.
func (p *Process) ExitStatus() (int, bool) {
	v, ok := p.node.GetAttr(graph.AttrExitStatus)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return int(f), ok
}

// AddInput links a stored data node as an input, choosing the input link
// type matching the process category.
func (p *Process) AddInput(ctx context.Context, source *graph.Node, label string) error {
	linkType := graph.LinkInputCalc
	if p.node.Spec().Category == graph.CategoryWorkflow {
		linkType = graph.LinkInputWork
	}
	return p.node.AddIncoming(ctx, source, linkType, label)
}

// Call links a sub-process under this workflow, recording the CALL edge
// that kill propagation later walks.
func (p *Process) Call(ctx context.Context, sub *Process, label string) error {
	linkType := graph.LinkCallCalc
	if sub.node.Spec().Category == graph.CategoryWorkflow {
		linkType = graph.LinkCallWork
	}
	return sub.node.AddIncoming(ctx, p.node, linkType, label)
}

// Start stores the process node and moves it to RUNNING. When the store
// resolved to a cache hit the node already carries the source's terminal
// attributes, so the process is sealed immediately and Start reports the
// hit instead of running anything.
func (p *Process) Start(ctx context.Context) (cached bool, err error) {
	if p.node.IsStored() {
		return false, graph.InvalidOperationf("process %s was already started", p.UUID())
	}
	if err := p.node.Store(ctx); err != nil {
		return false, err
	}
	if _, hit := p.node.GetExtra(graph.ExtraCachedFrom); hit {
		if err := p.Seal(ctx); err != nil {
			return true, err
		}
		return true, nil
	}
	return false, p.transition(ctx, StateRunning, nil)
}

// ToWaiting parks the process, persisting the checkpoint in the same
// attribute write as the state change.
func (p *Process) ToWaiting(ctx context.Context, checkpoint interface{}) error {
	extra := map[string]interface{}{}
	if checkpoint != nil {
		extra[graph.AttrCheckpoint] = checkpoint
	}
	return p.transition(ctx, StateWaiting, extra)
}

// ToRunning resumes a waiting process.
func (p *Process) ToRunning(ctx context.Context) error {
	return p.transition(ctx, StateRunning, nil)
}

// Finish records the exit status and message and moves to FINISHED.
func (p *Process) Finish(ctx context.Context, exitStatus int, exitMessage string) error {
	extra := map[string]interface{}{graph.AttrExitStatus: exitStatus}
	if exitMessage != "" {
		extra[graph.AttrExitMessage] = exitMessage
	}
	return p.transition(ctx, StateFinished, extra)
}

// Except records the exception text and moves to EXCEPTED. Allowed from
// any non-terminal state.
func (p *Process) Except(ctx context.Context, exception string) error {
	return p.transition(ctx, StateExcepted, map[string]interface{}{
		graph.AttrException: exception,
	})
}

func (p *Process) transition(ctx context.Context, to State, extra map[string]interface{}) error {
	from := p.State()
	if from.Terminal() {
		return graph.InvalidOperationf(
			"process %s is in terminal state %q and cannot move to %q", p.UUID(), from, to)
	}
	if !canTransition(from, to) {
		return graph.InvalidOperationf(
			"process %s cannot move from %q to %q", p.UUID(), from, to)
	}
	updates := map[string]interface{}{graph.AttrProcessState: string(to)}
	for key, value := range extra {
		updates[key] = value
	}
	return p.node.SetAttrs(ctx, updates)
}

// SetStatus records a human-readable progress message.
func (p *Process) SetStatus(ctx context.Context, status string) error {
	return p.node.SetAttr(ctx, graph.AttrProcessStatus, status)
}

// Pause marks the process paused without changing its state. Terminal
// processes cannot be paused.
func (p *Process) Pause(ctx context.Context, reason string) error {
	if p.State().Terminal() {
		return graph.InvalidOperationf("process %s is terminated and cannot be paused", p.UUID())
	}
	updates := map[string]interface{}{graph.AttrPaused: true}
	if reason != "" {
		updates[graph.AttrProcessStatus] = reason
	}
	return p.node.SetAttrs(ctx, updates)
}

// Play clears the paused marker.
func (p *Process) Play(ctx context.Context) error {
	return p.node.SetAttr(ctx, graph.AttrPaused, false)
}

func (p *Process) IsPaused() bool {
	v, _ := p.node.GetAttr(graph.AttrPaused)
	paused, _ := v.(bool)
	return paused
}

// SaveCheckpoint persists an opaque resumption bundle.
func (p *Process) SaveCheckpoint(ctx context.Context, checkpoint interface{}) error {
	return p.node.SetAttr(ctx, graph.AttrCheckpoint, checkpoint)
}

// RestoreCheckpoint decodes the persisted checkpoint into out. Returns
// NotExistent when no checkpoint has been written.
func (p *Process) RestoreCheckpoint(out interface{}) error {
	v, ok := p.node.GetAttr(graph.AttrCheckpoint)
	if !ok {
		return graph.NotExistentf("process %s has no checkpoint", p.UUID())
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Seal freezes the process record. Only terminal processes can be sealed
// and only once.
func (p *Process) Seal(ctx context.Context) error {
	if !p.State().Terminal() {
		return graph.InvalidOperationf(
			"process %s is in state %q and can only be sealed once terminated", p.UUID(), p.State())
	}
	return p.node.Seal(ctx)
}

// Kill terminates the process and every live sub-process reachable over
// CALL links. Children already in a terminal state are skipped; any other
// failure aborts the walk so the parent stays killable by a retry.
func (p *Process) Kill(ctx context.Context, reason string) error {
	if p.State().Terminal() {
		return graph.InvalidOperationf("process %s is already terminated", p.UUID())
	}
	// Record intent first so a dying worker leaves a visible trace even
	// when the recursion below fails halfway.
	if err := p.node.SetAttr(ctx, graph.AttrKillRequested, true); err != nil {
		return err
	}
	calls, err := p.node.Outgoing(ctx, graph.CallLinkTypes...)
	if err != nil {
		return err
	}
	for _, link := range calls {
		child, err := LoadProcess(ctx, p.env, link.TargetID)
		if err != nil {
			return err
		}
		if child.State().Terminal() {
			continue
		}
		if err := child.Kill(ctx, fmt.Sprintf("killed through caller %s", p.UUID())); err != nil {
			return err
		}
	}
	extra := map[string]interface{}{}
	if reason != "" {
		extra[graph.AttrProcessStatus] = reason
	}
	return p.transition(ctx, StateKilled, extra)
}

// KillRequested reports whether a kill was asked for, for cooperative
// checks inside long-running steps.
func (p *Process) KillRequested() bool {
	v, _ := p.node.GetAttr(graph.AttrKillRequested)
	requested, _ := v.(bool)
	return requested
}

// AddOutput stores a created data node linked under this process. The
// process must be live: sealed processes accept no new outputs.
func (p *Process) AddOutput(ctx context.Context, output *graph.Node, label string) error {
	if p.node.IsSealed() {
		return graph.ModificationNotAllowedf("process %s is sealed and accepts no outputs", p.UUID())
	}
	linkType := graph.LinkCreate
	if p.node.Spec().Category == graph.CategoryWorkflow {
		linkType = graph.LinkReturn
	}
	return output.AddIncoming(ctx, p.node, linkType, label)
}
