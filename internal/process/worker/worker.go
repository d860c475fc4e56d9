package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iriberri/provgraph/internal/graph"
	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/process"
	"github.com/iriberri/provgraph/internal/repos"
)

// Resumer continues a live process from its persisted checkpoint. A
// resumer is registered per process type and must drive the process to a
// terminal state or park it back in WAITING with a fresh checkpoint.
type Resumer interface {
	Resume(ctx context.Context, proc *process.Process) error
}

type ResumerFunc func(ctx context.Context, proc *process.Process) error

func (f ResumerFunc) Resume(ctx context.Context, proc *process.Process) error {
	return f(ctx, proc)
}

type Options struct {
	PollInterval time.Duration
	ClaimLimit   int
	Concurrency  int
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ClaimLimit <= 0 {
		o.ClaimLimit = 10
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	return o
}

// Pool polls for processes sitting in RUNNING or WAITING, takes the node
// lock and hands each one to the resumer registered for its process
// type. Contended locks mean another worker owns the process; the pool
// skips those silently.
type Pool struct {
	env   *graph.Env
	nodes repos.NodeRepo
	guard *process.Guard
	log   *logger.Logger
	opts  Options

	mu       sync.Mutex
	resumers map[string]Resumer
	inflight map[uuid.UUID]struct{}
}

func NewPool(env *graph.Env, nodes repos.NodeRepo, guard *process.Guard, baseLog *logger.Logger, opts Options) *Pool {
	return &Pool{
		env:      env,
		nodes:    nodes,
		guard:    guard,
		log:      baseLog.With("component", "ProcessWorker"),
		opts:     opts.withDefaults(),
		resumers: map[string]Resumer{},
		inflight: map[uuid.UUID]struct{}{},
	}
}

// Register installs the resumer for a process type. The empty key is the
// fallback for processes without a process type.
func (p *Pool) Register(processType string, r Resumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumers[processType] = r
}

func (p *Pool) resumerFor(processType string) (Resumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.resumers[processType]
	return r, ok
}

// Run polls until ctx is cancelled, then waits for in-flight resumes to
// drain and releases any locks still held.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gctx.Done():
			err := g.Wait()
			p.guard.ReleaseAll(context.Background())
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		case <-ticker.C:
			p.claim(gctx, g)
		}
	}
}

func (p *Pool) claim(ctx context.Context, g *errgroup.Group) {
	rows, err := p.nodes.FindByProcessState(ctx, nil,
		[]string{string(process.StateRunning), string(process.StateWaiting)}, p.opts.ClaimLimit)
	if err != nil {
		p.log.Warn("Failed to list resumable processes", "error", err)
		return
	}
	for _, row := range rows {
		id := row.UUID
		if !p.markInflight(id) {
			continue
		}
		g.Go(func() error {
			defer p.clearInflight(id)
			p.runOne(ctx, id)
			return nil
		})
	}
}

func (p *Pool) markInflight(id uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[id]; busy {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Pool) clearInflight(id uuid.UUID) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

func (p *Pool) runOne(ctx context.Context, id uuid.UUID) {
	release, err := p.guard.Lock(ctx, id)
	if err != nil {
		if graph.IsLockError(err) {
			return
		}
		p.log.Warn("Failed to lock process", "process", id, "error", err)
		return
	}
	defer release()

	proc, err := process.LoadProcess(ctx, p.env, id)
	if err != nil {
		p.log.Error("Failed to rehydrate process", "process", id, "error", err)
		return
	}
	if proc.IsTerminated() || proc.IsPaused() {
		return
	}
	if proc.KillRequested() {
		if err := proc.Kill(ctx, "kill requested"); err != nil {
			p.log.Error("Failed to kill process", "process", id, "error", err)
		}
		return
	}
	if proc.State() == process.StateWaiting {
		if err := proc.ToRunning(ctx); err != nil {
			p.log.Error("Failed to resume waiting process", "process", id, "error", err)
			return
		}
	}

	resumer, ok := p.resumerFor(proc.Node().ProcessType())
	if !ok {
		resumer, ok = p.resumerFor("")
	}
	if !ok {
		p.log.Warn("No resumer registered for process type",
			"process", id, "process_type", proc.Node().ProcessType())
		return
	}

	// A panicking resumer must not take the pool down; the process is
	// recorded as excepted instead.
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("Resumer panic", "process", id, "panic", r)
				if err := proc.Except(ctx, fmt.Sprintf("resumer panic: %v", r)); err != nil {
					p.log.Error("Failed to record panic on process", "process", id, "error", err)
				}
			}
		}()
		if err := resumer.Resume(ctx, proc); err != nil {
			p.log.Error("Resumer failed", "process", id, "error", err)
			if exceptErr := proc.Except(ctx, err.Error()); exceptErr != nil {
				p.log.Error("Failed to record failure on process", "process", id, "error", exceptErr)
			}
		}
	}()
}
