package app

import (
	"context"

	"github.com/iriberri/provgraph/internal/graph"
	"github.com/iriberri/provgraph/internal/platform/logger"
	"github.com/iriberri/provgraph/internal/platform/neo4jdb"
	"github.com/iriberri/provgraph/internal/process"
	"github.com/iriberri/provgraph/internal/process/worker"
	"github.com/iriberri/provgraph/internal/services/graphmirror"
	"github.com/iriberri/provgraph/internal/services/proccontrol"
)

type Services struct {
	Guard      *process.Guard
	Pool       *worker.Pool
	Mirror     *graphmirror.Mirror
	ControlBus *proccontrol.Bus
}

func wireServices(cfg Config, log *logger.Logger, reposet Repos, env *graph.Env, workerID string) (Services, error) {
	var s Services

	s.Guard = process.NewGuard(reposet.Locks, workerID, log)

	// Both the mirror and the control bus are optional: NewFromEnv
	// returns nil when the relevant address is unset.
	neoClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		return s, err
	}
	if neoClient != nil {
		mirror, err := graphmirror.New(neoClient, log)
		if err != nil {
			return s, err
		}
		s.Mirror = mirror
		env.Mirror = mirror
	}

	bus, err := proccontrol.NewFromEnv(log)
	if err != nil {
		return s, err
	}
	s.ControlBus = bus

	if cfg.WorkerEnabled {
		s.Pool = worker.NewPool(env, reposet.Nodes, s.Guard, log, worker.Options{
			PollInterval: cfg.WorkerPoll,
			ClaimLimit:   cfg.WorkerClaimLimit,
			Concurrency:  cfg.WorkerConcurrency,
		})
	}

	return s, nil
}

// handleControl applies a control bus command by persisting the intent
// on the process node; workers converge on the persisted attributes.
func handleControl(env *graph.Env, log *logger.Logger) func(cmd proccontrol.Command) {
	return func(cmd proccontrol.Command) {
		ctx := context.Background()
		proc, err := process.LoadProcess(ctx, env, cmd.ProcessID)
		if err != nil {
			log.Warn("Control command for unknown process", "process", cmd.ProcessID, "error", err)
			return
		}
		switch cmd.Action {
		case proccontrol.ActionKill:
			if proc.IsTerminated() {
				return
			}
			err = proc.Node().SetAttr(ctx, graph.AttrKillRequested, true)
		case proccontrol.ActionPause:
			err = proc.Pause(ctx, cmd.Reason)
		case proccontrol.ActionPlay:
			err = proc.Play(ctx)
		default:
			log.Warn("Unknown control action", "action", cmd.Action)
			return
		}
		if err != nil {
			log.Warn("Failed to apply control command",
				"process", cmd.ProcessID, "action", cmd.Action, "error", err)
		}
	}
}
