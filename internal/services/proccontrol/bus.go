package proccontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/iriberri/provgraph/internal/platform/envutil"
	"github.com/iriberri/provgraph/internal/platform/logger"
)

// Action is a control request addressed to a running process.
type Action string

const (
	ActionKill  Action = "kill"
	ActionPause Action = "pause"
	ActionPlay  Action = "play"
)

// Command travels over the control channel. The intent is also persisted
// in the process attributes, so a worker that missed the broadcast still
// converges on its next poll.
type Command struct {
	Action    Action    `json:"action"`
	ProcessID uuid.UUID `json:"process_id"`
	Reason    string    `json:"reason,omitempty"`
}

// Bus is a redis pub/sub channel for process control commands shared
// between workers.
type Bus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewFromEnv returns (nil, nil) when REDIS_ADDR is unset: the control
// bus is optional and the engine works without cross-worker signalling.
func NewFromEnv(log *logger.Logger) (*Bus, error) {
	if log == nil {
		return nil, fmt.Errorf("proccontrol: logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}
	channel := envutil.String("PROCESS_CONTROL_CHANNEL", "process_control")

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("proccontrol: redis ping: %w", err)
	}

	return &Bus{
		log:     log.With("service", "ProcessControlBus"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (b *Bus) Publish(ctx context.Context, cmd Command) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("proccontrol: bus not initialized")
	}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartListener subscribes and forwards decoded commands to onCmd until
// ctx is cancelled.
func (b *Bus) StartListener(ctx context.Context, onCmd func(cmd Command)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("proccontrol: bus not initialized")
	}
	if onCmd == nil {
		return fmt.Errorf("proccontrol: onCmd callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("proccontrol: redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var cmd Command
				if err := json.Unmarshal([]byte(m.Payload), &cmd); err != nil {
					b.log.Warn("Bad control payload", "error", err)
					continue
				}
				onCmd(cmd)
			}
		}
	}()

	return nil
}

func (b *Bus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
