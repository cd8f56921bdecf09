package lifecycle

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/viant/nanokernel/service/event"
)

// Kind names a lifecycle transition.
type Kind string

const (
	KindBooted  Kind = "booted"
	KindForked  Kind = "forked"
	KindExec    Kind = "exec"
	KindSpawned Kind = "spawned"
	KindExited  Kind = "exited"
	KindReaped  Kind = "reaped"
	KindFaulted Kind = "faulted"
	KindHalted  Kind = "halted"
)

// Event is the payload published for every lifecycle transition.
type Event struct {
	Kind      Kind     `json:"kind" yaml:"kind"`
	PID       int      `json:"pid" yaml:"pid"`
	ParentPID int      `json:"parentPid,omitempty" yaml:"parentPid,omitempty"`
	ChildPID  int      `json:"childPid,omitempty" yaml:"childPid,omitempty"`
	Status    int32    `json:"status" yaml:"status"`
	Path      string   `json:"path,omitempty" yaml:"path,omitempty"`
	Args      []string `json:"args,omitempty" yaml:"args,omitempty"`
	Reason    string   `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func (s *Service) publish(ctx context.Context, e Event) {
	if s.events == nil {
		return
	}
	publisher, err := event.PublisherOf[Event](s.events)
	if err != nil {
		log.Error().Err(err).Msg("failed to get lifecycle publisher")
		return
	}
	eCtx := &event.Context{BootID: s.bootID, PID: e.PID, EventType: string(e.Kind), Service: "lifecycle", Method: string(e.Kind)}
	if err = publisher.Publish(ctx, event.NewEvent[Event](eCtx, e)); err != nil {
		log.Debug().Err(err).Str("kind", string(e.Kind)).Int("pid", e.PID).Msg("lifecycle event dropped")
	}
}
