package memory

import (
	"context"

	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/service/dao"
	"github.com/viant/nanokernel/service/dao/criteria"
	"github.com/viant/nanokernel/service/dao/store"
)

// Service keeps process control blocks in memory, keyed by pid.
// List returns PCBs in ascending pid order.
type Service struct {
	*store.MemoryStore[int, process.Process]
}

var _ dao.Service[int, process.Process] = (*Service)(nil)

// Save stores a PCB.
func (s *Service) Save(ctx context.Context, p *process.Process) error {
	if p == nil {
		return dao.ErrNilEntity
	}
	if p.PID <= 0 {
		return dao.ErrInvalidID
	}
	return s.MemoryStore.Save(ctx, p)
}

// Load returns a PCB by pid.
func (s *Service) Load(ctx context.Context, pid int) (*process.Process, error) {
	if pid <= 0 {
		return nil, dao.ErrInvalidID
	}
	return s.MemoryStore.Load(ctx, pid)
}

// New creates a PCB store.
func New() *Service {
	return &Service{
		MemoryStore: store.NewMemoryStore[int, process.Process](
			func(p *process.Process) int { return p.PID },
			store.WithFilter[int, process.Process](func(p *process.Process, parameters []*dao.Parameter) bool {
				return criteria.FilterByState(p.State, parameters)
			}),
			store.WithOrder[int, process.Process](func(a, b *process.Process) bool { return a.PID < b.PID }),
		),
	}
}
