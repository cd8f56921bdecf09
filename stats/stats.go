package stats

import (
	"context"
	"sync"
	"time"

	"github.com/viant/nanokernel/internal/clock"
)

// Delta represents an incremental counter change.
type Delta struct {
	ContextSwitches int
	Preemptions     int
	Yields          int
	Syscalls        int
	Faults          int
	Forks           int
	Execs           int
	Spawns          int
	Exits           int
	Reaps           int
	Instructions    int64
}

// Stats keeps aggregated kernel counters. It is safe for concurrent use.
type Stats struct {
	BootID    string    `json:"bootId" yaml:"bootId"`
	StartedAt time.Time `json:"startedAt" yaml:"startedAt"`

	ContextSwitches int   `json:"contextSwitches" yaml:"contextSwitches"`
	Preemptions     int   `json:"preemptions" yaml:"preemptions"`
	Yields          int   `json:"yields" yaml:"yields"`
	Syscalls        int   `json:"syscalls" yaml:"syscalls"`
	Faults          int   `json:"faults" yaml:"faults"`
	Forks           int   `json:"forks" yaml:"forks"`
	Execs           int   `json:"execs" yaml:"execs"`
	Spawns          int   `json:"spawns" yaml:"spawns"`
	Exits           int   `json:"exits" yaml:"exits"`
	Reaps           int   `json:"reaps" yaml:"reaps"`
	Instructions    int64 `json:"instructions" yaml:"instructions"`

	// Memory counters are sampled, not accumulated.
	TLBHits    uint64 `json:"tlbHits" yaml:"tlbHits"`
	TLBMisses  uint64 `json:"tlbMisses" yaml:"tlbMisses"`
	PageFaults uint64 `json:"pageFaults" yaml:"pageFaults"`
	FramesPeak int    `json:"framesPeak" yaml:"framesPeak"`

	mux      sync.Mutex
	onChange func(Stats)
}

// New creates a tracker.
func New(bootID string, onChange func(Stats)) *Stats {
	return &Stats{BootID: bootID, StartedAt: clock.Now(), onChange: onChange}
}

// Update applies d. The change callback, if any, gets a copy taken under the
// lock and runs outside of it.
func (s *Stats) Update(d Delta) {
	if s == nil {
		return
	}
	s.mux.Lock()
	s.ContextSwitches += d.ContextSwitches
	s.Preemptions += d.Preemptions
	s.Yields += d.Yields
	s.Syscalls += d.Syscalls
	s.Faults += d.Faults
	s.Forks += d.Forks
	s.Execs += d.Execs
	s.Spawns += d.Spawns
	s.Exits += d.Exits
	s.Reaps += d.Reaps
	s.Instructions += d.Instructions
	snapshot := s.copy()
	cb := s.onChange
	s.mux.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Sample records the current memory counters.
func (s *Stats) Sample(tlbHits, tlbMisses, pageFaults uint64, framesPeak int) {
	if s == nil {
		return
	}
	s.mux.Lock()
	s.TLBHits, s.TLBMisses, s.PageFaults, s.FramesPeak = tlbHits, tlbMisses, pageFaults, framesPeak
	s.mux.Unlock()
}

// Snapshot returns a copy suitable for read-only inspection.
func (s *Stats) Snapshot() Stats {
	if s == nil {
		return Stats{}
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.copy()
}

// OnChange registers a callback invoked after every Update; nil disables it.
func (s *Stats) OnChange(cb func(Stats)) {
	if s == nil {
		return
	}
	s.mux.Lock()
	s.onChange = cb
	s.mux.Unlock()
}

func (s *Stats) copy() Stats {
	return Stats{
		BootID:          s.BootID,
		StartedAt:       s.StartedAt,
		ContextSwitches: s.ContextSwitches,
		Preemptions:     s.Preemptions,
		Yields:          s.Yields,
		Syscalls:        s.Syscalls,
		Faults:          s.Faults,
		Forks:           s.Forks,
		Execs:           s.Execs,
		Spawns:          s.Spawns,
		Exits:           s.Exits,
		Reaps:           s.Reaps,
		Instructions:    s.Instructions,
		TLBHits:         s.TLBHits,
		TLBMisses:       s.TLBMisses,
		PageFaults:      s.PageFaults,
		FramesPeak:      s.FramesPeak,
	}
}

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithTracker embeds a tracker in a derived context.
func WithTracker(ctx context.Context, s *Stats) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, trackerKey, s)
}

// FromContext extracts the tracker from ctx.
func FromContext(ctx context.Context) (*Stats, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(trackerKey).(*Stats)
	return s, ok
}

// UpdateCtx applies d to the tracker carried by ctx, if any.
func UpdateCtx(ctx context.Context, d Delta) {
	if s, ok := FromContext(ctx); ok {
		s.Update(d)
	}
}
