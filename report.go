package nanokernel

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/viant/nanokernel/runtime/vm"
	"github.com/viant/nanokernel/service/table"
	"github.com/viant/nanokernel/stats"
)

// Report describes a finished boot.
type Report struct {
	BootID       string        `json:"bootId" yaml:"bootId"`
	Program      string        `json:"program" yaml:"program"`
	Args         []string      `json:"args" yaml:"args"`
	Halted       bool          `json:"halted" yaml:"halted"`
	HaltPID      int           `json:"haltPid,omitempty" yaml:"haltPid,omitempty"`
	Exits        map[int]int32 `json:"exits" yaml:"exits"`
	Instructions int64         `json:"instructions" yaml:"instructions"`
	Elapsed      time.Duration `json:"elapsed" yaml:"elapsed"`
	Stats        stats.Stats   `json:"stats" yaml:"stats"`
}

// Status returns the exit status of the root process, or 0 when the
// system was halted before the root exited.
func (r *Report) Status() int32 {
	if status, ok := r.Exits[table.RootPID]; ok {
		return status
	}
	return 0
}

// Summary renders the headline counters.
func (r *Report) Summary() string {
	return fmt.Sprintf("%s instructions, %d processes, %d context switches, %s peak memory in %v",
		humanize.Comma(r.Instructions), len(r.Exits), r.Stats.ContextSwitches,
		humanize.IBytes(uint64(r.Stats.FramesPeak)*vm.PageSize), r.Elapsed.Round(time.Microsecond))
}
