// Package scheduler owns the run queue. It is the only service allowed to
// move a process in or out of the RUNNING state, and it activates the address
// space of every process it dispatches.
package scheduler
