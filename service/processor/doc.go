// Package processor runs the kernel loop of the single simulated core.
//
// Every step dispatches the head of the run queue, executes it for at most
// one scheduling quantum and handles the trap that stopped it: the timer
// preempts, a syscall goes to the syscall layer and a fault terminates the
// process. Steps are serialised by the kernel lock so that the process
// table, the run queue and the frame pool only ever change as a unit.
package processor
