// Package stats keeps aggregated kernel counters (context switches,
// preemptions, syscalls, faults, lifecycle operations). A tracker can travel
// in a context so that any component receiving it can apply a Delta without
// a global registry.
package stats
