// Package syscall bridges a trapping process with the kernel services. It
// decodes the call from the saved registers, marshals strings and buffers
// through the caller's address space and converts every failure into a
// negative result in v0.
package syscall
