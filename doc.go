// Package nanokernel simulates a small teaching kernel: a single core that
// runs user programs in private virtual address spaces, a round robin
// scheduler with a timer quantum, and the process lifecycle calls fork,
// exec, spawn, join, exit and halt. User programs also get malloc and free
// over an on-demand heap and file descriptors backed by afs.
//
// The root package wires the pieces into a Kernel:
//
//	srv, _ := nanokernel.New(nanokernel.WithConfig(config))
//	kernel := srv.Kernel()
//	_, _ = kernel.InstallSource(ctx, "hello", source)
//	report, _ := kernel.Boot(ctx, "hello", "world")
//	fmt.Println(report.Status(), report.Summary())
//
// Programs are written for a small register ISA (see model/isa) and built
// with the assembler in service/assembler.
package nanokernel
