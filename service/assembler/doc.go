// Package assembler translates nanokernel assembly into program images.
//
// A source file has a .text section with instructions and a .data section
// with initialised data; .bss reserves zero filled space. Labels end with a
// colon. Besides the machine opcodes the assembler accepts push, pop, la,
// call and ret, and it predefines the SYS_* syscall numbers and the error
// results (ENOMEM, ECHILD, ...). Unless the program defines _start, a start
// stub is emitted that calls main with argc in a0 and argv in a1 and exits
// with main's return value.
//
//	.data
//	msg: .asciz "hello\n"
//	.text
//	main:
//	    li   a0, 1
//	    la   a1, msg
//	    li   a2, 6
//	    li   v0, SYS_WRITE
//	    syscall
//	    li   v0, 0
//	    ret
package assembler
