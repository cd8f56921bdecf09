package isa

import (
	"strconv"
	"strings"
)

var registerAliases = map[string]uint8{
	"zero": Zero,
	"v0":   V0,
	"a0":   A0,
	"a1":   A1,
	"a2":   A2,
	"a3":   A3,
	"t0":   6,
	"t1":   7,
	"t2":   8,
	"t3":   9,
	"t4":   10,
	"t5":   11,
	"t6":   12,
	"t7":   13,
	"sp":   SP,
	"ra":   RA,
}

// LookupRegister resolves a register alias (a0, sp, ...) or a numbered
// register (r0..r15).
func LookupRegister(name string) (uint8, bool) {
	name = strings.ToLower(name)
	if reg, ok := registerAliases[name]; ok {
		return reg, true
	}
	if !strings.HasPrefix(name, "r") {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 0 || n >= Registers {
		return 0, false
	}
	return uint8(n), true
}
