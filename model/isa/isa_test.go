package isa

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	testCases := []struct {
		description string
		input       []byte
		expect      Instruction
		expectErr   error
	}{
		{
			description: "negative immediate",
			input:       Instruction{Op: OpAddi, Rd: 6, Rs: 6, Imm: -1}.Bytes(),
			expect:      Instruction{Op: OpAddi, Rd: 6, Rs: 6, Imm: -1},
		},
		{
			description: "syscall",
			input:       Instruction{Op: OpSyscall}.Bytes(),
			expect:      Instruction{Op: OpSyscall},
		},
		{
			description: "illegal opcode",
			input:       []byte{0xFF, 0, 0, 0, 0, 0, 0, 0},
			expectErr:   ErrIllegalInstruction,
		},
		{
			description: "illegal register",
			input:       []byte{byte(OpMov), 16, 0, 0, 0, 0, 0, 0},
			expectErr:   ErrIllegalInstruction,
		},
		{
			description: "truncated",
			input:       []byte{byte(OpNop)},
			expectErr:   ErrTruncated,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			actual, err := Decode(tc.input)
			if tc.expectErr != nil {
				assert.True(t, errors.Is(err, tc.expectErr), err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expect, actual)
		})
	}
}

func TestLookupRegister(t *testing.T) {
	testCases := []struct {
		name   string
		expect uint8
		ok     bool
	}{
		{"zero", 0, true},
		{"v0", V0, true},
		{"a3", A3, true},
		{"t7", 13, true},
		{"SP", SP, true},
		{"r15", RA, true},
		{"r16", 0, false},
		{"main", 0, false},
	}
	for _, tc := range testCases {
		reg, ok := LookupRegister(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.expect, reg, tc.name)
	}
}

func TestLookupOpcode(t *testing.T) {
	for op := OpNop; op < opCount; op++ {
		actual, ok := LookupOpcode(op.String())
		assert.True(t, ok)
		assert.Equal(t, op, actual)
	}
	_, ok := LookupOpcode("push")
	assert.False(t, ok)
}
