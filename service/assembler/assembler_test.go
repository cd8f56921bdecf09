package assembler

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/nanokernel/model/image"
	"github.com/viant/nanokernel/model/isa"
)

func decode(t *testing.T, code []byte) []isa.Instruction {
	var ret []isa.Instruction
	for i := 0; i < len(code); i += isa.InstructionSize {
		in, err := isa.Decode(code[i:])
		require.NoError(t, err)
		ret = append(ret, in)
	}
	return ret
}

func TestAssemble_StartStub(t *testing.T) {
	img, err := Assemble([]byte(`
; returns five
.text
main:
    li v0, 5   # result
    ret
`))
	require.NoError(t, err)
	assert.EqualValues(t, 0, img.Entry)
	assert.Equal(t, []isa.Instruction{
		{Op: isa.OpJal, Imm: int32(image.CodeBase) + 32},
		{Op: isa.OpMov, Rd: isa.A0, Rs: isa.V0},
		{Op: isa.OpLi, Rd: isa.V0, Imm: isa.SysExit},
		{Op: isa.OpSyscall},
		{Op: isa.OpLi, Rd: isa.V0, Imm: 5},
		{Op: isa.OpJr, Rs: isa.RA},
	}, decode(t, img.Code))
	assert.Empty(t, img.Data)
}

func TestAssemble_Sections(t *testing.T) {
	img, err := Assemble([]byte(`
.data
a:   .byte 1
b:   .word 7, b
msg: .asciz "hi"
.bss
buf: .space 16
.text
_start:
    la  a0, msg
    lw  t0, 0(a0)
    sw  t0, b(zero)
    la  a1, buf
    li  v0, SYS_EXIT
    syscall
`))
	require.NoError(t, err)
	assert.EqualValues(t, 0, img.Entry)
	assert.Equal(t, uint32(0x2000), img.DataBase())
	assert.Equal(t, []byte{1, 0, 0, 0, 7, 0, 0, 0, 0x04, 0x20, 0, 0, 'h', 'i', 0}, img.Data)
	assert.EqualValues(t, 16, img.BSS)
	assert.Equal(t, []isa.Instruction{
		{Op: isa.OpLi, Rd: isa.A0, Imm: 0x200C},
		{Op: isa.OpLw, Rd: isa.T0, Rs: isa.A0},
		{Op: isa.OpSw, Rs: isa.Zero, Rt: isa.T0, Imm: 0x2004},
		{Op: isa.OpLi, Rd: isa.A1, Imm: 0x200F},
		{Op: isa.OpLi, Rd: isa.V0, Imm: isa.SysExit},
		{Op: isa.OpSyscall},
	}, decode(t, img.Code))
}

func TestAssemble_Pseudo(t *testing.T) {
	img, err := Assemble([]byte(`
.equ SIZE, 12
_start:
    push ra
    pop  t0
    call _start
    li   a0, SIZE
    li   a1, 'A'
    li   a2, 0x10
    li   a3, ENOMEM
loop: beq a0, zero, loop
`))
	require.NoError(t, err)
	assert.Equal(t, []isa.Instruction{
		{Op: isa.OpAddi, Rd: isa.SP, Rs: isa.SP, Imm: -4},
		{Op: isa.OpSw, Rs: isa.SP, Rt: isa.RA},
		{Op: isa.OpLw, Rd: isa.T0, Rs: isa.SP},
		{Op: isa.OpAddi, Rd: isa.SP, Rs: isa.SP, Imm: 4},
		{Op: isa.OpJal, Imm: int32(image.CodeBase)},
		{Op: isa.OpLi, Rd: isa.A0, Imm: 12},
		{Op: isa.OpLi, Rd: isa.A1, Imm: 'A'},
		{Op: isa.OpLi, Rd: isa.A2, Imm: 16},
		{Op: isa.OpLi, Rd: isa.A3, Imm: isa.ENOMEM},
		{Op: isa.OpBeq, Rs: isa.A0, Rt: isa.Zero, Imm: int32(image.CodeBase) + 72},
	}, decode(t, img.Code))
}

func TestAssemble_Errors(t *testing.T) {
	testCases := []struct {
		description string
		source      string
		expect      error
		line        int
	}{
		{description: "unknown mnemonic", source: "main:\n  foo a0", expect: ErrUnknownMnemonic, line: 2},
		{description: "operand count", source: "main:\n  add a0, a1", expect: ErrOperand, line: 2},
		{description: "operand kind", source: "main:\n  lw a0, a1", expect: ErrOperand, line: 2},
		{description: "undefined label", source: "main:\n\n  j nowhere", expect: ErrUndefined, line: 3},
		{description: "duplicate label", source: "main:\nmain:", expect: ErrDuplicate, line: 2},
		{description: "instruction in data", source: ".data\n  li a0, 1\nmain:", expect: ErrSection, line: 2},
		{description: "data in text", source: "main:\n  .word 1", expect: ErrSection, line: 2},
		{description: "dangling comma", source: "main:\n  li a0, 1,", expect: ErrSyntax, line: 2},
		{description: "unterminated memory operand", source: "main:\n  lw a0, 4(sp", expect: ErrSyntax, line: 2},
		{description: "number out of range", source: "main:\n  li a0, 99999999999", expect: ErrOperand, line: 2},
		{description: "bad alignment", source: ".data\n.align 3\n.text\nmain:", expect: ErrOperand, line: 2},
		{description: "missing main", source: "  li v0, 0", expect: ErrUndefined},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			_, err := Assemble([]byte(tc.source))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.expect), err.Error())
			if tc.line == 0 {
				return
			}
			var located *Error
			require.True(t, errors.As(err, &located))
			assert.Equal(t, tc.line, located.Line)
		})
	}
}

func TestService_Build(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	baseURL := "mem://localhost/assembler/" + t.Name()
	source := ".data\nmsg: .asciz \"ok\"\n.text\nmain:\n  li v0, 0\n  ret\n"
	require.NoError(t, fs.Upload(ctx, baseURL+"/prog.s", file.DefaultFileOsMode, strings.NewReader(source)))

	service := New(fs)
	img, err := service.Build(ctx, baseURL+"/prog.s", baseURL+"/prog")
	require.NoError(t, err)
	data, err := fs.DownloadWithURL(ctx, baseURL+"/prog")
	require.NoError(t, err)
	decoded, err := image.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, img, decoded)
	assert.Equal(t, []byte("ok\x00"), decoded.Data)

	_, err = service.Build(ctx, baseURL+"/missing.s", baseURL+"/missing")
	assert.Error(t, err)
}
