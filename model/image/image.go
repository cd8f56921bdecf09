package image

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/viant/nanokernel/model/isa"
)

// Virtual memory layout shared by the loader and the assembler.
const (
	PageSize = 4096
	// CodeBase is where the code section is loaded; page zero stays unmapped.
	CodeBase uint32 = 0x1000
	// StackTop is the initial stack pointer; the argument page starts here.
	StackTop uint32 = 0x7FFF0000

	Version    = 1
	HeaderSize = 24
)

var magic = []byte("NKX1")

// ErrMalformed is returned when an image cannot be decoded.
var ErrMalformed = errors.New("malformed program image")

// Image is an executable program: code, initialised data and the size of
// the zero-filled bss that follows the data.
type Image struct {
	// Entry is the offset of the first instruction within Code.
	Entry uint32
	Code  []byte
	Data  []byte
	BSS   uint32
}

// EntryPoint returns the virtual address execution starts at.
func (i *Image) EntryPoint() uint32 {
	return CodeBase + i.Entry
}

// DataBase returns the virtual address of the data section.
func (i *Image) DataBase() uint32 {
	return DataBase(uint32(len(i.Code)))
}

// DataEnd returns the end of data plus bss.
func (i *Image) DataEnd() uint32 {
	return i.DataBase() + uint32(len(i.Data)) + i.BSS
}

// DataBase returns the data address for a code section of codeLen bytes.
func DataBase(codeLen uint32) uint32 {
	return AlignUp(CodeBase+codeLen, PageSize)
}

// AlignUp rounds v up to a multiple of align.
func AlignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// Validate checks the structural invariants of the image.
func (i *Image) Validate() error {
	if len(i.Code) == 0 {
		return errors.WithMessage(ErrMalformed, "empty code section")
	}
	if len(i.Code)%isa.InstructionSize != 0 {
		return errors.Wrapf(ErrMalformed, "code size %d is not a multiple of %d", len(i.Code), isa.InstructionSize)
	}
	if i.Entry%isa.InstructionSize != 0 || int(i.Entry) >= len(i.Code) {
		return errors.Wrapf(ErrMalformed, "entry %#x outside code", i.Entry)
	}
	end := uint64(DataBase(uint32(len(i.Code)))) + uint64(len(i.Data)) + uint64(i.BSS)
	if end >= uint64(StackTop) {
		return errors.Wrapf(ErrMalformed, "sections end at %#x", end)
	}
	return nil
}

// Encode serialises the image.
func (i *Image) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(i.Code)+len(i.Data)))
	buf.Write(magic)
	header := make([]byte, HeaderSize-len(magic))
	binary.LittleEndian.PutUint16(header[0:], Version)
	binary.LittleEndian.PutUint32(header[4:], i.Entry)
	binary.LittleEndian.PutUint32(header[8:], uint32(len(i.Code)))
	binary.LittleEndian.PutUint32(header[12:], uint32(len(i.Data)))
	binary.LittleEndian.PutUint32(header[16:], i.BSS)
	buf.Write(header)
	buf.Write(i.Code)
	buf.Write(i.Data)
	return buf.Bytes()
}

// Decode parses and validates an encoded image.
func Decode(data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, errors.Wrapf(ErrMalformed, "truncated header: %d bytes", len(data))
	}
	if !bytes.Equal(data[:len(magic)], magic) {
		return nil, errors.WithMessage(ErrMalformed, "bad magic")
	}
	header := data[len(magic):HeaderSize]
	if version := binary.LittleEndian.Uint16(header[0:]); version != Version {
		return nil, errors.Wrapf(ErrMalformed, "unsupported version %d", version)
	}
	ret := &Image{
		Entry: binary.LittleEndian.Uint32(header[4:]),
		BSS:   binary.LittleEndian.Uint32(header[16:]),
	}
	codeLen := uint64(binary.LittleEndian.Uint32(header[8:]))
	dataLen := uint64(binary.LittleEndian.Uint32(header[12:]))
	if uint64(len(data)) != HeaderSize+codeLen+dataLen {
		return nil, errors.Wrapf(ErrMalformed, "size mismatch: header declares %d bytes, got %d", HeaderSize+codeLen+dataLen, len(data))
	}
	body := data[HeaderSize:]
	ret.Code = append([]byte{}, body[:codeLen]...)
	ret.Data = append([]byte{}, body[codeLen:]...)
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}
