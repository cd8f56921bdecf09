package fileio

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/viant/afs/file"
)

type consoleKind int

const (
	consoleNone consoleKind = iota
	consoleIn
	consoleOut
)

// openFile is shared by every descriptor duplicated from the same open,
// so forked processes share the offset.
type openFile struct {
	name    string
	URL     string
	data    []byte
	offset  int
	dirty   bool
	refs    int
	console consoleKind
}

// Table is a per-process descriptor table.
type Table struct {
	service *Service
	slots   []*openFile
}

func (t *Table) install(f *openFile) (int, error) {
	for fd, slot := range t.slots {
		if slot == nil {
			t.slots[fd] = f
			return fd, nil
		}
	}
	return -1, errors.Wrapf(ErrTooManyFiles, "limit %d", len(t.slots))
}

func (t *Table) lookup(fd int) (*openFile, error) {
	if fd < 0 || fd >= len(t.slots) || t.slots[fd] == nil {
		return nil, errors.Wrapf(ErrBadDescriptor, "fd %d", fd)
	}
	return t.slots[fd], nil
}

func (t *Table) hasFree() bool {
	for _, slot := range t.slots {
		if slot == nil {
			return true
		}
	}
	return false
}

// Open opens an existing file for reading and writing at offset 0.
func (t *Table) Open(ctx context.Context, name string) (int, error) {
	if !t.hasFree() {
		return -1, errors.Wrapf(ErrTooManyFiles, "limit %d", len(t.slots))
	}
	URL, err := t.service.URL(name)
	if err != nil {
		return -1, err
	}
	data, err := t.service.Load(ctx, name)
	if err != nil {
		return -1, err
	}
	return t.install(&openFile{name: name, URL: URL, data: data, refs: 1})
}

// Creat creates or truncates a file and opens it.
func (t *Table) Creat(ctx context.Context, name string) (int, error) {
	if !t.hasFree() {
		return -1, errors.Wrapf(ErrTooManyFiles, "limit %d", len(t.slots))
	}
	URL, err := t.service.URL(name)
	if err != nil {
		return -1, err
	}
	if err = t.service.Store(ctx, name, nil); err != nil {
		return -1, err
	}
	return t.install(&openFile{name: name, URL: URL, refs: 1})
}

// Read returns up to n bytes; an empty result means end of stream.
func (t *Table) Read(fd int, n int) ([]byte, error) {
	f, err := t.lookup(fd)
	if err != nil {
		return nil, err
	}
	switch f.console {
	case consoleOut:
		return nil, errors.Wrapf(ErrBadDescriptor, "fd %d is write only", fd)
	case consoleIn:
		buf := make([]byte, n)
		read, err := t.service.stdin.Read(buf)
		if err != nil && err != io.EOF {
			return nil, err
		}
		return buf[:read], nil
	}
	if f.offset >= len(f.data) || n <= 0 {
		return nil, nil
	}
	end := f.offset + n
	if end > len(f.data) {
		end = len(f.data)
	}
	ret := append([]byte{}, f.data[f.offset:end]...)
	f.offset = end
	return ret, nil
}

// Write writes data at the current offset, extending the file as needed.
func (t *Table) Write(fd int, data []byte) (int, error) {
	f, err := t.lookup(fd)
	if err != nil {
		return -1, err
	}
	switch f.console {
	case consoleIn:
		return -1, errors.Wrapf(ErrBadDescriptor, "fd %d is read only", fd)
	case consoleOut:
		return t.service.stdout.Write(data)
	}
	if end := f.offset + len(data); end > len(f.data) {
		f.data = append(f.data, make([]byte, end-len(f.data))...)
	}
	copy(f.data[f.offset:], data)
	f.offset += len(data)
	f.dirty = true
	return len(data), nil
}

// Close releases a descriptor; the last close of a modified file uploads it.
func (t *Table) Close(ctx context.Context, fd int) error {
	f, err := t.lookup(fd)
	if err != nil {
		return err
	}
	t.slots[fd] = nil
	return t.release(ctx, f)
}

func (t *Table) release(ctx context.Context, f *openFile) error {
	f.refs--
	if f.refs > 0 || !f.dirty || f.console != consoleNone {
		return nil
	}
	f.dirty = false
	if err := t.service.fs.Upload(ctx, f.URL, file.DefaultFileOsMode, bytes.NewReader(f.data)); err != nil {
		return errors.Wrapf(err, "failed to flush %v", f.URL)
	}
	return nil
}

// CloseAll closes every descriptor, returning the first flush error.
func (t *Table) CloseAll(ctx context.Context) error {
	var ret error
	for fd, f := range t.slots {
		if f == nil {
			continue
		}
		t.slots[fd] = nil
		if err := t.release(ctx, f); err != nil && ret == nil {
			ret = err
		}
	}
	return ret
}

// Duplicate returns a table sharing every open file with t.
func (t *Table) Duplicate() *Table {
	ret := &Table{service: t.service, slots: make([]*openFile, len(t.slots))}
	for fd, f := range t.slots {
		if f == nil {
			continue
		}
		f.refs++
		ret.slots[fd] = f
	}
	return ret
}

// Len returns the number of descriptors in use.
func (t *Table) Len() int {
	ret := 0
	for _, f := range t.slots {
		if f != nil {
			ret++
		}
	}
	return ret
}
