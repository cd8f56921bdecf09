package fileio

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// Console descriptors present in every table.
const (
	Stdin  = 0
	Stdout = 1
)

var (
	ErrBadDescriptor = errors.New("fileio: bad file descriptor")
	ErrTooManyFiles  = errors.New("fileio: too many open files")
	ErrNotFound      = errors.New("fileio: no such file")
	ErrInvalidName   = errors.New("fileio: invalid file name")
)

// Config represents file layer settings.
type Config struct {
	// BaseURL is the afs location names are resolved against.
	BaseURL string
	// MaxFiles bounds the descriptors per process, console included.
	MaxFiles int
}

// DefaultConfig returns the default file layer configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "mem://localhost/nanokernel",
		MaxFiles: 16,
	}
}

// Service resolves file names against an afs location and hands out
// per-process descriptor tables.
type Service struct {
	fs     afs.Service
	config Config
	stdin  io.Reader
	stdout io.Writer
}

// Option customises the service.
type Option func(*Service)

// WithConsole sets the streams behind descriptors 0 and 1.
func WithConsole(in io.Reader, out io.Writer) Option {
	return func(s *Service) {
		s.stdin = in
		s.stdout = out
	}
}

// New creates a file service.
func New(fs afs.Service, config Config, options ...Option) *Service {
	if config.MaxFiles < 2 {
		config.MaxFiles = DefaultConfig().MaxFiles
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	ret := &Service{fs: fs, config: config}
	for _, option := range options {
		option(ret)
	}
	if ret.stdin == nil {
		ret.stdin = strings.NewReader("")
	}
	if ret.stdout == nil {
		ret.stdout = io.Discard
	}
	return ret
}

// URL resolves a file name.
func (s *Service) URL(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(name, "/") {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return url.Join(s.config.BaseURL, name), nil
}

// Load returns the content of a named file.
func (s *Service) Load(ctx context.Context, name string) ([]byte, error) {
	URL, err := s.URL(name)
	if err != nil {
		return nil, err
	}
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to check %v", URL)
	}
	if !exists {
		return nil, errors.Wrapf(ErrNotFound, "%v", name)
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to download %v", URL)
	}
	return data, nil
}

// Store writes a named file, replacing any previous content.
func (s *Service) Store(ctx context.Context, name string, data []byte) error {
	URL, err := s.URL(name)
	if err != nil {
		return err
	}
	if err = s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "failed to upload %v", URL)
	}
	return nil
}

// Unlink removes a named file.
func (s *Service) Unlink(ctx context.Context, name string) error {
	URL, err := s.URL(name)
	if err != nil {
		return err
	}
	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return errors.Wrapf(err, "failed to check %v", URL)
	}
	if !exists {
		return errors.Wrapf(ErrNotFound, "%v", name)
	}
	return s.fs.Delete(ctx, URL)
}

// NewTable returns a descriptor table with the console on 0 and 1.
func (s *Service) NewTable() *Table {
	ret := &Table{service: s, slots: make([]*openFile, s.config.MaxFiles)}
	ret.slots[Stdin] = &openFile{name: "stdin", console: consoleIn, refs: 1}
	ret.slots[Stdout] = &openFile{name: "stdout", console: consoleOut, refs: 1}
	return ret
}
