package nanokernel

import (
	"io"
	"os"

	"github.com/viant/afs"
	"github.com/viant/nanokernel/runtime/process"
	"github.com/viant/nanokernel/service/assembler"
	"github.com/viant/nanokernel/service/dao"
	pmemory "github.com/viant/nanokernel/service/dao/process/memory"
	"github.com/viant/nanokernel/service/lifecycle"
	"github.com/viant/nanokernel/service/syscall"
	"github.com/viant/nanokernel/stats"
)

// Service represents nanokernel service
type Service struct {
	config          *Config
	fs              afs.Service
	stdin           io.Reader
	stdout          io.Writer
	logOutput       io.Writer
	newProcessDAO   func() dao.Service[int, process.Process]
	eventListener   func(event lifecycle.Event)
	syscallListener syscall.Listener
	statsListener   func(stats.Stats)
	assembler       *assembler.Service
	kernel          *Kernel
}

func (s *Service) init(options []Option) error {
	for _, option := range options {
		option(s)
	}
	s.ensureBaseSetup()
	if err := s.config.Validate(); err != nil {
		return err
	}
	if err := s.config.Log.ConfigureLogging(s.logOutput); err != nil {
		return err
	}
	s.assembler = assembler.New(s.fs)
	var err error
	s.kernel, err = s.NewKernel()
	return err
}

func (s *Service) ensureBaseSetup() {
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if s.fs == nil {
		s.fs = afs.New()
	}
	if s.stdin == nil {
		s.stdin = os.Stdin
	}
	if s.stdout == nil {
		s.stdout = os.Stdout
	}
	if s.newProcessDAO == nil {
		s.newProcessDAO = func() dao.Service[int, process.Process] {
			return pmemory.New()
		}
	}
}

// Kernel returns the kernel created with the service.
func (s *Service) Kernel() *Kernel {
	return s.kernel
}

// Config returns the effective configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Assembler returns the assembler working on the service file system.
func (s *Service) Assembler() *assembler.Service {
	return s.assembler
}

// New creates a service with a ready to boot kernel.
func New(options ...Option) (*Service, error) {
	ret := &Service{}
	if err := ret.init(options); err != nil {
		return nil, err
	}
	return ret, nil
}
