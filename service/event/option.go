package event

import (
	"github.com/viant/afs"
	"github.com/viant/nanokernel/service/messaging/fs"
	"github.com/viant/nanokernel/service/messaging/memory"
)

// Option customises the event service.
type Option func(s *Service)

// WithNewMemoryQueueConfig sets the per-queue memory configuration
func WithNewMemoryQueueConfig(newConfig func(name string) memory.Config) Option {
	return func(s *Service) {
		s.memNewQueueConfig = newConfig
	}
}

// WithNewFsQueueConfig sets the per-queue file system configuration
func WithNewFsQueueConfig(newConfig func(name string) fs.Config) Option {
	return func(s *Service) {
		s.fsNewQueueConfig = newConfig
	}
}

// WithFileSystem sets the afs service backing fs queues.
func WithFileSystem(fs afs.Service) Option {
	return func(s *Service) {
		s.fs = fs
	}
}
