package event

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"github.com/viant/afs"
	"github.com/viant/nanokernel/service/messaging"
	"github.com/viant/nanokernel/service/messaging/fs"
	"github.com/viant/nanokernel/service/messaging/memory"
)

// Service is an event bus with one queue per payload type plus an untyped
// queue receiving a copy of everything.
type Service struct {
	publisher         *Publisher[any]
	listener          *Listener[any]
	typedPublishers   map[reflect.Type]any
	typedListener     map[reflect.Type]any
	mux               *sync.RWMutex
	queueVendor       messaging.Vendor
	memNewQueueConfig func(name string) memory.Config
	fsNewQueueConfig  func(name string) fs.Config
	fs                afs.Service
}

// SetListener replaces the untyped listener.
func (s *Service) SetListener(handler func(*Event[any])) {
	s.mux.Lock()
	previous := s.listener
	s.listener = nil
	s.mux.Unlock()
	if previous != nil {
		previous.Stop()
	}
	listener := NewListener[any](s.publisher, handler)
	listener.Start()
	s.mux.Lock()
	s.listener = listener
	s.mux.Unlock()
}

// Close stops every listener.
func (s *Service) Close() {
	s.stop(func(l stopper) { l.Stop() })
}

// Drain lets every listener handle the events already queued, then stops it.
func (s *Service) Drain() {
	s.stop(func(l stopper) { l.Drain() })
}

type stopper interface {
	Stop()
	Drain()
}

func (s *Service) stop(fn func(l stopper)) {
	s.mux.Lock()
	listeners := s.typedListener
	s.typedListener = make(map[reflect.Type]any)
	untyped := s.listener
	s.listener = nil
	s.mux.Unlock()
	for _, listener := range listeners {
		fn(listener.(stopper))
	}
	if untyped != nil {
		fn(untyped)
	}
}

// New creates an event service.
func New(queueVendor messaging.Vendor, opts ...Option) (*Service, error) {
	ret := &Service{
		queueVendor:     queueVendor,
		typedPublishers: make(map[reflect.Type]any),
		typedListener:   make(map[reflect.Type]any),
		mux:             &sync.RWMutex{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	switch queueVendor {
	case messaging.VendorMemory:
		if ret.memNewQueueConfig == nil {
			ret.memNewQueueConfig = func(string) memory.Config { return memory.DefaultConfig() }
		}
	case messaging.VendorFs:
		if ret.fsNewQueueConfig == nil {
			return nil, errors.New("fs queue vendor requires WithNewFsQueueConfig")
		}
		if ret.fs == nil {
			ret.fs = afs.New()
		}
	default:
		return nil, errors.Errorf("unsupported queue vendor: %s", queueVendor)
	}
	queue, err := QueueOf[Event[any]](ret, "any")
	if err != nil {
		return nil, err
	}
	ret.publisher = NewPublisher[any](queue)
	return ret, nil
}

// QueueOf creates a queue of the service vendor.
func QueueOf[T any](s *Service, name string) (messaging.Queue[T], error) {
	switch s.queueVendor {
	case messaging.VendorMemory:
		return memory.NewQueue[T](s.memNewQueueConfig(name)), nil
	case messaging.VendorFs:
		return fs.NewQueue[T](s.fs, s.fsNewQueueConfig(name))
	}
	return nil, errors.Errorf("unsupported queue vendor: %s", s.queueVendor)
}

func keyOf[T any]() reflect.Type {
	var t T
	rType := reflect.TypeOf(t)
	if rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	return rType
}

// SetListenerOf replaces the listener of payload type T.
func SetListenerOf[T any](s *Service, handler func(*Event[T])) error {
	key := keyOf[T]()
	s.mux.RLock()
	ret, ok := s.typedListener[key]
	s.mux.RUnlock()
	if ok {
		ret.(*Listener[T]).Stop()
	}
	publisher, err := PublisherOf[T](s)
	if err != nil {
		return err
	}
	listener := NewListener[T](publisher, handler)
	s.mux.Lock()
	s.typedListener[key] = listener
	listener.Start()
	s.mux.Unlock()
	return nil
}

// PublisherOf returns a publisher for the provided type
func PublisherOf[T any](s *Service) (*Publisher[T], error) {
	key := keyOf[T]()
	s.mux.RLock()
	ret, ok := s.typedPublishers[key]
	s.mux.RUnlock()
	if ok {
		return ret.(*Publisher[T]), nil
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if ret, ok = s.typedPublishers[key]; ok {
		return ret.(*Publisher[T]), nil
	}
	queue, err := QueueOf[Event[T]](s, key.String())
	if err != nil {
		return nil, err
	}
	publisher := NewPublisher[T](queue)
	publisher.anyQueue = s.publisher.queue
	s.typedPublishers[key] = publisher
	return publisher, nil
}
