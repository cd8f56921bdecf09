package event

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/viant/nanokernel/service/messaging"
)

// DrainIdle is how long a draining listener waits for one more event.
const DrainIdle = 50 * time.Millisecond

// Listener feeds every consumed event to a handler on its own goroutine.
// A panicking handler nacks the event so the queue retries or dead-letters it.
type Listener[T any] struct {
	publisher *Publisher[T]
	handler   func(*Event[T])
	ctx       context.Context
	cancel    context.CancelFunc
	drain     context.Context
	stopWait  context.CancelFunc
	done      sync.WaitGroup
}

// NewListener creates a stopped listener.
func NewListener[T any](publisher *Publisher[T], handler func(*Event[T])) *Listener[T] {
	ctx, cancel := context.WithCancel(context.Background())
	drain, stopWait := context.WithCancel(ctx)
	return &Listener[T]{
		publisher: publisher,
		handler:   handler,
		ctx:       ctx,
		cancel:    cancel,
		drain:     drain,
		stopWait:  stopWait,
	}
}

// Stop cancels the listener and waits for the consuming goroutine.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.done.Wait()
}

// Drain lets the listener handle what is queued, stopping once no event
// arrives within DrainIdle.
func (l *Listener[T]) Drain() {
	l.stopWait()
	l.done.Wait()
	l.cancel()
}

// Start begins consuming.
func (l *Listener[T]) Start() {
	l.done.Add(1)
	go func() {
		defer l.done.Done()
		for {
			msg, err := l.next()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				log.Error().Err(err).Msg("failed to consume event")
				continue
			}
			if msg == nil {
				continue
			}
			if err = l.dispatch(msg); err != nil {
				log.Warn().Err(err).Msg("event handler failed")
			}
		}
	}()
}

// next blocks for a message until draining starts, then waits at most DrainIdle.
func (l *Listener[T]) next() (messaging.Message[Event[T]], error) {
	if l.drain.Err() == nil {
		msg, err := l.publisher.Next(l.drain)
		if err == nil || l.drain.Err() == nil || l.ctx.Err() != nil {
			return msg, err
		}
	}
	ctx, cancel := context.WithTimeout(l.ctx, DrainIdle)
	defer cancel()
	return l.publisher.Next(ctx)
}

func (l *Listener[T]) dispatch(msg messaging.Message[Event[T]]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			cause := errors.Errorf("event handler panic: %v", r)
			if nackErr := msg.Nack(cause); nackErr != nil {
				err = errors.Wrap(nackErr, cause.Error())
				return
			}
			err = cause
		}
	}()
	l.handler(msg.T())
	return msg.Ack()
}
