package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notice struct {
	PID  int
	Kind string
}

func TestQueue(t *testing.T) {
	queue := NewQueue[notice](DefaultConfig())
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, &notice{PID: 2, Kind: "forked"}))
	assert.Equal(t, 1, queue.Size())

	message, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Size())
	assert.Equal(t, notice{PID: 2, Kind: "forked"}, *message.T())
	assert.NotEmpty(t, message.(*Message[notice]).ID())

	assert.NoError(t, message.Ack())
	assert.True(t, errors.Is(message.Ack(), ErrProcessed))
	assert.True(t, errors.Is(message.Nack(nil), ErrProcessed))
}

func TestQueue_NonBlocking(t *testing.T) {
	config := DefaultConfig()
	config.QueueBuffer = 2
	config.NonBlocking = true
	queue := NewQueue[notice](config)
	ctx := context.Background()

	testCases := []struct {
		description string
		pid         int
		expect      error
	}{
		{description: "first fits", pid: 1},
		{description: "second fits", pid: 2},
		{description: "third is rejected", pid: 3, expect: ErrQueueFull},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			err := queue.Publish(ctx, &notice{PID: tc.pid})
			if tc.expect == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.expect))
		})
	}
	assert.Equal(t, 2, queue.Size())
}

func TestQueue_Retries(t *testing.T) {
	config := DefaultConfig()
	config.MaxRetries = 1
	config.RetryDelay = 5 * time.Millisecond
	queue := NewQueue[notice](config)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, queue.Publish(ctx, &notice{PID: 7}))
	message, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, message.Nack(errors.New("busy")))

	retried, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, retried.T().PID)
	require.NoError(t, retried.Nack(errors.New("busy")))
	assert.Equal(t, 1, queue.DLQSize())
}

func TestQueue_Concurrency(t *testing.T) {
	queue := NewQueue[notice](DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	producers, perProducer := 8, 10

	var wg sync.WaitGroup
	for i := 0; i < producers; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for j := 0; j < perProducer; j++ {
				assert.NoError(t, queue.Publish(ctx, &notice{PID: pid}))
			}
		}(i)
	}
	consumed := 0
	for consumed < producers*perProducer {
		message, err := queue.Consume(ctx)
		require.NoError(t, err)
		require.NoError(t, message.Ack())
		consumed++
	}
	wg.Wait()
	assert.Equal(t, 0, queue.Size())
}

func TestQueue_Cancellation(t *testing.T) {
	queue := NewQueue[notice](DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, queue.Publish(ctx, &notice{}))

	timeout, cancelTimeout := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelTimeout()
	_, err := queue.Consume(timeout)
	assert.Error(t, err)

	require.NoError(t, queue.Publish(context.Background(), &notice{PID: 1}))
	message, err := queue.Consume(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, message)
}
