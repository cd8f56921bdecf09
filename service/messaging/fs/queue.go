package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"github.com/viant/nanokernel/internal/clock"
	"github.com/viant/nanokernel/internal/idgen"
	"github.com/viant/nanokernel/service/messaging"
)

// ErrProcessed is returned when a message is acked or nacked twice.
var ErrProcessed = errors.New("messaging: message already processed")

const messageExt = ".json"

// MessageState represents the state of a message in the filesystem queue
type MessageState string

const (
	MessageStatePending    MessageState = "pending"
	MessageStateProcessing MessageState = "processing"
	MessageStateCompleted  MessageState = "completed"
	MessageStateFailed     MessageState = "failed"
)

// Message is one JSON document moving between the queue folders.
type Message[T any] struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Data      T            `json:"data"`
	State     MessageState `json:"state"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Retries   int          `json:"retries"`

	queue     *Queue[T]
	processed bool
	mu        sync.Mutex
}

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.Data
}

// Ack moves the message to the completed folder.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return errors.Wrapf(ErrProcessed, "message %v", m.ID)
	}
	m.processed = true
	m.State = MessageStateCompleted
	m.UpdatedAt = clock.Now()
	return m.queue.settle(context.Background(), m, m.queue.completedDir)
}

// Nack moves the message to the failed folder for a retry after RetryDelay,
// or to the dead letter folder once MaxRetries is exhausted.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return errors.Wrapf(ErrProcessed, "message %v", m.ID)
	}
	m.processed = true
	m.State = MessageStateFailed
	if err != nil {
		m.Error = err.Error()
	}
	m.Retries++
	m.UpdatedAt = clock.Now()
	dest := m.queue.failedDir
	if m.Retries > m.queue.config.MaxRetries {
		dest = m.queue.dlqDir
	}
	return m.queue.settle(context.Background(), m, dest)
}

// Config holds configuration for filesystem queue
type Config struct {
	// BaseURL is the afs folder holding the queue folders.
	BaseURL    string
	MaxRetries int
	RetryDelay time.Duration
	// PollInterval is how often Consume lists an empty queue.
	PollInterval time.Duration
}

// DefaultConfig returns a default queue configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:      "mem://localhost/nanokernel/queue",
		MaxRetries:   3,
		RetryDelay:   time.Second,
		PollInterval: 20 * time.Millisecond,
	}
}

// Queue implements messaging.Queue over afs folders: pending, processing,
// completed, failed and dlq. Messages are consumed in publish order.
type Queue[T any] struct {
	fs            afs.Service
	config        Config
	pendingDir    string
	processingDir string
	completedDir  string
	failedDir     string
	dlqDir        string
	mu            sync.Mutex
	seq           uint64
}

// NewQueue creates a filesystem queue, making its folders.
func NewQueue[T any](fs afs.Service, config Config) (*Queue[T], error) {
	if config.BaseURL == "" {
		return nil, errors.New("messaging: base URL cannot be empty")
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	q := &Queue[T]{
		fs:            fs,
		config:        config,
		pendingDir:    url.Join(config.BaseURL, string(MessageStatePending)),
		processingDir: url.Join(config.BaseURL, string(MessageStateProcessing)),
		completedDir:  url.Join(config.BaseURL, string(MessageStateCompleted)),
		failedDir:     url.Join(config.BaseURL, string(MessageStateFailed)),
		dlqDir:        url.Join(config.BaseURL, "dlq"),
	}
	ctx := context.Background()
	for _, dir := range []string{q.pendingDir, q.processingDir, q.completedDir, q.failedDir, q.dlqDir} {
		if exists, _ := fs.Exists(ctx, dir); exists {
			continue
		}
		if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return q, nil
}

// Publish writes a new message to the pending folder.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if t == nil {
		return errors.New("messaging: nil payload")
	}
	now := clock.Now()
	message := &Message[T]{
		ID:        idgen.New(),
		Data:      *t,
		State:     MessageStatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.mu.Lock()
	q.seq++
	message.Name = fmt.Sprintf("%020d-%06d-%s%s", now.UnixNano(), q.seq%1000000, message.ID, messageExt)
	q.mu.Unlock()
	return q.write(ctx, url.Join(q.pendingDir, message.Name), message)
}

// Consume waits for the next message: a failed one due for retry first,
// then the oldest pending one.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	for {
		message, err := q.take(ctx, q.failedDir, true)
		if err == nil && message == nil {
			message, err = q.take(ctx, q.pendingDir, false)
		}
		if err != nil {
			return nil, err
		}
		if message != nil {
			return message, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.config.PollInterval):
		}
	}
}

// Size returns the number of pending messages.
func (q *Queue[T]) Size(ctx context.Context) (int, error) {
	objects, err := q.list(ctx, q.pendingDir)
	return len(objects), err
}

// DLQSize returns the number of dead-lettered messages.
func (q *Queue[T]) DLQSize(ctx context.Context) (int, error) {
	objects, err := q.list(ctx, q.dlqDir)
	return len(objects), err
}

// take moves the first eligible message of dir to the processing folder.
func (q *Queue[T]) take(ctx context.Context, dir string, retry bool) (*Message[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	objects, err := q.list(ctx, dir)
	if err != nil {
		return nil, err
	}
	for _, object := range objects {
		message, err := q.read(ctx, object.URL())
		if err != nil {
			_ = q.fs.Move(ctx, object.URL(), url.Join(q.dlqDir, "invalid-"+object.Name()))
			return nil, err
		}
		if retry && clock.Now().Sub(message.UpdatedAt) < q.config.RetryDelay {
			continue
		}
		message.Name = object.Name()
		message.State = MessageStateProcessing
		message.UpdatedAt = clock.Now()
		message.queue = q
		if err = q.write(ctx, url.Join(q.processingDir, message.Name), message); err != nil {
			return nil, errors.Wrap(err, "failed to move message to processing directory")
		}
		if err = q.fs.Delete(ctx, object.URL()); err != nil {
			return nil, errors.Wrapf(err, "failed to delete message %v", object.URL())
		}
		return message, nil
	}
	return nil, nil
}

// settle moves a processing message to dest.
func (q *Queue[T]) settle(ctx context.Context, m *Message[T], dest string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.write(ctx, url.Join(dest, m.Name), m); err != nil {
		return err
	}
	processing := url.Join(q.processingDir, m.Name)
	if exists, _ := q.fs.Exists(ctx, processing); exists {
		if err := q.fs.Delete(ctx, processing); err != nil {
			return errors.Wrapf(err, "failed to delete message %v", processing)
		}
	}
	return nil
}

// list returns the message files of dir ordered by name.
func (q *Queue[T]) list(ctx context.Context, dir string) ([]storage.Object, error) {
	objects, err := q.fs.List(ctx, dir, option.NewRecursive(false))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %v", dir)
	}
	var ret []storage.Object
	for _, object := range objects {
		if !object.IsDir() && strings.HasSuffix(object.Name(), messageExt) {
			ret = append(ret, object)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name() < ret[j].Name() })
	return ret, nil
}

func (q *Queue[T]) write(ctx context.Context, URL string, m *Message[T]) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal message %v", m.ID)
	}
	if err = q.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "failed to write message %v", URL)
	}
	return nil
}

func (q *Queue[T]) read(ctx context.Context, URL string) (*Message[T], error) {
	data, err := q.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read message %s", URL)
	}
	message := &Message[T]{}
	if err = json.Unmarshal(data, message); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal message %s", URL)
	}
	return message, nil
}

// ensure Queue implements messaging.Queue interface
var _ messaging.Queue[any] = (*Queue[any])(nil)
