package event

import (
	"time"

	"github.com/viant/nanokernel/internal/clock"
)

// Context identifies where an event originated.
type Context struct {
	BootID    string `json:"bootId" yaml:"bootId"`
	PID       int    `json:"pid" yaml:"pid"`
	EventType string `json:"eventType" yaml:"eventType"`
	Service   string `json:"service" yaml:"service"`
	Method    string `json:"method" yaml:"method"`
}

// Event wraps a payload with its context.
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata"`
	Data      T                      `json:"data"`
}

// NewEvent creates an event.
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: clock.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}
