package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpan(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "spans.json")
	require.NoError(t, Init("test", fname))

	ctx, parent := StartSpan(context.Background(), "kernel.Boot")
	parent.WithAttributes(map[string]string{"bootId": "b1"})
	_, child := StartSpan(ctx, "lifecycle.Fork")
	child.WithInt("pid", 2)
	EndSpan(child, errors.New("out of memory"))
	EndSpan(parent, nil)

	data, err := os.ReadFile(fname)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "lifecycle.Fork")
	assert.Contains(t, text, "parent.span_id")
	assert.Contains(t, text, "out of memory")
	assert.Contains(t, text, "\"pid\"")

	var nilSpan *Span
	assert.Nil(t, nilSpan.WithInt("pid", 1))
	EndSpan(nilSpan, nil)
}
