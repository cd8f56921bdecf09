package nanokernel

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/nanokernel/runtime/vm"
)

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		description string
		mutate      func(c *Config)
		expect      string
	}{
		{description: "defaults", mutate: func(c *Config) {}},
		{description: "quantum", mutate: func(c *Config) { c.Scheduler.Quantum = 0 }, expect: "scheduler.quantum"},
		{description: "files", mutate: func(c *Config) { c.Kernel.MaxFiles = 2 }, expect: "kernel.maxFiles"},
		{description: "physical size", mutate: func(c *Config) { c.Memory.Physical = "lots" }, expect: "memory.physical"},
		{description: "tiny physical", mutate: func(c *Config) { c.Memory.Physical = "1KiB" }, expect: "at least one page"},
		{description: "heap over stack", mutate: func(c *Config) { c.Memory.HeapCeiling = "4GiB" }, expect: "memory.heapCeiling"},
		{description: "log level", mutate: func(c *Config) { c.Log.Level = "loud" }, expect: "log.level"},
		{description: "io chunk", mutate: func(c *Config) { c.Kernel.MaxIOChunk = "0B" }, expect: "kernel.maxIOChunk"},
		{description: "instruction limit", mutate: func(c *Config) { c.Kernel.MaxInstructions = -1 }, expect: "kernel.maxInstructions"},
		{description: "events vendor", mutate: func(c *Config) { c.Events.Vendor = "kafka" }, expect: "events.vendor"},
		{description: "fs events need url", mutate: func(c *Config) { c.Events.Vendor = "fs" }, expect: "events.url"},
		{description: "fs events", mutate: func(c *Config) { c.Events.Vendor = "fs"; c.Events.URL = "mem://localhost/events" }},
		{description: "event retries", mutate: func(c *Config) { c.Events.MaxRetries = -1 }, expect: "events.maxRetries"},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			config := DefaultConfig()
			tc.mutate(config)
			err := config.Validate()
			if tc.expect == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expect)
		})
	}
}

func TestConfig_Sizes(t *testing.T) {
	config := DefaultConfig()
	frames, err := config.frames()
	require.NoError(t, err)
	assert.Equal(t, 64<<20/vm.PageSize, frames)
	layout, err := config.layout()
	require.NoError(t, err)
	assert.EqualValues(t, 256<<20, layout.HeapCeiling)
	assert.EqualValues(t, 1<<20, layout.StackSize)
	assert.Equal(t, 64<<10, config.syscallConfig().MaxIOChunk)
	queue := config.queueConfig("any")
	assert.True(t, queue.NonBlocking)
	assert.Equal(t, config.Events.Buffer, queue.QueueBuffer)
	assert.Equal(t, config.Events.MaxRetries, queue.MaxRetries)

	config.Events.URL = "mem://localhost/events"
	fsQueue := config.fsQueueConfig("lifecycle.Event")
	assert.Equal(t, "mem://localhost/events/lifecycle.Event", fsQueue.BaseURL)
	assert.Equal(t, config.Events.MaxRetries, fsQueue.MaxRetries)
}

func TestLoadConfig(t *testing.T) {
	ctx := context.Background()
	fs := afs.New()
	URL := "mem://localhost/config/" + t.Name() + "/config.yaml"
	data, err := os.ReadFile(filepath.Join("testdata", "config.yaml"))
	require.NoError(t, err)
	require.NoError(t, fs.Upload(ctx, URL, file.DefaultFileOsMode, strings.NewReader(string(data))))

	config, err := LoadConfig(ctx, fs, URL)
	require.NoError(t, err)
	assert.Equal(t, 50, config.Scheduler.Quantum)
	assert.Equal(t, "16MiB", config.Memory.Physical)
	assert.True(t, config.Events.Enabled)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, DefaultConfig().Kernel, config.Kernel, "unset sections keep defaults")

	require.NoError(t, fs.Upload(ctx, URL, file.DefaultFileOsMode, strings.NewReader("scheduler:\n  quantum: -1\n")))
	_, err = LoadConfig(ctx, fs, URL)
	assert.Error(t, err)
	t.Setenv("NANOKERNEL_TEST_PHYSICAL", "32MiB")
	require.NoError(t, fs.Upload(ctx, URL, file.DefaultFileOsMode, strings.NewReader("memory:\n  physical: ${env.NANOKERNEL_TEST_PHYSICAL}\n")))
	config, err = LoadConfig(ctx, fs, URL)
	require.NoError(t, err)
	assert.Equal(t, "32MiB", config.Memory.Physical)

	_, err = LoadConfig(ctx, fs, URL+".missing")
	assert.Error(t, err)
}
