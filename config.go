package nanokernel

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"github.com/viant/nanokernel/internal/env"
	"github.com/viant/nanokernel/runtime/vm"
	"github.com/viant/nanokernel/service/event"
	"github.com/viant/nanokernel/service/fileio"
	"github.com/viant/nanokernel/service/lifecycle"
	"github.com/viant/nanokernel/service/messaging"
	"github.com/viant/nanokernel/service/messaging/fs"
	"github.com/viant/nanokernel/service/messaging/memory"
	"github.com/viant/nanokernel/service/processor"
	"github.com/viant/nanokernel/service/scheduler"
	"github.com/viant/nanokernel/service/syscall"
	"gopkg.in/yaml.v3"
)

// eventRetryDelay stays below event.DrainIdle so a retried event is
// delivered before a finished boot stops its listeners.
const eventRetryDelay = 10 * time.Millisecond

// Config is a serialisable representation of the kernel configuration. It
// can be populated from YAML or JSON; LoadConfig decodes over DefaultConfig
// so a file only needs the settings it changes. Sizes are human readable
// strings such as "64MiB".
type Config struct {
	Kernel     KernelConfig     `json:"kernel" yaml:"kernel"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	Memory     MemoryConfig     `json:"memory" yaml:"memory"`
	Filesystem FilesystemConfig `json:"filesystem" yaml:"filesystem"`
	Events     EventsConfig     `json:"events" yaml:"events"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// KernelConfig holds syscall limits and lifecycle policy.
type KernelConfig struct {
	MaxFiles        int    `json:"maxFiles" yaml:"maxFiles"`
	MaxArgs         int    `json:"maxArgs" yaml:"maxArgs"`
	MaxStringLength int    `json:"maxStringLength" yaml:"maxStringLength"`
	MaxIOChunk      string `json:"maxIOChunk" yaml:"maxIOChunk"`
	RootOnlyHalt    bool   `json:"rootOnlyHalt" yaml:"rootOnlyHalt"`
	ReapAdopted     bool   `json:"reapAdopted" yaml:"reapAdopted"`
	// MaxInstructions stops a run after that many instructions; 0 means no limit.
	MaxInstructions int64 `json:"maxInstructions" yaml:"maxInstructions"`
}

type SchedulerConfig struct {
	// Quantum is the timer period in instructions.
	Quantum int `json:"quantum" yaml:"quantum"`
}

// MemoryConfig sizes physical memory and every address space. The page
// size is fixed at 4KiB.
type MemoryConfig struct {
	Physical    string `json:"physical" yaml:"physical"`
	HeapCeiling string `json:"heapCeiling" yaml:"heapCeiling"`
	StackSize   string `json:"stackSize" yaml:"stackSize"`
	TLBEntries  int    `json:"tlbEntries" yaml:"tlbEntries"`
}

type FilesystemConfig struct {
	// BaseURL is the afs location file names and programs resolve against.
	BaseURL string `json:"baseURL" yaml:"baseURL"`
}

type EventsConfig struct {
	// Enabled publishes lifecycle events on the event bus.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Buffer is the capacity of every memory event queue; events are
	// dropped when a queue is full.
	Buffer int `json:"buffer" yaml:"buffer"`
	// Vendor is memory or fs. The fs vendor keeps every event as a JSON
	// file under URL.
	Vendor string `json:"vendor" yaml:"vendor"`
	URL    string `json:"url" yaml:"url"`
	// MaxRetries bounds redelivery of an event whose listener panicked.
	MaxRetries int `json:"maxRetries" yaml:"maxRetries"`
}

type LogConfig struct {
	Level   string `json:"level" yaml:"level"`
	Console bool   `json:"console" yaml:"console"`
}

// DefaultConfig returns a Config populated with the package defaults.
func DefaultConfig() *Config {
	return &Config{
		Kernel: KernelConfig{
			MaxFiles:        fileio.DefaultConfig().MaxFiles,
			MaxArgs:         syscall.DefaultConfig().MaxArgs,
			MaxStringLength: syscall.DefaultConfig().MaxStringLength,
			MaxIOChunk:      "64KiB",
			ReapAdopted:     lifecycle.DefaultConfig().ReapAdopted,
		},
		Scheduler: SchedulerConfig{Quantum: scheduler.DefaultConfig().Quantum},
		Memory: MemoryConfig{
			Physical:    "64MiB",
			HeapCeiling: "256MiB",
			StackSize:   "1MiB",
			TLBEntries:  64,
		},
		Filesystem: FilesystemConfig{BaseURL: fileio.DefaultConfig().BaseURL},
		Events: EventsConfig{
			Buffer:     memory.DefaultConfig().QueueBuffer,
			Vendor:     string(messaging.VendorMemory),
			MaxRetries: memory.DefaultConfig().MaxRetries,
		},
		Log: LogConfig{Level: "info", Console: true},
	}
}

// LoadConfig reads a YAML configuration through afs. ${env.KEY} references
// are replaced with environment values before decoding.
func LoadConfig(ctx context.Context, fs afs.Service, URL string) (*Config, error) {
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load config %v", URL)
	}
	ret := DefaultConfig()
	if err = yaml.Unmarshal([]byte(env.Expand(string(data))), ret); err != nil {
		return nil, errors.Wrapf(err, "failed to decode config %v", URL)
	}
	if err = ret.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "invalid config %v", URL)
	}
	return ret, nil
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var problems []string
	if c.Kernel.MaxFiles < 3 {
		problems = append(problems, "kernel.maxFiles must be >= 3")
	}
	if c.Kernel.MaxArgs <= 0 {
		problems = append(problems, "kernel.maxArgs must be > 0")
	}
	if c.Kernel.MaxStringLength <= 0 {
		problems = append(problems, "kernel.maxStringLength must be > 0")
	}
	if c.Kernel.MaxInstructions < 0 {
		problems = append(problems, "kernel.maxInstructions must be >= 0")
	}
	if c.Scheduler.Quantum <= 0 {
		problems = append(problems, "scheduler.quantum must be > 0")
	}
	if c.Memory.TLBEntries <= 0 {
		problems = append(problems, "memory.tlbEntries must be > 0")
	}
	if c.Events.Buffer <= 0 {
		problems = append(problems, "events.buffer must be > 0")
	}
	if c.Events.MaxRetries < 0 {
		problems = append(problems, "events.maxRetries must be >= 0")
	}
	switch messaging.Vendor(c.Events.Vendor) {
	case messaging.VendorMemory:
	case messaging.VendorFs:
		if c.Events.URL == "" {
			problems = append(problems, "events.url is required by the fs vendor")
		}
	default:
		problems = append(problems, "unsupported events.vendor: "+c.Events.Vendor)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, "log.level: "+err.Error())
	}
	if _, err := c.ioChunk(); err != nil {
		problems = append(problems, err.Error())
	}
	if frames, err := c.frames(); err != nil {
		problems = append(problems, err.Error())
	} else if frames == 0 {
		problems = append(problems, "memory.physical must hold at least one page")
	}
	if layout, err := c.layout(); err != nil {
		problems = append(problems, err.Error())
	} else if err = layout.Validate(); err != nil {
		problems = append(problems, "memory: "+err.Error())
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func parseSize(name, value string, limit uint64) (uint64, error) {
	ret, err := humanize.ParseBytes(value)
	if err != nil {
		return 0, errors.Wrapf(err, "%s", name)
	}
	if ret > limit {
		return 0, errors.Errorf("%s %s exceeds %s", name, value, humanize.IBytes(limit))
	}
	return ret, nil
}

func (c *Config) ioChunk() (int, error) {
	ret, err := parseSize("kernel.maxIOChunk", c.Kernel.MaxIOChunk, 1<<30)
	if err == nil && ret == 0 {
		err = errors.New("kernel.maxIOChunk must be > 0")
	}
	return int(ret), err
}

// frames returns the number of physical frames.
func (c *Config) frames() (int, error) {
	ret, err := parseSize("memory.physical", c.Memory.Physical, 1<<32)
	return int(ret / vm.PageSize), err
}

func (c *Config) layout() (vm.Layout, error) {
	heap, err := parseSize("memory.heapCeiling", c.Memory.HeapCeiling, 1<<31)
	if err != nil {
		return vm.Layout{}, err
	}
	stack, err := parseSize("memory.stackSize", c.Memory.StackSize, 1<<31)
	if err != nil {
		return vm.Layout{}, err
	}
	return vm.Layout{HeapCeiling: uint32(heap), StackSize: uint32(stack)}, nil
}

func (c *Config) syscallConfig() syscall.Config {
	chunk, _ := c.ioChunk()
	return syscall.Config{MaxIOChunk: chunk, MaxStringLength: c.Kernel.MaxStringLength, MaxArgs: c.Kernel.MaxArgs}
}

func (c *Config) lifecycleConfig() lifecycle.Config {
	return lifecycle.Config{RootOnlyHalt: c.Kernel.RootOnlyHalt, ReapAdopted: c.Kernel.ReapAdopted}
}

func (c *Config) processorConfig() processor.Config {
	return processor.Config{MaxInstructions: c.Kernel.MaxInstructions}
}

func (c *Config) fileConfig() fileio.Config {
	return fileio.Config{BaseURL: c.Filesystem.BaseURL, MaxFiles: c.Kernel.MaxFiles}
}

func (c *Config) queueConfig(string) memory.Config {
	ret := memory.DefaultConfig()
	ret.QueueBuffer = c.Events.Buffer
	ret.NonBlocking = true
	ret.MaxRetries = c.Events.MaxRetries
	ret.RetryDelay = eventRetryDelay
	return ret
}

func (c *Config) fsQueueConfig(name string) fs.Config {
	ret := fs.DefaultConfig()
	ret.BaseURL = url.Join(c.Events.URL, name)
	ret.MaxRetries = c.Events.MaxRetries
	ret.RetryDelay = eventRetryDelay
	return ret
}

// eventOptions returns the event bus vendor and its queue options.
func (c *Config) eventOptions(fileSystem afs.Service) (messaging.Vendor, []event.Option) {
	vendor := messaging.Vendor(c.Events.Vendor)
	if vendor == messaging.VendorFs {
		return vendor, []event.Option{event.WithFileSystem(fileSystem), event.WithNewFsQueueConfig(c.fsQueueConfig)}
	}
	return messaging.VendorMemory, []event.Option{event.WithNewMemoryQueueConfig(c.queueConfig)}
}
