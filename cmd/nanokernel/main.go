// nanokernel boots a program image on a simulated single core kernel and
// assembles programs for it.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/viant/afs"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/viant/nanokernel"
	"github.com/viant/nanokernel/model/isa"
	"github.com/viant/nanokernel/service/lifecycle"
	"github.com/viant/nanokernel/service/messaging"
)

const (
	sourceExt = ".s"
	version   = "0.1.0"
)

type arguments struct {
	command   string
	configURL string
	baseURL   string
	quantum   int
	physical  string
	logLevel  string
	events    bool
	eventsURL string
	trace     string
	rootHalt  bool
	maxInstr  int64
	program   string
	args      []string
	source    string
	output    string
}

func parseArgs(args []string) (*arguments, error) {
	app := kingpin.New("nanokernel", "Teaching kernel with processes, virtual memory and a round robin scheduler.")
	configURL := app.Flag("config", "YAML configuration URL.").String()
	logLevel := app.Flag("logLevel", "Log level.").Enum("trace", "debug", "info", "warn", "error")

	run := app.Command("run", "Boot a program as the root process.")
	baseURL := run.Flag("fs", "Base URL programs and files resolve against.").Default(".").String()
	quantum := run.Flag("quantum", "Timer period in instructions.").Int()
	physical := run.Flag("physical", "Physical memory size, e.g. 64MiB.").String()
	events := run.Flag("events", "Log lifecycle events.").Default("false").Bool()
	eventsURL := run.Flag("eventsURL", "Keep lifecycle events as JSON files under this URL.").String()
	trace := run.Flag("trace", "Write OpenTelemetry spans to this file.").String()
	rootHalt := run.Flag("rootOnlyHalt", "Only the root process may halt the machine.").Default("false").Bool()
	maxInstr := run.Flag("maxInstructions", "Stop after this many instructions, 0 for no limit.").Default("0").Int64()
	program := run.Arg("program", "Program name, or an assembly file ending in .s").Required().String()
	programArgs := run.Arg("args", "Program arguments.").Strings()

	asm := app.Command("asm", "Assemble a source file into a program image.")
	source := asm.Arg("source", "Assembly source URL.").Required().String()
	output := asm.Arg("output", "Image URL.").Required().String()

	command, err := app.Parse(args)
	if err != nil {
		return nil, err
	}
	if *quantum < 0 {
		return nil, errors.Errorf("invalid --quantum %d", *quantum)
	}
	return &arguments{
		command:   command,
		configURL: *configURL,
		baseURL:   *baseURL,
		quantum:   *quantum,
		physical:  *physical,
		logLevel:  *logLevel,
		events:    *events,
		eventsURL: *eventsURL,
		trace:     *trace,
		rootHalt:  *rootHalt,
		maxInstr:  *maxInstr,
		program:   *program,
		args:      *programArgs,
		source:    *source,
		output:    *output,
	}, nil
}

func (a *arguments) config(ctx context.Context, fs afs.Service) (*nanokernel.Config, error) {
	ret := nanokernel.DefaultConfig()
	if a.configURL != "" {
		var err error
		if ret, err = nanokernel.LoadConfig(ctx, fs, a.configURL); err != nil {
			return nil, err
		}
	}
	if a.logLevel != "" {
		ret.Log.Level = a.logLevel
	}
	if a.quantum > 0 {
		ret.Scheduler.Quantum = a.quantum
	}
	if a.physical != "" {
		ret.Memory.Physical = a.physical
	}
	if a.rootHalt {
		ret.Kernel.RootOnlyHalt = true
	}
	if a.maxInstr > 0 {
		ret.Kernel.MaxInstructions = a.maxInstr
	}
	if a.eventsURL != "" {
		ret.Events.Enabled = true
		ret.Events.Vendor = string(messaging.VendorFs)
		ret.Events.URL = localURL(a.eventsURL)
	}
	if a.command == "run" && (a.configURL == "" || a.baseURL != ".") {
		ret.Filesystem.BaseURL = localURL(a.baseURL)
	}
	return ret, ret.Validate()
}

// localURL turns a bare path into a file URL.
func localURL(location string) string {
	if strings.Contains(location, "://") {
		return location
	}
	if abs, err := filepath.Abs(location); err == nil {
		location = abs
	}
	return "file://" + filepath.ToSlash(location)
}

// execute returns the exit status of the root process.
func (a *arguments) execute(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	fs := afs.New()
	config, err := a.config(ctx, fs)
	if err != nil {
		return 1, err
	}
	options := []nanokernel.Option{
		nanokernel.WithConfig(config),
		nanokernel.WithFileSystem(fs),
		nanokernel.WithConsole(stdin, stdout),
		nanokernel.WithLogOutput(stderr),
	}
	if a.events {
		options = append(options, nanokernel.WithEventListener(func(e lifecycle.Event) {
			log.Info().Str("kind", string(e.Kind)).Int("pid", e.PID).Int("child", e.ChildPID).Int32("status", e.Status).Str("path", e.Path).Msg("event")
		}))
	}
	if a.trace != "" {
		options = append(options, nanokernel.WithTracing(version, a.trace))
	}
	service, err := nanokernel.New(options...)
	if err != nil {
		return 1, err
	}
	switch a.command {
	case "asm":
		program, err := service.Assembler().Build(ctx, localURL(a.source), localURL(a.output))
		if err != nil {
			return 1, err
		}
		fmt.Fprintf(stderr, "%s: %d instructions, %d data bytes, %d bss bytes\n", a.output, len(program.Code)/isa.InstructionSize, len(program.Data), program.BSS)
		return 0, nil
	}

	kernel := service.Kernel()
	name := a.program
	if strings.HasSuffix(name, sourceExt) {
		source, err := fs.DownloadWithURL(ctx, localURL(name))
		if err != nil {
			return 1, errors.Wrapf(err, "failed to read %v", name)
		}
		name = strings.TrimSuffix(filepath.Base(name), sourceExt)
		if _, err = kernel.InstallSource(ctx, name, source); err != nil {
			return 1, err
		}
	}
	report, err := kernel.Boot(ctx, name, a.args...)
	if report != nil {
		fmt.Fprintln(stderr, report.Summary())
	}
	if err != nil {
		return 1, err
	}
	if report.Halted {
		return 0, nil
	}
	return int(uint8(report.Status())), nil
}

func main() {
	kingpin.Version(version)
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}
	status, err := args.execute(context.Background(), os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		kingpin.Fatalf("%s", err)
	}
	os.Exit(status)
}
