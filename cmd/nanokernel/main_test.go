package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var testdata = filepath.Join("..", "..", "testdata")

var _ = Describe("Parsing", func() {
	It("parses a fully populated run command line", func() {
		args, err := parseArgs([]string{
			"--logLevel", "debug",
			"run",
			"--fs", "mem://localhost/cli",
			"--quantum", "10",
			"--physical", "8MiB",
			"--events",
			"--eventsURL", "mem://localhost/cli/events",
			"--rootOnlyHalt",
			"--maxInstructions", "1000",
			"echo", "a", "b",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(args.command).To(Equal("run"))
		Expect(args.logLevel).To(Equal("debug"))
		Expect(args.baseURL).To(Equal("mem://localhost/cli"))
		Expect(args.quantum).To(Equal(10))
		Expect(args.events).To(BeTrue())
		Expect(args.program).To(Equal("echo"))
		Expect(args.args).To(Equal([]string{"a", "b"}))

		config, err := args.config(context.Background(), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(config.Scheduler.Quantum).To(Equal(10))
		Expect(config.Memory.Physical).To(Equal("8MiB"))
		Expect(config.Kernel.RootOnlyHalt).To(BeTrue())
		Expect(config.Kernel.MaxInstructions).To(BeEquivalentTo(1000))
		Expect(config.Filesystem.BaseURL).To(Equal("mem://localhost/cli"))
		Expect(config.Events.Vendor).To(Equal("fs"))
		Expect(config.Events.URL).To(Equal("mem://localhost/cli/events"))
	})

	It("rejects a missing program", func() {
		_, err := parseArgs([]string{"run"})
		Expect(err).To(HaveOccurred())
	})

	It("rejects an unknown log level", func() {
		_, err := parseArgs([]string{"--logLevel", "loud", "run", "echo"})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Executing", func() {
	var (
		dir            string
		stdout, stderr *bytes.Buffer
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "nanokernel")
		Expect(err).NotTo(HaveOccurred())
		stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	execute := func(command ...string) int {
		args, err := parseArgs(command)
		Expect(err).NotTo(HaveOccurred())
		status, err := args.execute(context.Background(), bytes.NewReader(nil), stdout, stderr)
		Expect(err).NotTo(HaveOccurred())
		return status
	}

	It("assembles and runs a source file", func() {
		status := execute("--logLevel", "error", "run", "--fs", dir, filepath.Join(testdata, "echo.s"), "hi")
		Expect(status).To(Equal(2))
		Expect(stdout.String()).To(Equal("hi"))
		Expect(filepath.Join(dir, "echo")).To(BeAnExistingFile())
	})

	It("runs a program assembled ahead of time", func() {
		Expect(execute("--logLevel", "error", "asm", filepath.Join(testdata, "echo.s"), filepath.Join(dir, "echo"))).To(Equal(0))
		Expect(stderr.String()).To(ContainSubstring("instructions"))
		status := execute("--logLevel", "error", "run", "--fs", dir, filepath.Join(testdata, "spawn.s"))
		Expect(status).To(Equal(12))
		Expect(stdout.String()).To(Equal("world"))
	})

	It("keeps lifecycle events as files", func() {
		events := filepath.Join(dir, "events")
		status := execute("--logLevel", "error", "run", "--fs", dir, "--events", "--eventsURL", events, filepath.Join(testdata, "fork.s"))
		Expect(status).To(Equal(107))
		completed, err := os.ReadDir(filepath.Join(events, "lifecycle.Event", "completed"))
		Expect(err).NotTo(HaveOccurred())
		Expect(completed).NotTo(BeEmpty())
	})

	It("logs at the configured level only", func() {
		execute("--logLevel", "error", "run", "--fs", dir, filepath.Join(testdata, "hello.s"))
		Expect(stderr.String()).NotTo(ContainSubstring("booted"))
		stderr.Reset()
		execute("--logLevel", "info", "run", "--fs", dir, filepath.Join(testdata, "hello.s"))
		Expect(stderr.String()).To(ContainSubstring("booted"))
	})

	It("reports a halted machine as success", func() {
		status := execute("--logLevel", "error", "run", "--fs", dir, filepath.Join(testdata, "halt.s"))
		Expect(status).To(Equal(0))
	})
})
