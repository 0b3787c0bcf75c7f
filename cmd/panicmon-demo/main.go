// Package main implements the panicmon demo harness, which spawns a set of
// configured simulated workers, watches them through a [panicmon.Monitor],
// and reports which of them terminated abnormally.
//
// Exit codes: 0 when no watched worker panicked within the timeout, 1 when at
// least one did, 2 on configuration or setup errors.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"tools.zach/dev/panicmon"
	"tools.zach/dev/panicmon/internal/config"
	"tools.zach/dev/panicmon/internal/logger"
	"tools.zach/dev/panicmon/internal/paths"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags (-X main.version=...). When it is
// not set (bare go build), resolveVersion reads the VCS info that Go embeds
// automatically, so dev builds get a useful version string without needing
// git at runtime.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags at build time it is returned as-is; otherwise VCS revision and dirty
// state embedded by the Go toolchain are used to construct a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// Entry Point
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data", "", "data directory (default $PANICMON_DATA_DIR or ~/"+paths.DataDirRel+")")
	logLevel := flag.String("log-level", "", "override the configured log level")
	timeout := flag.Duration("timeout", 0, "override the configured watch timeout")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(resolveVersion())
		return
	}

	os.Exit(run(*dataDir, *logLevel, *timeout))
}

// run executes one harness pass and returns the process exit code.
func run(dataDir, levelOverride string, timeoutOverride time.Duration) int {
	d, err := resolveData(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 2
	}
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		return 2
	}
	if err := config.EnsureDefault(d.Root); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	cfg, err := config.Load(d.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		return 2
	}
	if levelOverride != "" {
		cfg.Log.Level = levelOverride
	}
	if timeoutOverride > 0 {
		cfg.Watch.TimeoutMS = int(timeoutOverride / time.Millisecond)
	}

	log, logCloser := buildLogger(cfg, d)
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(log)

	slog.Info("panicmon demo starting",
		"version", resolveVersion(),
		"data_dir", d.Root,
		"workers", len(cfg.Workers),
		"timeout", cfg.Watch.Timeout())

	// Install the monitor before spawning anything: a worker that panics
	// before Init can never be observed.
	mon := panicmon.New()
	mon.Init()

	threads := spawnWorkers(cfg.Workers)
	crashed := watchWorkers(mon, cfg, threads)

	for _, t := range crashed {
		slog.Warn("worker terminated abnormally", "worker", t.Name(), "id", t.ID().String())
	}
	if len(crashed) == 0 {
		slog.Info("no abnormal terminations observed", "timeout", cfg.Watch.Timeout())
	}
	return exitCode(crashed)
}

// ///////////////////////////////////////////////
// Setup Helpers
// ///////////////////////////////////////////////

// resolveData returns the data directory from the -data flag if given,
// otherwise from the environment/home via [paths.Resolve].
func resolveData(flagValue string) (paths.DataDir, error) {
	if flagValue != "" {
		return paths.DataDir{Root: flagValue}, nil
	}
	return paths.Resolve()
}

// buildLogger constructs the harness logger per config: stderr, or a rotating
// file inside the data directory. The returned closer is nil for stderr.
func buildLogger(cfg *config.Config, d paths.DataDir) (*slog.Logger, io.Closer) {
	level := logger.ParseLevel(cfg.Log.Level)
	if cfg.Log.File == "stderr" {
		return logger.NewConsole(os.Stderr, level), nil
	}
	log, closer, err := logger.NewLogger(filepath.Join(d.Root, cfg.Log.File), level, cfg.Log.MaxSizeMB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: init file logger: %v; logging to stderr\n", err)
		return logger.NewConsole(os.Stderr, level), nil
	}
	return log, closer
}

// ///////////////////////////////////////////////
// Workers
// ///////////////////////////////////////////////

// spawnWorkers starts one goroutine per configured worker and returns their
// descriptors in spawn order.
func spawnWorkers(workers []config.WorkerConfig) []panicmon.Thread {
	threads := make([]panicmon.Thread, 0, len(workers))
	for _, w := range workers {
		th := panicmon.Spawn(w.Name, workerBody(w))
		slog.Debug("spawned worker",
			"worker", th.Name(),
			"id", th.ID().String(),
			"lifetime", w.Lifetime(),
			"panics", w.Panics)
		threads = append(threads, th)
	}
	return threads
}

// workerBody builds the function a simulated worker runs: sleep for the
// configured lifetime, then panic or return per config.
func workerBody(w config.WorkerConfig) func() {
	return func() {
		time.Sleep(w.Lifetime())
		if w.Panics {
			msg := w.Message
			if msg == "" {
				msg = "simulated crash"
			}
			panic(msg)
		}
	}
}

// watchWorkers blocks until a watched worker terminates abnormally or the
// configured timeout elapses. With a watch pattern configured it watches by
// name; otherwise it watches the spawned threads by identity.
func watchWorkers(mon *panicmon.Monitor, cfg *config.Config, threads []panicmon.Thread) []panicmon.Thread {
	timeout := cfg.Watch.Timeout()
	if cfg.Watch.Pattern != "" {
		slog.Debug("watching by name", "pattern", cfg.Watch.Pattern)
		crashed, err := mon.WaitNameTimeout(cfg.Watch.Pattern, timeout)
		if err != nil {
			// The pattern was validated at config load; this is unreachable
			// short of a config type edited after validation.
			logger.Fail(slog.Default(), "watch failed", "error", err)
			return nil
		}
		return crashed
	}
	slog.Debug("watching by identity", "count", len(threads))
	return mon.WaitTimeout(watchList(threads), timeout)
}

// watchList collects the identities of the spawned threads.
func watchList(threads []panicmon.Thread) []panicmon.ThreadID {
	ids := make([]panicmon.ThreadID, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID())
	}
	return ids
}

// exitCode maps a watch result to the process exit code.
func exitCode(crashed []panicmon.Thread) int {
	if len(crashed) > 0 {
		return 1
	}
	return 0
}
