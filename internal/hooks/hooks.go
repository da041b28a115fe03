// Package hooks runs the optional shell-command lifecycle hooks supplemented
// from the original Python implementation's forward.py/config.py
// (hook_on_start, hook_on_stop, hook_on_cassette_written), dropped by the
// spec's distillation but not excluded by its Non-goals.
package hooks

import (
	"context"
	"os/exec"
	"time"

	"vcrproxy/internal/logger"
)

// Runner invokes configured shell commands for lifecycle events.
type Runner struct {
	onStart           string
	onStop            string
	onCassetteWritten string
	log               logger.Logger
}

// New returns a Runner for the given commands. Any empty command is a
// no-op for that event.
func New(onStart, onStop, onCassetteWritten string, log logger.Logger) *Runner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Runner{onStart: onStart, onStop: onStop, onCassetteWritten: onCassetteWritten, log: log}
}

// OnStart runs the on_start hook, if configured.
func (r *Runner) OnStart() { r.run("on_start", r.onStart) }

// OnStop runs the on_stop hook, if configured.
func (r *Runner) OnStop() { r.run("on_stop", r.onStop) }

// OnCassetteWritten runs the on_cassette_written hook, if configured,
// passing the cassette path as VCR_CASSETTE_PATH in the child environment.
func (r *Runner) OnCassetteWritten(cassettePath string) {
	if r.onCassetteWritten == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", r.onCassetteWritten)
	cmd.Env = append(cmd.Environ(), "VCR_CASSETTE_PATH="+cassettePath)
	if err := cmd.Run(); err != nil {
		r.log.Warn("hook failed", "hook", "on_cassette_written", "error", err)
	}
}

func (r *Runner) run(name, command string) {
	if command == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if err := cmd.Run(); err != nil {
		r.log.Warn("hook failed", "hook", name, "error", err)
	}
}
