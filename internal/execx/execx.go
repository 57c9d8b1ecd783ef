// Package execx runs the upstream management commands (keystone-manage,
// glance-manage, the openstack CLI, ...) with logged output. Everything goes
// through the Runner interface so bootstrap logic is testable without the
// upstream binaries installed.
package execx

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"stackinit/internal/logx"
)

// Command is one external command invocation. Env entries are appended to
// the current process environment.
type Command struct {
	Name string
	Args []string
	Env  []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes external commands.
type Runner interface {
	// Run executes the command and returns its stdout. A non-zero exit
	// returns an error wrapping the captured stderr.
	Run(ctx context.Context, cmd Command) (string, error)
}

type execRunner struct {
	log *logx.Logger
}

// New returns the os/exec backed Runner.
func New() Runner {
	return &execRunner{log: logx.New("execx")}
}

func (r *execRunner) Run(ctx context.Context, cmd Command) (string, error) {
	r.log.Info("run_command", map[string]any{"cmd": cmd.String()})

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if err := c.Run(); err != nil {
		r.log.Error("command_failed", err, map[string]any{
			"cmd":    cmd.String(),
			"stderr": stderr.String(),
		})
		return stdout.String(), fmt.Errorf("%s: %w: %s", cmd.Name, err, strings.TrimSpace(stderr.String()))
	}

	if out := strings.TrimSpace(stdout.String()); out != "" {
		r.log.Info("command_output", map[string]any{"cmd": cmd.Name, "output": out})
	}
	return stdout.String(), nil
}
