package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// CommandRunner runs an external tool to completion. A non-nil error means the
// tool could not be started or exited non-zero.
type CommandRunner interface {
	Run(ctx context.Context, operation, name string, args ...string) error
}

// ExecRunner runs tools as child processes with a restricted environment
type ExecRunner struct {
	Timeout time.Duration
	Env     []string
}

// NewExecRunner creates a runner with the given per-command timeout
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{
		Timeout: timeout,
		Env: []string{
			"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin",
			"LC_ALL=C",
		},
	}
}

// Run runs a command with proper logging and error handling
func (r *ExecRunner) Run(ctx context.Context, operation, name string, args ...string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = r.Env

	// Burn tools fork helpers; kill the whole group on cancellation.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	commandLine := strings.Join(cmd.Args, " ")
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"operation": operation,
		"command":   commandLine,
	})
	logger.Debug("running command")

	output, err := cmd.CombinedOutput()
	if err != nil {
		cmdErr := &CommandError{
			Operation: operation,
			Command:   commandLine,
			Output:    string(output),
			ExitCode:  -1,
			Err:       err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			cmdErr.Err = fmt.Errorf("%w (%v)", ctxErr, err)
		}
		logger.WithFields(logrus.Fields{
			"error":     err,
			"exit_code": cmdErr.ExitCode,
			"output":    string(output),
		}).Debug("command failed")
		return cmdErr
	}

	if len(output) > 0 {
		logger.WithField("output", string(output)).Debug("command output")
	}

	return nil
}
