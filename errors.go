package main

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidMediaType = errors.New("invalid type specified")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrDriveBusy        = errors.New("drive is busy with another run")
	ErrImageMismatch    = errors.New("image content does not match manifest")

	// errInterrupted cancels a running state machine. It must not wrap
	// context.Canceled or the machine stops without running its finalizer.
	errInterrupted = errors.New("burn-verify interrupted")
)

// CommandError is returned when an external tool cannot be started or exits non-zero
type CommandError struct {
	Operation string
	Command   string
	Output    string
	ExitCode  int
	Err       error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
	if out := lastLine(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// StageError records the workflow state whose transition failed
type StageError struct {
	State string
	Err   error
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedState returns the state a workflow error originated from, or "" if unknown
func FailedState(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.State
	}
	return ""
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
