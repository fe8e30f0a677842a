package main

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestBurnerDispatch(t *testing.T) {
	tests := []struct {
		media     MediaType
		operation string
		name      string
		args      []string
	}{
		{MediaCD, "burn cd", "wodim", []string{"-eject", "dev=/dev/sr0", "/tmp/x.iso"}},
		{MediaDVD, "burn dvd", "growisofs", []string{"-dvd-compat", "-Z", "/dev/sr0=/tmp/x.iso"}},
		{MediaBD, "burn bd", "growisofs", []string{"-dvd-compat", "-Z", "/dev/sr0=/tmp/x.iso"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.media), func(t *testing.T) {
			runner := newFakeRunner()
			clock := newFakeClock()
			burner := NewBurner(runner, clock, DefaultConfig().Tools, 10*time.Second)

			if err := burner.Burn(context.Background(), tt.media, "/dev/sr0", "/tmp/x.iso"); err != nil {
				t.Fatalf("Burn failed: %v", err)
			}

			if len(runner.calls) != 1 {
				t.Fatalf("expected 1 command, got %d", len(runner.calls))
			}
			call := runner.calls[0]
			if call.operation != tt.operation || call.name != tt.name {
				t.Errorf("expected %s via %s, got %s via %s", tt.operation, tt.name, call.operation, call.name)
			}
			if !reflect.DeepEqual(call.args, tt.args) {
				t.Errorf("expected args %v, got %v", tt.args, call.args)
			}
			if got := clock.totalWait(); got != 10*time.Second {
				t.Errorf("expected a 10s settle delay, got %s", got)
			}
		})
	}
}

func TestBurnerRejectsInvalidMediaImmediately(t *testing.T) {
	runner := newFakeRunner()
	clock := newFakeClock()
	burner := NewBurner(runner, clock, DefaultConfig().Tools, 10*time.Second)

	err := burner.Burn(context.Background(), MediaType("floppy"), "/dev/sr0", "/tmp/x.iso")
	if !errors.Is(err, ErrInvalidMediaType) {
		t.Fatalf("expected ErrInvalidMediaType, got %v", err)
	}
	if err.Error() != "invalid type specified 'floppy'" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if len(runner.calls) != 0 {
		t.Errorf("expected no commands, got %v", runner.operations())
	}
	if clock.totalWait() != 0 {
		t.Errorf("expected no settle delay, waited %s", clock.totalWait())
	}
}

func TestBurnerToolFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["burn dvd"] = &CommandError{Operation: "burn dvd", ExitCode: 5, Err: errors.New("exit status 5")}
	burner := NewBurner(runner, newFakeClock(), DefaultConfig().Tools, 0)

	err := burner.Burn(context.Background(), MediaDVD, "/dev/sr0", "/tmp/x.iso")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 5 {
		t.Errorf("expected exit code 5, got %d", cmdErr.ExitCode)
	}
}
