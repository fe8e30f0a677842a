package main

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func TestMounterReadbackCopiesDiscContents(t *testing.T) {
	staging := t.TempDir()
	mountpoint := filepath.Join(staging, "mnt")
	writeFiles(t, staging, map[string]string{"a.txt": "stale"})

	runner := newFakeRunner()
	runner.hooks["mount device"] = func(args []string) error {
		writeFiles(t, args[len(args)-1], map[string]string{
			"a.txt":     "fresh",
			"dir/b.txt": "b",
		})
		return nil
	}

	m := NewMounter(runner, DefaultConfig().Tools)
	if err := m.Readback(context.Background(), "/dev/sr0", mountpoint, staging); err != nil {
		t.Fatalf("Readback failed: %v", err)
	}

	if got := readFile(t, filepath.Join(staging, "a.txt")); got != "fresh" {
		t.Errorf("expected staged file to be overwritten, got %q", got)
	}
	if got := readFile(t, filepath.Join(staging, "dir", "b.txt")); got != "b" {
		t.Errorf("expected directory to be copied, got %q", got)
	}

	want := []string{"mount device"}
	if !reflect.DeepEqual(runner.operations(), want) {
		t.Errorf("expected %v, got %v", want, runner.operations())
	}
	if args := runner.calls[0].args; !reflect.DeepEqual(args, []string{"-o", "ro", "/dev/sr0", mountpoint}) {
		t.Errorf("unexpected mount args %v", args)
	}
}

func TestMounterReadbackMountFailure(t *testing.T) {
	staging := t.TempDir()
	runner := newFakeRunner()
	runner.fail["mount device"] = errors.New("no medium found")

	m := NewMounter(runner, DefaultConfig().Tools)
	if err := m.Readback(context.Background(), "/dev/sr0", filepath.Join(staging, "mnt"), staging); err == nil {
		t.Fatal("expected mount failure to be returned")
	}
	if runner.count("mount device") != 1 {
		t.Errorf("expected a single mount attempt, got %d", runner.count("mount device"))
	}
}

func TestMounterUnmount(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		target  string
		setup   func(r *fakeRunner)
		wantOps []string
	}{
		{
			name:    "mounted directory",
			target:  dir,
			wantOps: []string{"check mountpoint", "unmount device"},
		},
		{
			name:   "directory not mounted",
			target: dir,
			setup: func(r *fakeRunner) {
				r.fail["check mountpoint"] = errors.New("exit status 32")
			},
			wantOps: []string{"check mountpoint"},
		},
		{
			name:    "missing directory",
			target:  filepath.Join(dir, "absent"),
			wantOps: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			if tt.setup != nil {
				tt.setup(runner)
			}

			m := NewMounter(runner, DefaultConfig().Tools)
			if err := m.Unmount(context.Background(), tt.target); err != nil {
				t.Fatalf("Unmount failed: %v", err)
			}
			if !reflect.DeepEqual(runner.operations(), tt.wantOps) {
				t.Errorf("expected %v, got %v", tt.wantOps, runner.operations())
			}
		})
	}
}

func TestMounterTrialMount(t *testing.T) {
	tests := []struct {
		name      string
		fail      string
		wantErr   bool
		wantOps   []string
		wantProbe bool
	}{
		{
			name:    "ready",
			wantOps: []string{"probe device", "release probe"},
		},
		{
			name:    "no medium",
			fail:    "probe device",
			wantErr: true,
			wantOps: []string{"probe device"},
		},
		{
			// The disc mounted, so it is ready; cleanup unmounts the probe point.
			name:      "release fails",
			fail:      "release probe",
			wantOps:   []string{"probe device", "release probe"},
			wantProbe: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := filepath.Join(t.TempDir(), "probe")
			runner := newFakeRunner()
			if tt.fail != "" {
				runner.fail[tt.fail] = errors.New("no medium found")
			}
			m := NewMounter(runner, DefaultConfig().Tools)

			err := m.TrialMount(context.Background(), "/dev/sr0", probe)
			if tt.wantErr != (err != nil) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if !reflect.DeepEqual(runner.operations(), tt.wantOps) {
				t.Errorf("expected %v, got %v", tt.wantOps, runner.operations())
			}
			if got := runner.calls[0].args[len(runner.calls[0].args)-1]; got != probe {
				t.Errorf("expected probe mount on %s, got %s", probe, got)
			}
			if pathExists(probe) != tt.wantProbe {
				t.Errorf("expected probe point present=%v", tt.wantProbe)
			}
		})
	}
}
