package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type runnerCall struct {
	operation string
	name      string
	args      []string
}

// fakeRunner records every command and replays scripted failures and side effects
type fakeRunner struct {
	mu    sync.Mutex
	calls []runnerCall
	fail  map[string]error
	hooks map[string]func(args []string) error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		fail:  make(map[string]error),
		hooks: make(map[string]func(args []string) error),
	}
}

func (f *fakeRunner) Run(ctx context.Context, operation, name string, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, runnerCall{operation: operation, name: name, args: args})
	f.mu.Unlock()
	if hook := f.hooks[operation]; hook != nil {
		if err := hook(args); err != nil {
			return err
		}
	}
	return f.fail[operation]
}

func (f *fakeRunner) operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		ops = append(ops, c.operation)
	}
	return ops
}

func (f *fakeRunner) count(operation string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.operation == operation {
			n++
		}
	}
	return n
}

// fakeClock advances instantly whenever something waits on it
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) totalWait() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total time.Duration
	for _, d := range c.waits {
		total += d
	}
	return total
}

// memArchiver keeps archived artifacts in memory
type memArchiver struct {
	objects map[string][]byte
}

func (a *memArchiver) Archive(ctx context.Context, runID, name string, data []byte) error {
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[ObjectKey("", runID, name)] = data
	return nil
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
