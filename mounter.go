package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Mounter drives the OS mount, umount and eject utilities
type Mounter struct {
	Runner CommandRunner
	Tools  ToolsConfig
}

// NewMounter creates a mounter using the configured utilities
func NewMounter(runner CommandRunner, tools ToolsConfig) *Mounter {
	return &Mounter{Runner: runner, Tools: tools}
}

// Mount mounts a device read-only at mountpoint, creating the directory
func (m *Mounter) Mount(ctx context.Context, device, mountpoint string) error {
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"device":     device,
		"mountpoint": mountpoint,
	})

	if err := os.MkdirAll(mountpoint, 0755); err != nil {
		return fmt.Errorf("failed to create mountpoint: %w", err)
	}

	logger.Info("mounting device")
	return m.Runner.Run(ctx, "mount device", m.Tools.Mount, "-o", "ro", device, mountpoint)
}

// Unmount unmounts target, a device or a mountpoint. A mountpoint that does
// not exist or is not mounted is left alone.
func (m *Mounter) Unmount(ctx context.Context, target string) error {
	logger := GetLogger(ctx).WithField("target", target)

	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Debug("nothing to unmount")
		return nil
	}
	if err == nil && info.IsDir() {
		if err := m.Runner.Run(ctx, "check mountpoint", m.Tools.Mountpoint, "-q", target); err != nil {
			logger.Info("device not mounted")
			return nil
		}
	}

	logger.Info("unmounting device")
	return m.Runner.Run(ctx, "unmount device", m.Tools.Umount, target)
}

// Eject opens the drive tray
func (m *Mounter) Eject(ctx context.Context, device string) error {
	GetLogger(ctx).WithField("device", device).Info("ejecting disc")
	return m.Runner.Run(ctx, "eject device", m.Tools.Eject, device)
}

// TrialMount mounts and immediately unmounts the device. It succeeds only if
// the disc is readable right now. The probe point is removed unless the
// release fails; a disc that mounted counts as readable either way and the
// stale mount is left for cleanup.
func (m *Mounter) TrialMount(ctx context.Context, device, probePoint string) error {
	logger := GetLogger(ctx).WithField("probe_point", probePoint)

	if err := os.MkdirAll(probePoint, 0755); err != nil {
		return fmt.Errorf("failed to create probe point: %w", err)
	}
	if err := m.Runner.Run(ctx, "probe device", m.Tools.Mount, "-o", "ro", device, probePoint); err != nil {
		os.Remove(probePoint)
		return err
	}
	if err := m.Runner.Run(ctx, "release probe", m.Tools.Umount, probePoint); err != nil {
		logger.WithError(err).Warn("failed to release probe mount")
		return nil
	}

	if err := os.Remove(probePoint); err != nil {
		logger.WithError(err).Debug("failed to remove probe point")
	}
	return nil
}

// Readback mounts the burned disc and copies everything at its root into
// destDir, overwriting files of the same name. The disc stays mounted.
func (m *Mounter) Readback(ctx context.Context, device, mountpoint, destDir string) error {
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"component": "mounter",
		"device":    device,
		"dest":      destDir,
	})

	if err := m.Mount(ctx, device, mountpoint); err != nil {
		return err
	}

	entries, err := os.ReadDir(mountpoint)
	if err != nil {
		return fmt.Errorf("failed to read mounted disc: %w", err)
	}

	for _, entry := range entries {
		src := filepath.Join(mountpoint, entry.Name())
		if err := copyTree(src, filepath.Join(destDir, entry.Name())); err != nil {
			return fmt.Errorf("failed to copy %s from disc: %w", entry.Name(), err)
		}
	}

	logger.WithField("entries", len(entries)).Info("copied disc contents back")
	return nil
}
