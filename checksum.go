package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// ManifestEntry is one checksummed file, named relative to the manifest's base directory
type ManifestEntry struct {
	Name   string `json:"name"`
	Digest string `json:"sha256"`
}

// Manifest lists the expected content of a directory in the order it was written
type Manifest []ManifestEntry

// Failure reasons reported by Verify
const (
	ReasonMismatch = "mismatch"
	ReasonMissing  = "missing"
)

// VerifyResult is the outcome of checking a directory against a manifest.
// A failed check is a value, not an error.
type VerifyResult struct {
	OK      bool           `json:"ok"`
	Checked int            `json:"checked"`
	Failure *EntryMismatch `json:"failure,omitempty"`
}

// EntryMismatch describes the first manifest entry that did not verify
type EntryMismatch struct {
	Name     string `json:"name"`
	Reason   string `json:"reason"`
	Expected string `json:"expected"`
	Actual   string `json:"actual,omitempty"`
}

func (m *EntryMismatch) String() string {
	if m.Reason == ReasonMissing {
		return fmt.Sprintf("%s: missing", m.Name)
	}
	return fmt.Sprintf("%s: expected %s, got %s", m.Name, m.Expected, m.Actual)
}

// Ledger generates and verifies sha256 manifests
type Ledger struct{}

// Generate checksums every regular file directly inside dir, writes the
// manifest to manifestPath and immediately verifies dir against what it wrote.
// The boolean is the result of that self-check.
func (l *Ledger) Generate(ctx context.Context, dir, manifestPath string) (Manifest, bool, error) {
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"component": "ledger",
		"dir":       dir,
		"manifest":  manifestPath,
	})
	logger.Info("generating checksums of sample files")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read directory: %w", err)
	}

	manifest := make(Manifest, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			logger.WithField("entry", entry.Name()).Debug("skipping non-regular entry")
			continue
		}

		digest, err := FileDigest(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, false, err
		}
		manifest = append(manifest, ManifestEntry{Name: entry.Name(), Digest: digest})
	}

	if err := WriteManifest(manifestPath, manifest); err != nil {
		return nil, false, err
	}

	logger.WithField("files", len(manifest)).Info("manifest written")

	result, err := l.Verify(ctx, manifestPath, dir)
	if err != nil {
		return manifest, false, fmt.Errorf("failed to self-check manifest: %w", err)
	}

	return manifest, result.OK, nil
}

// Verify re-reads every file named in the manifest from baseDir and compares
// digests. It stops at the first mismatched or missing file.
func (l *Ledger) Verify(ctx context.Context, manifestPath, baseDir string) (*VerifyResult, error) {
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"component": "ledger",
		"manifest":  manifestPath,
		"base_dir":  baseDir,
	})
	logger.Info("checking checksums")

	manifest, err := ReadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{}
	for _, entry := range manifest {
		actual, err := FileDigest(filepath.Join(baseDir, entry.Name))
		if errors.Is(err, fs.ErrNotExist) {
			result.Failure = &EntryMismatch{Name: entry.Name, Reason: ReasonMissing, Expected: entry.Digest}
			break
		}
		if err != nil {
			return nil, err
		}

		result.Checked++
		if actual != entry.Digest {
			result.Failure = &EntryMismatch{
				Name:     entry.Name,
				Reason:   ReasonMismatch,
				Expected: entry.Digest,
				Actual:   actual,
			}
			break
		}
	}

	result.OK = result.Failure == nil
	if !result.OK {
		logger.WithField("failure", result.Failure.String()).Warn("checksum verification failed")
	} else {
		logger.WithField("files", result.Checked).Info("checksums verified")
	}

	return result, nil
}

// FileDigest streams a file through sha256 and returns the hex digest
func FileDigest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for checksum: %w", err)
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("failed to compute checksum of %s: %w", path, err)
	}

	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// WriteTo encodes the manifest as "<digest>  <name>" lines
func (m Manifest) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, entry := range m {
		n, err := fmt.Fprintf(w, "%s  %s\n", entry.Digest, entry.Name)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteManifest writes "<digest>  <name>" lines, the format sha256sum -c reads
func WriteManifest(path string, manifest Manifest) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}

	w := bufio.NewWriter(file)
	if _, err := manifest.WriteTo(w); err != nil {
		file.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync manifest: %w", err)
	}

	return file.Close()
}

// ReadManifest parses a manifest written by WriteManifest
func ReadManifest(path string) (Manifest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	var manifest Manifest
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		digest, name, ok := strings.Cut(line, "  ")
		if !ok || digest == "" || name == "" {
			return nil, fmt.Errorf("malformed manifest line %d: %q", lineNo, line)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate manifest entry %q on line %d", name, lineNo)
		}
		seen[name] = true

		manifest = append(manifest, ManifestEntry{Name: name, Digest: strings.ToLower(digest)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return manifest, nil
}
