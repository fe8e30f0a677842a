package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/diskfs/go-diskfs/filesystem/iso9660"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

const (
	isoBlockSize   = 2048
	isoVolumeLabel = "OPTICAL_TEST"
)

// ImageBuilder produces a single burnable image from a staged directory
type ImageBuilder interface {
	Build(ctx context.Context, sourceDir, outputImage string) error
}

// NewImageBuilder returns the builder selected in the image config
func NewImageBuilder(cfg ImageConfig, runner CommandRunner) (ImageBuilder, error) {
	switch cfg.Builder {
	case "", BuilderGenisoimage:
		return &GenisoimageBuilder{Runner: runner, Tool: cfg.Tool}, nil
	case BuilderNative:
		return &NativeImageBuilder{VolumeLabel: isoVolumeLabel}, nil
	default:
		return nil, fmt.Errorf("unknown image builder %q", cfg.Builder)
	}
}

// GenisoimageBuilder authors images with the external genisoimage tool
type GenisoimageBuilder struct {
	Runner CommandRunner
	Tool   string
}

// Build runs the authoring tool with UTF-8 input names, Rock Ridge and Joliet
func (b *GenisoimageBuilder) Build(ctx context.Context, sourceDir, outputImage string) error {
	GetLogger(ctx).WithFields(logrus.Fields{
		"source": sourceDir,
		"image":  outputImage,
	}).Info("creating ISO image")

	tool := b.Tool
	if tool == "" {
		tool = "genisoimage"
	}

	return b.Runner.Run(ctx, "create image", tool,
		"-input-charset", "UTF-8", "-r", "-J", "-o", outputImage, sourceDir)
}

// NativeImageBuilder authors an ISO9660 image with Rock Ridge in-process
type NativeImageBuilder struct {
	VolumeLabel string
}

// Build writes every file under sourceDir into a new ISO9660 image
func (b *NativeImageBuilder) Build(ctx context.Context, sourceDir, outputImage string) error {
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"source":  sourceDir,
		"image":   outputImage,
		"builder": BuilderNative,
	})
	logger.Info("creating ISO image")

	size, err := estimateImageSize(sourceDir)
	if err != nil {
		return fmt.Errorf("failed to size image: %w", err)
	}

	// diskfs refuses to create over an existing file
	if err := os.Remove(outputImage); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove old image: %w", err)
	}

	isoDisk, err := diskfs.Create(outputImage, size, diskfs.SectorSizeDefault)
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	defer isoDisk.Close()
	isoDisk.LogicalBlocksize = isoBlockSize

	fsys, err := isoDisk.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeISO9660,
		VolumeLabel: b.VolumeLabel,
	})
	if err != nil {
		return fmt.Errorf("failed to create filesystem: %w", err)
	}

	err = filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		isoPath := path.Join("/", filepath.ToSlash(rel))

		if d.IsDir() {
			if err := fsys.Mkdir(isoPath); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", isoPath, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			logger.WithField("path", p).Warn("skipping non-regular file")
			return nil
		}
		return writeImageFile(fsys, p, isoPath)
	})
	if err != nil {
		return err
	}

	iso, ok := fsys.(*iso9660.FileSystem)
	if !ok {
		return fmt.Errorf("unexpected filesystem type %T", fsys)
	}
	if err := iso.Finalize(iso9660.FinalizeOptions{
		RockRidge:        true,
		VolumeIdentifier: b.VolumeLabel,
	}); err != nil {
		return fmt.Errorf("failed to finalize image: %w", err)
	}

	logger.Info("image finalized")
	return nil
}

func writeImageFile(fsys filesystem.FileSystem, src, isoPath string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fsys.OpenFile(isoPath, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("failed to create %s in image: %w", isoPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to write %s into image: %w", isoPath, err)
	}
	return nil
}

// estimateImageSize rounds every file up to a whole block and adds room for
// the volume descriptors and directory records.
func estimateImageSize(dir string) (int64, error) {
	var total int64 = 1024 * 1024
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		total += 2 * isoBlockSize
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += (info.Size() + isoBlockSize - 1) / isoBlockSize * isoBlockSize
		}
		return nil
	})
	return total, err
}

// ImageInspector checks a built image against the manifest before a disc is written
type ImageInspector struct{}

// Inspect reads every manifest entry from the image root and compares digests.
// A content mismatch is reported as ErrImageMismatch.
func (i *ImageInspector) Inspect(ctx context.Context, imagePath string, manifest Manifest) error {
	logger := GetLogger(ctx).WithFields(logrus.Fields{
		"component": "image_inspector",
		"image":     imagePath,
	})
	logger.Info("inspecting image contents")

	isoDisk, err := diskfs.Open(imagePath, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer isoDisk.Close()

	fsys, err := isoDisk.GetFilesystem(0)
	if err != nil {
		return fmt.Errorf("failed to read image filesystem: %w", err)
	}

	for _, entry := range manifest {
		digest, err := imageFileDigest(fsys, "/"+entry.Name)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrImageMismatch, entry.Name, err)
		}
		if digest != entry.Digest {
			return fmt.Errorf("%w: %s: expected %s, got %s", ErrImageMismatch, entry.Name, entry.Digest, digest)
		}
	}

	logger.WithField("files", len(manifest)).Info("image contents match manifest")
	return nil
}

func imageFileDigest(fsys filesystem.FileSystem, isoPath string) (string, error) {
	file, err := fsys.OpenFile(isoPath, os.O_RDONLY)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// ImageFingerprint returns the size and BLAKE3 digest of the image file
func ImageFingerprint(imagePath string) (int64, string, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	hasher := blake3.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return 0, "", fmt.Errorf("failed to hash image: %w", err)
	}

	return size, fmt.Sprintf("%x", hasher.Sum(nil)), nil
}
