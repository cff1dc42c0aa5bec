// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagewriterlib

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/microsoft/sbc-image-tools/imagegen/configuration"
	"github.com/microsoft/sbc-image-tools/imagegen/diskutils"
	"github.com/microsoft/sbc-image-tools/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func TestWriteImageEmptySourceDir(t *testing.T) {
	outputImageFilePath := filepath.Join(t.TempDir(), "image.raw")

	err := WriteImage(context.Background(), t.TempDir(), "", outputImageFilePath, configuration.DefaultProfile())
	assert.ErrorIs(t, err, InvalidInputError)

	// The run must fail before any image file is created.
	assert.NoFileExists(t, outputImageFilePath)
}

func TestWriteImageMissingSourceDir(t *testing.T) {
	outputImageFilePath := filepath.Join(t.TempDir(), "image.raw")
	missingSourceDir := filepath.Join(t.TempDir(), "no-such-dir")

	err := WriteImage(context.Background(), t.TempDir(), missingSourceDir, outputImageFilePath,
		configuration.DefaultProfile())
	assert.ErrorIs(t, err, InvalidInputError)
	assert.NoFileExists(t, outputImageFilePath)
}

func TestWriteImageEmptyOutputPath(t *testing.T) {
	err := WriteImage(context.Background(), t.TempDir(), t.TempDir(), "", configuration.DefaultProfile())
	assert.ErrorIs(t, err, InvalidInputError)
	assert.ErrorIs(t, err, OutputImageFileRequiredError)
}

func TestWriteImageInvalidProfile(t *testing.T) {
	profile := configuration.DefaultProfile()
	profile.FirmwareSizeMiB = 0

	outputImageFilePath := filepath.Join(t.TempDir(), "image.raw")
	err := WriteImage(context.Background(), t.TempDir(), t.TempDir(), outputImageFilePath, profile)
	assert.ErrorIs(t, err, InvalidInputError)

	// Must be the profile that is rejected, even when run unprivileged.
	assert.ErrorContains(t, err, "invalid layout profile")
	assert.NoFileExists(t, outputImageFilePath)
}

func TestWriteImageEndToEnd(t *testing.T) {
	testutils.CheckSkipForWriteImageRequirements(t)

	testTmpDir := t.TempDir()
	buildDir := filepath.Join(testTmpDir, "build")

	// Build a small source tree with a subdirectory and a symlink.
	sourceDir := filepath.Join(testTmpDir, "rootfs")
	err := os.MkdirAll(filepath.Join(sourceDir, "etc"), 0o755)
	assert.NoError(t, err)
	err = os.WriteFile(filepath.Join(sourceDir, "etc", "hostname"), []byte("sbc\n"), 0o644)
	assert.NoError(t, err)
	err = os.WriteFile(filepath.Join(sourceDir, "init"), make([]byte, 8*1024*1024), 0o755)
	assert.NoError(t, err)
	err = os.Symlink("init", filepath.Join(sourceDir, "sbin-init"))
	assert.NoError(t, err)

	outputImageFilePath := filepath.Join(testTmpDir, "image.raw")
	profile := configuration.DefaultProfile()

	err = WriteImage(context.Background(), buildDir, sourceDir, outputImageFilePath, profile)
	if !assert.NoError(t, err) {
		return
	}

	sourceSizeKiB, err := sourceTreeSizeKiB(sourceDir)
	assert.NoError(t, err)
	plan, err := diskutils.ComputeImagePlan(sourceSizeKiB, profile)
	assert.NoError(t, err)

	// The image file's logical length matches the plan exactly.
	info, err := os.Stat(outputImageFilePath)
	assert.NoError(t, err)
	assert.Equal(t, int64(plan.ImageSizeBytes()), info.Size())

	// The partition table reads back with exactly the computed entries.
	partitionTable, err := diskutils.ReadImagePartitionTable(outputImageFilePath)
	assert.NoError(t, err)
	if assert.NotNil(t, partitionTable) && assert.Len(t, partitionTable.Partitions, 2) {
		assert.Equal(t, "dos", partitionTable.Label)

		firmware := partitionTable.Partitions[0]
		assert.Equal(t, plan.TableSectors, firmware.Start)
		assert.Equal(t, plan.FirmwareSectors, firmware.Size)
		assert.Equal(t, diskutils.FirmwarePartitionType, firmware.Type)
		assert.True(t, firmware.Bootable)

		root := partitionTable.Partitions[1]
		assert.Equal(t, plan.RootOffsetSectors, root.Start)
		assert.Equal(t, plan.RootSectors, root.Size)
		assert.Equal(t, diskutils.LinuxPartitionType, root.Type)
	}

	// The per-run build directory was removed.
	entries, err := os.ReadDir(buildDir)
	assert.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteImageFailureLeavesNoImage(t *testing.T) {
	testutils.CheckSkipForWriteImageRequirements(t)

	testTmpDir := t.TempDir()

	// A source tree large enough that sizing succeeds, but an output path in a
	// non-existent directory so image creation fails.
	sourceDir := filepath.Join(testTmpDir, "rootfs")
	err := os.MkdirAll(sourceDir, 0o755)
	assert.NoError(t, err)
	err = os.WriteFile(filepath.Join(sourceDir, "data"), make([]byte, 64*1024), 0o644)
	assert.NoError(t, err)

	outputImageFilePath := filepath.Join(testTmpDir, "no-such-dir", "image.raw")

	err = WriteImage(context.Background(), testTmpDir, sourceDir, outputImageFilePath, configuration.DefaultProfile())
	assert.ErrorIs(t, err, IOError)
	assert.NoFileExists(t, outputImageFilePath)
}
