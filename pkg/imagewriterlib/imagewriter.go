// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagewriterlib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/microsoft/sbc-image-tools/imagegen/configuration"
	"github.com/microsoft/sbc-image-tools/imagegen/diskutils"
	"github.com/microsoft/sbc-image-tools/internal/file"
	"github.com/microsoft/sbc-image-tools/internal/logger"
	"github.com/microsoft/sbc-image-tools/internal/safeloopback"
	"github.com/microsoft/sbc-image-tools/internal/safemount"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	ToolVersion = "0.2.0"

	OtelTracerName = "imagewriter"

	// The firmware partition is mounted inside the root filesystem at the
	// location the bootloader expects.
	firmwareMountRelPath = "boot/firmware"
)

var (
	ErrMeasureSourceTree    = NewImageWriterError(IOError, "failed to measure source content tree")
	ErrComputeGeometry      = NewImageWriterError(InvalidInputError, "failed to compute image geometry")
	ErrCreateBuildDir       = NewImageWriterError(IOError, "failed to create build directory")
	ErrCreateImageFile      = NewImageWriterError(IOError, "failed to create image file")
	ErrWritePartitionTable  = NewImageWriterError(PartitionError, "failed to write partition table")
	ErrAttachRootDevice     = NewImageWriterError(DeviceError, "failed to attach root partition as a loopback device")
	ErrAttachFirmwareDevice = NewImageWriterError(DeviceError, "failed to attach firmware partition as a loopback device")
	ErrFormatRoot           = NewImageWriterError(FormatError, "failed to format root partition")
	ErrFormatFirmware       = NewImageWriterError(FormatError, "failed to format firmware partition")
	ErrMountRoot            = NewImageWriterError(MountError, "failed to mount root partition")
	ErrMountFirmware        = NewImageWriterError(MountError, "failed to mount firmware partition")
)

// WriteImage converts the prepared root filesystem tree at sourceDir into a
// bootable two-partition raw disk image at outputImageFile. Every resource
// acquired along the way (loopback devices, mount points, the per-run build
// directory) is released before this function returns, on both the success and
// the failure path. On failure, the partial output image file is deleted.
func WriteImage(ctx context.Context, buildDir string, sourceDir string, outputImageFile string,
	profile configuration.Profile,
) error {
	err := validateInput(sourceDir, outputImageFile)
	if err != nil {
		return err
	}

	err = profile.IsValid()
	if err != nil {
		return NewImageWriterErrorWithCause(InvalidInputError, "invalid layout profile", err)
	}

	if os.Geteuid() != 0 {
		return NewImageWriterErrorWithCause(InvalidInputError, "insufficient privilege", ToolMustRunAsRootError)
	}

	state := newWorkingState(outputImageFile)

	removeSignalHandler := installSignalTeardown(state)
	defer removeSignalHandler()

	err = writeImageHelper(ctx, state, buildDir, sourceDir, outputImageFile, profile)
	if err != nil {
		state.teardown(true /*deleteImage*/)
		return err
	}

	err = state.cleanClose()
	if err != nil {
		state.teardown(false /*deleteImage*/)
		return err
	}

	logger.Log.Infof("Wrote image: %s", outputImageFile)
	return nil
}

func validateInput(sourceDir string, outputImageFile string) error {
	if sourceDir == "" {
		return NewImageWriterErrorWithCause(InvalidInputError, "invalid source directory", SourceDirRequiredError)
	}

	isDir, err := file.IsDir(sourceDir)
	if err != nil {
		return NewImageWriterErrorWithCause(InvalidInputError, "invalid source directory", err)
	}
	if !isDir {
		return NewImageWriterError(InvalidInputError,
			fmt.Sprintf("source directory (%s) does not exist or is not a directory", sourceDir))
	}

	if outputImageFile == "" {
		return NewImageWriterErrorWithCause(InvalidInputError, "invalid output image file",
			OutputImageFileRequiredError)
	}

	return nil
}

func writeImageHelper(ctx context.Context, state *workingState, buildDir string, sourceDir string,
	outputImageFile string, profile configuration.Profile,
) error {
	ctx, span := otel.GetTracerProvider().Tracer(OtelTracerName).Start(ctx, "write_image")
	defer span.End()

	logger.Log.Infof("Measuring source content: %s", sourceDir)
	sourceSizeKiB, err := sourceTreeSizeKiB(sourceDir)
	if err != nil {
		return fmt.Errorf("%w:\n%w", ErrMeasureSourceTree, err)
	}

	plan, err := diskutils.ComputeImagePlan(sourceSizeKiB, profile)
	if err != nil {
		return fmt.Errorf("%w:\n%w", ErrComputeGeometry, err)
	}

	span.SetAttributes(
		attribute.Int64("source_size_kib", int64(plan.SourceSizeKiB)),
		attribute.Int64("image_sectors", int64(plan.ImageSectors)),
	)
	logger.Log.Infof("Image geometry: %d sectors (%d firmware, %d root)",
		plan.ImageSectors, plan.FirmwareSectors, plan.RootSectors)

	runBuildDir := filepath.Join(buildDir, "imagewriter-"+uuid.NewString())
	err = state.acquireBuildDir(runBuildDir)
	if err != nil {
		return fmt.Errorf("%w (%s):\n%w", ErrCreateBuildDir, runBuildDir, err)
	}

	err = createPartitionedImage(ctx, state, outputImageFile, plan)
	if err != nil {
		return err
	}

	rootMountDir, err := attachAndMountPartitions(ctx, state, outputImageFile, plan)
	if err != nil {
		return err
	}

	logger.Log.Infof("Copying source content into image")
	_, copySpan := otel.GetTracerProvider().Tracer(OtelTracerName).Start(ctx, "copy_content")
	err = copySourceTree(sourceDir, rootMountDir)
	copySpan.End()
	if err != nil {
		return err
	}

	return nil
}

func createPartitionedImage(ctx context.Context, state *workingState, outputImageFile string,
	plan diskutils.ImagePlan,
) error {
	_, span := otel.GetTracerProvider().Tracer(OtelTracerName).Start(ctx, "create_partitioned_image")
	defer span.End()

	logger.Log.Infof("Creating image file: %s", outputImageFile)
	err := state.acquireImageFile(func() error {
		return diskutils.CreateImageFile(outputImageFile, plan)
	})
	if err != nil {
		return fmt.Errorf("%w:\n%w", ErrCreateImageFile, err)
	}

	logger.Log.Infof("Writing partition table")
	err = diskutils.WritePartitionTable(outputImageFile, plan)
	if err != nil {
		return fmt.Errorf("%w:\n%w", ErrWritePartitionTable, err)
	}

	return nil
}

func attachAndMountPartitions(ctx context.Context, state *workingState, outputImageFile string,
	plan diskutils.ImagePlan,
) (rootMountDir string, err error) {
	_, span := otel.GetTracerProvider().Tracer(OtelTracerName).Start(ctx, "attach_and_mount_partitions")
	defer span.End()

	// The root partition runs to the end of the image, so no size limit is
	// needed.
	rootLoop, err := state.acquireRootLoop(func() (loopDevice, error) {
		return safeloopback.NewLoopbackWithRange(outputImageFile, plan.RootOffsetMiB*diskutils.MiB, 0)
	})
	if err != nil {
		return "", fmt.Errorf("%w:\n%w", ErrAttachRootDevice, err)
	}

	err = diskutils.FormatExt4(rootLoop.DevicePath())
	if err != nil {
		return "", fmt.Errorf("%w:\n%w", ErrFormatRoot, err)
	}

	rootMountDir = filepath.Join(state.buildDir, "rootfs")
	_, err = state.acquireRootMount(func() (mountPoint, error) {
		return safemount.NewMount(rootLoop.DevicePath(), rootMountDir, "ext4", 0, "", true)
	})
	if err != nil {
		return "", fmt.Errorf("%w:\n%w", ErrMountRoot, err)
	}

	firmwareLoop, err := state.acquireFirmwareLoop(func() (loopDevice, error) {
		return safeloopback.NewLoopbackWithRange(outputImageFile,
			plan.FirmwareOffsetMiB*diskutils.MiB, plan.FirmwareSectors*plan.SectorSize)
	})
	if err != nil {
		return "", fmt.Errorf("%w:\n%w", ErrAttachFirmwareDevice, err)
	}

	err = diskutils.FormatFat32(firmwareLoop.DevicePath())
	if err != nil {
		return "", fmt.Errorf("%w:\n%w", ErrFormatFirmware, err)
	}

	// The firmware mount point lives inside the root filesystem, so it can
	// only be created now that the root mount is live.
	firmwareMountDir := filepath.Join(rootMountDir, firmwareMountRelPath)
	_, err = state.acquireFirmwareMount(func() (mountPoint, error) {
		return safemount.NewMount(firmwareLoop.DevicePath(), firmwareMountDir, "vfat", 0, "", true)
	})
	if err != nil {
		return "", fmt.Errorf("%w:\n%w", ErrMountFirmware, err)
	}

	return rootMountDir, nil
}
