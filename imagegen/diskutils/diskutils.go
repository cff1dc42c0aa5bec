// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Utility to create and manipulate disk images and partitions

package diskutils

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/microsoft/sbc-image-tools/internal/logger"
	"github.com/microsoft/sbc-image-tools/internal/retry"
	"github.com/microsoft/sbc-image-tools/internal/shell"
	"github.com/microsoft/sbc-image-tools/internal/sliceutils"
	"github.com/sirupsen/logrus"
)

const (
	// MBR partition type of the FAT32 (LBA) firmware partition.
	FirmwarePartitionType = "c"

	// MBR partition type of the Linux root partition.
	LinuxPartitionType = "83"

	// MBR LBA fields are 32 bits wide.
	maxMbrSectors = 0xFFFFFFFF

	flockTimeoutSeconds = "5"
)

type PartitionTablePartition struct {
	// Populated from "sfdisk --json":
	Path     string `json:"node"`     // Example: image.raw1
	Start    uint64 `json:"start"`    // Example: 2048
	Size     uint64 `json:"size"`     // Example: 262144
	Type     string `json:"type"`     // Example: c
	Bootable bool   `json:"bootable"` // Example: true
}

type PartitionTable struct {
	Label      string                    `json:"label"`      // Example: dos
	Id         string                    `json:"id"`         // Example: 0x1b2fa35c
	Device     string                    `json:"device"`     // Example: image.raw
	Unit       string                    `json:"unit"`       // Example: sectors
	SectorSize int                       `json:"sectorsize"` // Example: 512
	Partitions []PartitionTablePartition `json:"partitions"`
}

type partitionTableOutput struct {
	PartitionTable *PartitionTable `json:"partitiontable"`
}

type loopbackListOutput struct {
	Devices []loopbackDevice `json:"loopdevices"`
}

type loopbackDevice struct {
	Name        string `json:"name"`
	BackingFile string `json:"back-file"`
}

// CreateImageFile creates the backing image file for the given plan: the
// partition table region is zero-filled to clear any prior table, then the
// file is extended sparsely to its exact final length.
func CreateImageFile(imageFilePath string, plan ImagePlan) (err error) {
	imageFile, err := os.OpenFile(imageFilePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create image file (%s):\n%w", imageFilePath, err)
	}
	defer func() {
		closeErr := imageFile.Close()
		if err == nil {
			err = closeErr
		}
	}()

	zeros := make([]byte, plan.SectorSize)
	for sector := uint64(0); sector < plan.TableSectors; sector++ {
		_, err = imageFile.Write(zeros)
		if err != nil {
			return fmt.Errorf("failed to clear image file's partition table region:\n%w", err)
		}
	}

	// Extend to the final size without writing the remaining sectors.
	err = imageFile.Truncate(int64(plan.ImageSizeBytes()))
	if err != nil {
		return fmt.Errorf("failed to set image file's size:\n%w", err)
	}

	return nil
}

// WritePartitionTable writes the two-entry MBR partition table described by
// the plan: a bootable FAT32 firmware partition followed by a Linux root
// partition.
func WritePartitionTable(imageFilePath string, plan ImagePlan) error {
	err := validateImagePlan(plan)
	if err != nil {
		return fmt.Errorf("refusing to write partition table (%s):\n%w", imageFilePath, err)
	}

	sfdiskScript := renderSfdiskScript(plan)
	logger.Log.Debugf("sfdisk script:\n%s", sfdiskScript)

	err = shell.NewExecBuilder("flock", "--timeout", flockTimeoutSeconds, imageFilePath, "sfdisk", "--lock=no",
		imageFilePath).
		Stdin(sfdiskScript).
		LogLevel(logrus.DebugLevel, logrus.WarnLevel).
		ErrorStderrLines(1).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to write partition table (%s) using sfdisk:\n%w", imageFilePath, err)
	}

	return nil
}

// validateImagePlan rejects geometry that would produce a corrupt or
// overlapping partition table. The geometry calculator never produces such a
// plan, but the table writer must refuse rather than silently corrupt.
func validateImagePlan(plan ImagePlan) error {
	if plan.FirmwareSectors == 0 || plan.RootSectors == 0 {
		return fmt.Errorf("partition lengths must not be 0 (firmware=%d, root=%d)",
			plan.FirmwareSectors, plan.RootSectors)
	}

	if plan.TableSectors == 0 {
		return fmt.Errorf("first partition would overlap the partition table (start=0)")
	}

	firmwareEnd := plan.TableSectors + plan.FirmwareSectors
	if plan.RootOffsetSectors < firmwareEnd {
		return fmt.Errorf("partitions overlap: root starts at sector %d but firmware ends at sector %d",
			plan.RootOffsetSectors, firmwareEnd)
	}

	rootEnd := plan.RootOffsetSectors + plan.RootSectors
	if rootEnd > plan.ImageSectors {
		return fmt.Errorf("root partition ends at sector %d, past the end of the image (%d sectors)",
			rootEnd, plan.ImageSectors)
	}

	if rootEnd > maxMbrSectors {
		return fmt.Errorf("image (%d sectors) exceeds the MBR addressing limit", plan.ImageSectors)
	}

	return nil
}

func renderSfdiskScript(plan ImagePlan) string {
	builder := strings.Builder{}
	builder.WriteString("label: dos\n")
	builder.WriteString("unit: sectors\n")
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("start=%d, size=%d, type=%s, bootable\n",
		plan.TableSectors, plan.FirmwareSectors, FirmwarePartitionType))
	builder.WriteString(fmt.Sprintf("start=%d, size=%d, type=%s\n",
		plan.RootOffsetSectors, plan.RootSectors, LinuxPartitionType))
	return builder.String()
}

// ReadImagePartitionTable reads the partition table back from the image file.
func ReadImagePartitionTable(imageFilePath string) (*PartitionTable, error) {
	stdout, stderr, err := shell.Execute("flock", "--timeout", flockTimeoutSeconds, "--shared", imageFilePath,
		"sfdisk", "--lock=no", "--dump", "--json", imageFilePath)
	if err != nil {
		if strings.Contains(stderr, "does not contain a recognized partition table") {
			// Empty partition table.
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read partition table (%s):\n%s\n%w", imageFilePath, stderr, err)
	}

	var output partitionTableOutput
	if stdout == "" {
		return nil, nil
	}

	err = json.Unmarshal([]byte(stdout), &output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse partition table JSON (%s):\n%w", imageFilePath, err)
	}

	if output.PartitionTable == nil {
		return nil, nil
	}

	if output.PartitionTable.Unit != "sectors" {
		return nil, fmt.Errorf("sfdisk returned unexpected unit size '%s': expecting 'sectors'",
			output.PartitionTable.Unit)
	}

	return output.PartitionTable, nil
}

// SetupLoopbackDevice creates a /dev/loop device bound to a byte range of the
// given image file. A sizeLimitBytes of 0 binds through to the end of the
// file.
func SetupLoopbackDevice(imageFilePath string, offsetBytes uint64, sizeLimitBytes uint64,
) (devicePath string, err error) {
	logger.Log.Debugf("Attaching loopback: %s (offset=%d, sizelimit=%d)", imageFilePath, offsetBytes, sizeLimitBytes)

	args := []string{"--show", "-f", "--offset", fmt.Sprintf("%d", offsetBytes)}
	if sizeLimitBytes != 0 {
		args = append(args, "--sizelimit", fmt.Sprintf("%d", sizeLimitBytes))
	}
	args = append(args, imageFilePath)

	stdout, stderr, err := shell.Execute("losetup", args...)
	if err != nil {
		return "", fmt.Errorf("failed to create loopback device using losetup:\n%v\n%w", stderr, err)
	}

	devicePath = strings.TrimSpace(stdout)
	logger.Log.Debugf("Created loopback device at device path: %v", devicePath)
	return devicePath, nil
}

// DetachLoopbackDevice detaches the specified loopback device.
func DetachLoopbackDevice(devicePath string) (err error) {
	logger.Log.Debugf("Detaching loopback device path: %v", devicePath)
	_, stderr, err := shell.Execute("losetup", "-d", devicePath)
	if err != nil {
		return fmt.Errorf("failed to detach loopback device using losetup:\n%v\n%w", stderr, err)
	}
	return nil
}

// WaitForLoopbackToDetach waits for the kernel to release a loopback device,
// which can happen asynchronously after losetup -d returns.
func WaitForLoopbackToDetach(devicePath string, imageFilePath string) error {
	if !filepath.IsAbs(imageFilePath) {
		return fmt.Errorf("internal error: loopback image path must be absolute (%s)", imageFilePath)
	}

	_, err := retry.RunWithExpBackoff(context.Background(), func() error {
		stdout, _, err := shell.Execute("losetup", "--list", "--json", "--output", "NAME,BACK-FILE")
		if err != nil {
			return fmt.Errorf("failed to read loopback list:\n%w", err)
		}

		var output loopbackListOutput
		if stdout != "" {
			err = json.Unmarshal([]byte(stdout), &output)
			if err != nil {
				return fmt.Errorf("failed to parse loopback devices list JSON:\n%w", err)
			}
		}

		_, found := sliceutils.FindValueFunc(output.Devices, func(device loopbackDevice) bool {
			return device.Name == devicePath && device.BackingFile == imageFilePath
		})
		if found {
			return fmt.Errorf("loopback device (%s) for image (%s) is still attached", devicePath, imageFilePath)
		}

		return nil
	}, 10 /*attempts*/, 120*time.Millisecond, 2.0 /*backoffBase*/)
	if err != nil {
		return fmt.Errorf("timed out waiting for loopback device (%s) for image (%s) to close:\n%w",
			devicePath, imageFilePath, err)
	}

	return nil
}

// FormatExt4 formats the device with an ext4 filesystem.
func FormatExt4(devicePath string) error {
	return formatDevice(devicePath, "ext4", "-F")
}

// FormatFat32 formats the device with a FAT32 filesystem.
func FormatFat32(devicePath string) error {
	return formatDevice(devicePath, "vfat", "-F", "32")
}

func formatDevice(devicePath string, fsType string, mkfsOptions ...string) error {
	const (
		totalAttempts = 5
		retryDuration = time.Second
	)

	mkfsArgs := []string{"-t", fsType}
	mkfsArgs = append(mkfsArgs, mkfsOptions...)
	mkfsArgs = append(mkfsArgs, devicePath)

	// The format command can fail shortly after a device is created, before
	// the kernel has finished setting it up. So, retry the command.
	err := retry.Run(func() error {
		_, stderr, err := shell.Execute("mkfs", mkfsArgs...)
		if err != nil {
			logger.Log.Warnf("Failed to format device using mkfs: %v", stderr)
			return err
		}

		return nil
	}, totalAttempts, retryDuration)
	if err != nil {
		return fmt.Errorf("could not format device (%s) with type %s after %d attempts:\n%w",
			devicePath, fsType, totalAttempts, err)
	}

	return nil
}
