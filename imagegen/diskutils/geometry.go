// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package diskutils

import (
	"fmt"

	"github.com/microsoft/sbc-image-tools/imagegen/configuration"
)

// Unit to byte conversion values
const (
	B   = 1
	KiB = 1024
	MiB = 1024 * 1024
	GiB = 1024 * 1024 * 1024
)

// ImagePlan is the computed geometry of a firmware+root image, in sectors.
// Immutable once computed.
//
// Invariants:
//   - RootOffsetSectors == TableSectors + FirmwareSectors
//   - ImageSectors == TableSectors + FirmwareSectors + RootSectors
type ImagePlan struct {
	// Total size of the source content tree, in KiB.
	SourceSizeKiB uint64

	// Sector size, in bytes, that all sector values below are expressed in.
	SectorSize uint64

	TableSectors    uint64
	FirmwareSectors uint64
	RootSectors     uint64
	ImageSectors    uint64

	RootOffsetSectors uint64

	// Byte offsets of the two partitions, in MiB, for loopback attachment.
	FirmwareOffsetMiB uint64
	RootOffsetMiB     uint64
}

// ComputeImagePlan computes the partition geometry needed to hold a source
// content tree of the given size. The root partition gets an extra
// RootOverheadPercent of the source size to leave room for filesystem
// journaling and reserved blocks.
func ComputeImagePlan(sourceSizeKiB uint64, profile configuration.Profile) (ImagePlan, error) {
	if sourceSizeKiB == 0 {
		return ImagePlan{}, fmt.Errorf("source content size is 0 KiB")
	}

	tableSectors := profile.TableReserveMiB * MiB / profile.SectorSize
	firmwareSectors := profile.FirmwareSizeMiB * MiB / profile.SectorSize

	// The overhead is computed with integer division first (size/100*percent),
	// which truncates up to 99 KiB of the source size before the multiply.
	// This matches the established sizing behavior and keeps image sizes
	// stable; do not "fix" the ordering.
	overheadKiB := sourceSizeKiB / 100 * profile.RootOverheadPercent
	rootSectors := (sourceSizeKiB + overheadKiB) * KiB / profile.SectorSize

	plan := ImagePlan{
		SourceSizeKiB:     sourceSizeKiB,
		SectorSize:        profile.SectorSize,
		TableSectors:      tableSectors,
		FirmwareSectors:   firmwareSectors,
		RootSectors:       rootSectors,
		ImageSectors:      tableSectors + firmwareSectors + rootSectors,
		RootOffsetSectors: tableSectors + firmwareSectors,
		FirmwareOffsetMiB: profile.TableReserveMiB,
		RootOffsetMiB:     profile.TableReserveMiB + profile.FirmwareSizeMiB,
	}
	return plan, nil
}

// ImageSizeBytes returns the exact logical length of the image file.
func (p ImagePlan) ImageSizeBytes() uint64 {
	return p.ImageSectors * p.SectorSize
}
