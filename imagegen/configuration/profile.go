// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package configuration defines the image layout profile.
package configuration

import (
	"bytes"
	"fmt"
	"os"

	"github.com/microsoft/sbc-image-tools/internal/file"
	"gopkg.in/yaml.v3"
)

// Profile holds the tunable constants of the image layout. The defaults match
// the standard single-board computer layout: a 1 MiB partition table reserve
// followed by a 128 MiB FAT32 firmware partition and an EXT4 root partition
// sized from the source content plus a journaling overhead margin.
type Profile struct {
	// Sector size, in bytes, used for all partition table math.
	SectorSize uint64 `yaml:"sectorSize"`

	// Space reserved at the start of the image for the partition table, in MiB.
	TableReserveMiB uint64 `yaml:"tableReserveMiB"`

	// Size of the firmware (boot) partition, in MiB.
	FirmwareSizeMiB uint64 `yaml:"firmwareSizeMiB"`

	// Percentage of the source content size added to the root partition for
	// filesystem journaling and reserved blocks.
	RootOverheadPercent uint64 `yaml:"rootOverheadPercent"`
}

// DefaultProfile returns the standard layout profile.
func DefaultProfile() Profile {
	return Profile{
		SectorSize:          512,
		TableReserveMiB:     1,
		FirmwareSizeMiB:     128,
		RootOverheadPercent: 25,
	}
}

// LoadProfileFile reads a profile from a YAML file. Fields omitted from the
// file keep their default values.
func LoadProfileFile(path string) (Profile, error) {
	profile := DefaultProfile()

	exists, err := file.PathExists(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to stat profile file (%s):\n%w", path, err)
	}
	if !exists {
		return Profile{}, fmt.Errorf("profile file (%s) does not exist", path)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read profile file (%s):\n%w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)

	err = decoder.Decode(&profile)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile file (%s):\n%w", path, err)
	}

	err = profile.IsValid()
	if err != nil {
		return Profile{}, fmt.Errorf("invalid profile file (%s):\n%w", path, err)
	}

	return profile, nil
}

// IsValid returns an error if the profile's values are unusable.
func (p *Profile) IsValid() error {
	if p.SectorSize == 0 || (p.SectorSize&(p.SectorSize-1)) != 0 {
		return fmt.Errorf("sectorSize (%d) must be a power of two", p.SectorSize)
	}

	if p.SectorSize > 4096 {
		return fmt.Errorf("sectorSize (%d) must not be larger than 4096", p.SectorSize)
	}

	if p.TableReserveMiB == 0 {
		return fmt.Errorf("tableReserveMiB must not be 0")
	}

	if p.FirmwareSizeMiB == 0 {
		return fmt.Errorf("firmwareSizeMiB must not be 0")
	}

	if p.RootOverheadPercent > 100 {
		return fmt.Errorf("rootOverheadPercent (%d) must not be larger than 100", p.RootOverheadPercent)
	}

	return nil
}
