// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package configuration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultProfileIsValid(t *testing.T) {
	profile := DefaultProfile()
	assert.NoError(t, profile.IsValid())
	assert.Equal(t, uint64(512), profile.SectorSize)
	assert.Equal(t, uint64(1), profile.TableReserveMiB)
	assert.Equal(t, uint64(128), profile.FirmwareSizeMiB)
	assert.Equal(t, uint64(25), profile.RootOverheadPercent)
}

func TestLoadProfileFilePartialOverride(t *testing.T) {
	profileFilePath := filepath.Join(t.TempDir(), "profile.yaml")
	err := os.WriteFile(profileFilePath, []byte("firmwareSizeMiB: 256\n"), 0o644)
	assert.NoError(t, err)

	profile, err := LoadProfileFile(profileFilePath)
	assert.NoError(t, err)

	// Overridden field.
	assert.Equal(t, uint64(256), profile.FirmwareSizeMiB)
	// Untouched fields keep their defaults.
	assert.Equal(t, uint64(512), profile.SectorSize)
	assert.Equal(t, uint64(25), profile.RootOverheadPercent)
}

func TestLoadProfileFileUnknownField(t *testing.T) {
	profileFilePath := filepath.Join(t.TempDir(), "profile.yaml")
	err := os.WriteFile(profileFilePath, []byte("firmwareSize: 256\n"), 0o644)
	assert.NoError(t, err)

	_, err = LoadProfileFile(profileFilePath)
	assert.ErrorContains(t, err, "failed to parse profile file")
}

func TestLoadProfileFileInvalidValues(t *testing.T) {
	profileFilePath := filepath.Join(t.TempDir(), "profile.yaml")
	err := os.WriteFile(profileFilePath, []byte("sectorSize: 500\n"), 0o644)
	assert.NoError(t, err)

	_, err = LoadProfileFile(profileFilePath)
	assert.ErrorContains(t, err, "power of two")
}

func TestLoadProfileFileMissing(t *testing.T) {
	_, err := LoadProfileFile(filepath.Join(t.TempDir(), "no-such-file.yaml"))
	assert.ErrorContains(t, err, "does not exist")
}

func TestIsValidRejectsBadValues(t *testing.T) {
	profile := DefaultProfile()
	profile.SectorSize = 0
	assert.Error(t, profile.IsValid())

	profile = DefaultProfile()
	profile.SectorSize = 8192
	assert.Error(t, profile.IsValid())

	profile = DefaultProfile()
	profile.TableReserveMiB = 0
	assert.Error(t, profile.IsValid())

	profile = DefaultProfile()
	profile.FirmwareSizeMiB = 0
	assert.Error(t, profile.IsValid())

	profile = DefaultProfile()
	profile.RootOverheadPercent = 101
	assert.Error(t, profile.IsValid())
}
