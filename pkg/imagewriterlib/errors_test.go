// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagewriterlib

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageWriterErrorIsKind(t *testing.T) {
	err := NewImageWriterError(MountError, "failed to mount root partition")
	assert.ErrorIs(t, err, MountError)
	assert.NotErrorIs(t, err, DeviceError)
}

func TestImageWriterErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("no free loop devices")
	err := NewImageWriterErrorWithCause(DeviceError, "failed to attach loopback device", cause)

	assert.ErrorIs(t, err, DeviceError)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to attach loopback device")
	assert.Contains(t, err.Error(), "no free loop devices")
}

func TestImageWriterErrorKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("%w:\n%w", ErrWritePartitionTable, errors.New("sfdisk exited with status 1"))
	assert.ErrorIs(t, err, PartitionError)
}

func TestStaticErrorsCategorized(t *testing.T) {
	err := NewImageWriterErrorWithCause(InvalidInputError, "insufficient privilege", ToolMustRunAsRootError)
	assert.ErrorIs(t, err, InvalidInputError)
	assert.ErrorIs(t, err, ToolMustRunAsRootError)
}
