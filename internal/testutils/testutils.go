// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package testutils provides helpers shared by the tests.
package testutils

import (
	"os"
	"os/exec"
	"testing"
)

// CheckSkipForWriteImageRequirements skips the test if it lacks the privileges
// or host tools required to build a real image.
func CheckSkipForWriteImageRequirements(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("Test must be run as root because it uses loopback devices and mounts")
	}

	for _, tool := range []string{"losetup", "sfdisk", "mkfs", "du", "cp", "flock"} {
		_, err := exec.LookPath(tool)
		if err != nil {
			t.Skipf("Test requires the (%s) tool", tool)
		}
	}
}
