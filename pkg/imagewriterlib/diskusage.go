// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagewriterlib

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/microsoft/sbc-image-tools/internal/shell"
)

// sourceTreeSizeKiB returns the total size, in KiB, of the content under the
// given directory.
func sourceTreeSizeKiB(sourceDir string) (uint64, error) {
	stdout, stderr, err := shell.Execute("du", "-sk", sourceDir)
	if err != nil {
		return 0, fmt.Errorf("failed to measure source directory (%s):\n%v\n%w", sourceDir, stderr, err)
	}

	// du -sk prints "<size-in-KiB>\t<path>".
	fields := strings.Fields(stdout)
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected du output for (%s): %q", sourceDir, stdout)
	}

	sizeKiB, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse du output for (%s) (%q):\n%w", sourceDir, stdout, err)
	}

	return sizeKiB, nil
}
