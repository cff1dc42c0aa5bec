// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagewriterlib

import (
	"fmt"

	"github.com/microsoft/sbc-image-tools/internal/shell"
	"github.com/sirupsen/logrus"
)

var (
	ErrCopySourceTree = NewImageWriterError(CopyError, "failed to copy source tree into image")
)

// copySourceTree copies the contents of sourceRoot into targetRoot.
//
// Notes:
// `-a` ensures unix permissions, ownership, extended attributes, and
// sub-directories (-r) are copied.
// `--no-dereference` ensures that symlinks are copied as symlinks.
func copySourceTree(sourceRoot, targetRoot string) error {
	copyArgs := []string{
		"--verbose", "-a", "--no-dereference", "--sparse", "always",
		sourceRoot + "/.", targetRoot,
	}

	err := shell.NewExecBuilder("cp", copyArgs...).
		LogLevel(logrus.TraceLevel, logrus.DebugLevel).
		ErrorStderrLines(1).
		Execute()
	if err != nil {
		return fmt.Errorf("%w:\n%w", ErrCopySourceTree, err)
	}

	return nil
}
