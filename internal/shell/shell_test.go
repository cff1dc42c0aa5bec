// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package shell

import (
	"os"
	"strings"
	"testing"

	"github.com/microsoft/sbc-image-tools/internal/logger"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	os.Exit(m.Run())
}

func TestExecuteCapturesStdout(t *testing.T) {
	stdout, _, err := Execute("echo", "hello")
	assert.NoError(t, err)
	assert.Equal(t, "hello", strings.TrimSpace(stdout))
}

func TestExecuteReportsFailure(t *testing.T) {
	_, _, err := Execute("false")
	assert.ErrorContains(t, err, "process (false) failed")
}

func TestExecuteMissingProgram(t *testing.T) {
	_, _, err := Execute("no-such-program-exists")
	assert.Error(t, err)
}

func TestExecBuilderStdin(t *testing.T) {
	stdout, _, err := NewExecBuilder("cat").
		Stdin("from stdin").
		ExecuteCaptureOutput()
	assert.NoError(t, err)
	assert.Equal(t, "from stdin", strings.TrimSpace(stdout))
}

func TestExecBuilderStdoutCallback(t *testing.T) {
	lines := []string(nil)
	err := NewExecBuilder("sh", "-c", "echo one; echo two").
		StdoutCallback(func(line string) {
			lines = append(lines, line)
		}).
		Execute()
	assert.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestExecBuilderErrorStderrLines(t *testing.T) {
	err := NewExecBuilder("sh", "-c", "echo context >&2; echo failed here >&2; exit 1").
		ErrorStderrLines(1).
		Execute()
	assert.ErrorContains(t, err, "failed here")
	assert.NotContains(t, err.Error(), "context")
}

func TestExecuteLive(t *testing.T) {
	err := ExecuteLive(true /*squashErrors*/, "true")
	assert.NoError(t, err)

	err = ExecuteLive(true /*squashErrors*/, "false")
	assert.Error(t, err)
}
