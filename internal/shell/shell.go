// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package shell runs external tools, routing their output through the logger.
package shell

import (
	"github.com/sirupsen/logrus"
)

// Execute runs the program with the given args and returns its captured
// stdout and stderr.
func Execute(program string, args ...string) (stdout string, stderr string, err error) {
	return NewExecBuilder(program, args...).
		LogLevel(logrus.TraceLevel, logrus.TraceLevel).
		ExecuteCaptureOutput()
}

// ExecuteLive runs the program, streaming its output to the logger instead of
// capturing it. When squashErrors is set, stderr lines are logged at debug
// level instead of warn level.
func ExecuteLive(squashErrors bool, program string, args ...string) error {
	stderrLevel := logrus.WarnLevel
	if squashErrors {
		stderrLevel = logrus.DebugLevel
	}

	return NewExecBuilder(program, args...).
		LogLevel(logrus.DebugLevel, stderrLevel).
		Execute()
}
