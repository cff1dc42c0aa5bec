// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package shell

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/microsoft/sbc-image-tools/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultWarnLogLines is the default number of trailing output lines
	// repeated at warn level when a process fails.
	DefaultWarnLogLines = 1500
)

// ExecBuilder provides a fluent API for running external processes.
type ExecBuilder struct {
	program          string
	args             []string
	stdinString      string
	stdoutLogLevel   logrus.Level
	stderrLogLevel   logrus.Level
	stdoutCallback   func(line string)
	errorStderrLines int
	warnLogLines     int
}

// NewExecBuilder creates an ExecBuilder that will run program with args.
func NewExecBuilder(program string, args ...string) ExecBuilder {
	return ExecBuilder{
		program:        program,
		args:           args,
		stdoutLogLevel: logrus.DebugLevel,
		stderrLogLevel: logrus.DebugLevel,
	}
}

// Stdin provides a string to forward to the process's stdin.
func (b ExecBuilder) Stdin(value string) ExecBuilder {
	b.stdinString = value
	return b
}

// LogLevel sets the log levels used for the process's stdout and stderr
// streams.
func (b ExecBuilder) LogLevel(stdoutLogLevel logrus.Level, stderrLogLevel logrus.Level) ExecBuilder {
	b.stdoutLogLevel = stdoutLogLevel
	b.stderrLogLevel = stderrLogLevel
	return b
}

// StdoutCallback sets a callback that receives each line of the process's
// stdout.
func (b ExecBuilder) StdoutCallback(callback func(line string)) ExecBuilder {
	b.stdoutCallback = callback
	return b
}

// ErrorStderrLines sets the number of trailing stderr lines to include in the
// error when the process fails.
func (b ExecBuilder) ErrorStderrLines(lines int) ExecBuilder {
	b.errorStderrLines = lines
	return b
}

// WarnLogLines sets the number of trailing output lines to repeat at warn
// level when the process fails.
func (b ExecBuilder) WarnLogLines(lines int) ExecBuilder {
	b.warnLogLines = lines
	return b
}

// Execute runs the process.
func (b ExecBuilder) Execute() error {
	_, _, err := b.execute(false /*captureOutput*/)
	return err
}

// ExecuteCaptureOutput runs the process and captures its stdout and stderr.
func (b ExecBuilder) ExecuteCaptureOutput() (string, string, error) {
	return b.execute(true /*captureOutput*/)
}

func (b ExecBuilder) execute(captureOutput bool) (stdout string, stderr string, err error) {
	logger.Log.Debugf("Executing: %s %s", b.program, strings.Join(b.args, " "))

	cmd := exec.Command(b.program, b.args...)

	if b.stdinString != "" {
		cmd.Stdin = strings.NewReader(b.stdinString)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stdout pipe (%s):\n%w", b.program, err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("failed to open stderr pipe (%s):\n%w", b.program, err)
	}

	err = cmd.Start()
	if err != nil {
		return "", "", fmt.Errorf("failed to start process (%s):\n%w", b.program, err)
	}

	stdoutResult := &streamResult{}
	stderrResult := &streamResult{}

	wg := sync.WaitGroup{}
	wg.Add(2)
	go b.consumeStream(stdoutPipe, b.stdoutLogLevel, captureOutput, b.stdoutCallback, stdoutResult, &wg)
	go b.consumeStream(stderrPipe, b.stderrLogLevel, captureOutput, nil, stderrResult, &wg)
	wg.Wait()

	err = cmd.Wait()
	if err != nil {
		if b.warnLogLines > 0 {
			for _, line := range stderrResult.tailLines {
				logger.Log.Warn(line)
			}
		}

		if b.errorStderrLines > 0 && len(stderrResult.tailLines) > 0 {
			tailStart := len(stderrResult.tailLines) - b.errorStderrLines
			if tailStart < 0 {
				tailStart = 0
			}
			tail := strings.Join(stderrResult.tailLines[tailStart:], "\n")
			err = fmt.Errorf("%s\n%w", tail, err)
		}

		err = fmt.Errorf("process (%s) failed:\n%w", b.program, err)
		return stdoutResult.captured.String(), stderrResult.captured.String(), err
	}

	return stdoutResult.captured.String(), stderrResult.captured.String(), nil
}

type streamResult struct {
	captured  strings.Builder
	tailLines []string
}

func (b ExecBuilder) consumeStream(pipe io.Reader, logLevel logrus.Level, captureOutput bool,
	callback func(line string), result *streamResult, wg *sync.WaitGroup,
) {
	defer wg.Done()

	tailLimit := b.warnLogLines
	if b.errorStderrLines > tailLimit {
		tailLimit = b.errorStderrLines
	}
	if tailLimit <= 0 {
		tailLimit = DefaultWarnLogLines
	}

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		logger.Log.Log(logLevel, line)

		if captureOutput {
			result.captured.WriteString(line)
			result.captured.WriteString("\n")
		}

		if callback != nil {
			callback(line)
		}

		result.tailLines = append(result.tailLines, line)
		if len(result.tailLines) > tailLimit {
			result.tailLines = result.tailLines[1:]
		}
	}
}
