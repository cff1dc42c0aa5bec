// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package logger provides the shared logrus logger used by all tools.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/microsoft/sbc-image-tools/internal/sliceutils"
	"github.com/sirupsen/logrus"
)

// Log is the shared logger instance. It is valid after a call to one of the
// Init functions.
var Log *logrus.Logger

const (
	LevelsFlag        = "log-level"
	LevelsHelp        = "Minimum log level to print."
	LevelsPlaceholder = "(panic|fatal|error|warn|info|debug|trace)"
	FileFlag          = "log-file"
	FileFlagHelp      = "Path of the file to write logs to, in addition to stderr."
	ColorFlag         = "log-color"
	ColorFlagHelp     = "Color setting for log output."
	ColorsPlaceholder = "(always|auto|never)"
)

const defaultLogLevel = logrus.InfoLevel

const (
	colorAlways = "always"
	colorAuto   = "auto"
	colorNever  = "never"
)

// LogFlags holds the values of the common logging CLI flags.
type LogFlags struct {
	LogColor *string
	LogFile  *string
	LogLevel *string
}

// Levels returns the accepted values for the log level flag.
func Levels() []string {
	levels := []string{""}
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}
	return levels
}

// Colors returns the accepted values for the log color flag.
func Colors() []string {
	return []string{"", colorAlways, colorAuto, colorNever}
}

// InitStderrLog initializes the logger with default settings. Intended for
// tests and tools that do not parse log flags.
func InitStderrLog() {
	initLog(&LogFlags{})
}

// InitBestEffort initializes the logger from the given flags, falling back to
// defaults for anything invalid rather than failing.
func InitBestEffort(flags *LogFlags) {
	initLog(flags)
}

func initLog(flags *LogFlags) {
	Log = logrus.New()
	Log.SetOutput(os.Stderr)

	colorSetting := stringFlag(flags.LogColor)
	if !sliceutils.ContainsValue(Colors(), colorSetting) {
		colorSetting = colorAuto
	}
	Log.SetFormatter(newFormatter(colorSetting))
	if colorSetting != stringFlag(flags.LogColor) {
		Log.Warnf("Unknown log color setting (%s). Defaulting to (%s)", stringFlag(flags.LogColor), colorAuto)
	}

	level := defaultLogLevel
	if levelName := stringFlag(flags.LogLevel); levelName != "" {
		parsedLevel, err := logrus.ParseLevel(levelName)
		if err == nil {
			level = parsedLevel
		} else {
			Log.Warnf("Unknown log level (%s). Defaulting to (%s)", levelName, level)
		}
	}
	Log.SetLevel(level)

	if filePath := stringFlag(flags.LogFile); filePath != "" {
		logFile, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			Log.Warnf("Failed to open log file (%s): %s", filePath, err)
		} else {
			Log.SetOutput(io.MultiWriter(os.Stderr, logFile))
		}
	}
}

func stringFlag(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

// formatter prints "level: message" lines, coloring the level tag when
// color is enabled.
type formatter struct {
	useColor bool
}

func newFormatter(colorSetting string) *formatter {
	// fatih/color disables itself when stderr is not a terminal, which is the
	// "auto" behavior.
	switch colorSetting {
	case colorAlways:
		color.NoColor = false
	case colorNever:
		color.NoColor = true
	}
	return &formatter{useColor: !color.NoColor}
}

var levelColors = map[logrus.Level]*color.Color{
	logrus.PanicLevel: color.New(color.FgRed, color.Bold),
	logrus.FatalLevel: color.New(color.FgRed, color.Bold),
	logrus.ErrorLevel: color.New(color.FgRed),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.InfoLevel:  color.New(color.FgGreen),
	logrus.DebugLevel: color.New(color.FgCyan),
	logrus.TraceLevel: color.New(color.FgCyan),
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	levelTag := strings.ToLower(entry.Level.String())
	if f.useColor {
		if levelColor, ok := levelColors[entry.Level]; ok {
			levelTag = levelColor.Sprint(levelTag)
		}
	}

	line := fmt.Sprintf("%s [%s]: %s\n", entry.Time.Format("2006-01-02T15:04:05Z07:00"), levelTag, entry.Message)
	return []byte(line), nil
}
