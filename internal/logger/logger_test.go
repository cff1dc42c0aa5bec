// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInitBestEffortDefaults(t *testing.T) {
	InitBestEffort(&LogFlags{})
	assert.NotNil(t, Log)
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())
}

func TestInitBestEffortLevel(t *testing.T) {
	level := "trace"
	InitBestEffort(&LogFlags{LogLevel: &level})
	assert.Equal(t, logrus.TraceLevel, Log.GetLevel())
}

func TestInitBestEffortBadLevelFallsBack(t *testing.T) {
	level := "chatty"
	InitBestEffort(&LogFlags{LogLevel: &level})
	assert.Equal(t, logrus.InfoLevel, Log.GetLevel())
}

func TestInitBestEffortBadColorFallsBack(t *testing.T) {
	colorSetting := "rainbow"
	InitBestEffort(&LogFlags{LogColor: &colorSetting})
	assert.NotNil(t, Log)
}

func TestMemoryLogHook(t *testing.T) {
	InitStderrLog()

	hook := NewMemoryLogHook()
	Log.AddHook(hook)

	Log.Infof("first message")
	Log.Warnf("second message")

	messages := hook.ConsumeMessages()
	if assert.Len(t, messages, 2) {
		assert.Equal(t, "first message", messages[0].Message)
		assert.Equal(t, logrus.InfoLevel, messages[0].Level)
		assert.Equal(t, "second message", messages[1].Message)
		assert.Equal(t, logrus.WarnLevel, messages[1].Level)
	}

	// Consuming resets the hook.
	assert.Empty(t, hook.ConsumeMessages())
}

func TestLevelsAndColors(t *testing.T) {
	assert.Contains(t, Levels(), "debug")
	assert.Contains(t, Levels(), "")
	assert.Contains(t, Colors(), "auto")
}
