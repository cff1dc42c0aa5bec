// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package logger

// Used for storing the log messages in memory.
// Useful for verifying the log messages in unit tests.

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type MemoryLogHook struct {
	messagesLock sync.Mutex
	messages     []MemoryLogMessage
}

type MemoryLogMessage struct {
	Message string
	Level   logrus.Level
}

func NewMemoryLogHook() *MemoryLogHook {
	return &MemoryLogHook{}
}

func (h *MemoryLogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *MemoryLogHook) Fire(entry *logrus.Entry) error {
	message := MemoryLogMessage{
		Message: entry.Message,
		Level:   entry.Level,
	}

	h.messagesLock.Lock()
	defer h.messagesLock.Unlock()
	h.messages = append(h.messages, message)

	return nil
}

// ConsumeMessages returns all messages seen so far and resets the hook.
func (h *MemoryLogHook) ConsumeMessages() []MemoryLogMessage {
	h.messagesLock.Lock()
	defer h.messagesLock.Unlock()

	messages := h.messages
	h.messages = nil
	return messages
}
