// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Run(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, 5, time.Millisecond)

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunReturnsLastError(t *testing.T) {
	calls := 0
	err := Run(func() error {
		calls++
		return errors.New("persistent")
	}, 3, time.Millisecond)

	assert.ErrorContains(t, err, "persistent")
	assert.Equal(t, 3, calls)
}

func TestRunWithExpBackoffCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	cancelled, err := RunWithExpBackoff(ctx, func() error {
		calls++
		return errors.New("transient")
	}, 5, time.Millisecond, 2.0)

	assert.True(t, cancelled)
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunWithExpBackoffSucceeds(t *testing.T) {
	calls := 0
	cancelled, err := RunWithExpBackoff(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}, 5, time.Millisecond, 2.0)

	assert.False(t, cancelled)
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}
