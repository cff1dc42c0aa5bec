// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package retry provides simple retry loops for flaky external operations.
package retry

import (
	"context"
	"time"
)

// Run calls function up to attempts times, sleeping between attempts, until it
// succeeds. The last error is returned when all attempts fail.
func Run(function func() error, attempts int, sleep time.Duration) (err error) {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			time.Sleep(sleep)
		}

		err = function()
		if err == nil {
			return nil
		}
	}

	return err
}

// RunWithExpBackoff calls function up to attempts times, multiplying the sleep
// duration by backoffBase after each failure. Returns whether the context was
// cancelled along with the last error.
func RunWithExpBackoff(ctx context.Context, function func() error, attempts int, sleep time.Duration,
	backoffBase float64,
) (cancelled bool, err error) {
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return true, ctx.Err()
			case <-time.After(sleep):
			}

			sleep = time.Duration(float64(sleep) * backoffBase)
		}

		err = function()
		if err == nil {
			return false, nil
		}
	}

	return false, err
}
