// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagewriterlib

import (
	"os"
	"os/signal"

	"github.com/microsoft/sbc-image-tools/internal/logger"
	"golang.org/x/sys/unix"
)

// installSignalTeardown routes termination signals through the same teardown
// path as a failed pipeline step, then re-raises the signal so the process
// exits with the conventional status. The returned function removes the
// handler; the orchestrator calls it once it owns no more live resources.
func installSignalTeardown(state *workingState) (remove func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGINT, unix.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-signals:
			logger.Log.Warnf("Received signal (%s): releasing devices and mounts", sig)
			state.teardown(true /*deleteImage*/)

			signal.Reset(sig)
			unix.Kill(unix.Getpid(), sig.(unix.Signal))

		case <-done:
		}
	}()

	return func() {
		signal.Stop(signals)
		close(done)
	}
}
