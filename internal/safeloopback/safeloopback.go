// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package safeloopback manages the lifetime of a loopback block device.
package safeloopback

import (
	"fmt"
	"path/filepath"

	"github.com/microsoft/sbc-image-tools/imagegen/diskutils"
	"github.com/microsoft/sbc-image-tools/internal/logger"
)

// Loopback is a loopback block device bound to a byte range of an image file.
// Detaching is idempotent: both Close and CleanClose may be called redundantly
// without compounding failures.
type Loopback struct {
	imageFilePath  string
	offsetBytes    uint64
	sizeLimitBytes uint64
	devicePath     string
	isAttached     bool
}

// NewLoopback attaches a whole image file as a loopback device.
func NewLoopback(imageFilePath string) (*Loopback, error) {
	return NewLoopbackWithRange(imageFilePath, 0, 0)
}

// NewLoopbackWithRange attaches a byte range of an image file as a loopback
// device. A sizeLimitBytes of 0 binds through to the end of the file.
func NewLoopbackWithRange(imageFilePath string, offsetBytes uint64, sizeLimitBytes uint64) (*Loopback, error) {
	absImageFilePath, err := filepath.Abs(imageFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve image file path (%s):\n%w", imageFilePath, err)
	}

	loopback := &Loopback{
		imageFilePath:  absImageFilePath,
		offsetBytes:    offsetBytes,
		sizeLimitBytes: sizeLimitBytes,
	}

	devicePath, err := diskutils.SetupLoopbackDevice(absImageFilePath, offsetBytes, sizeLimitBytes)
	if err != nil {
		return nil, err
	}

	loopback.devicePath = devicePath
	loopback.isAttached = true
	return loopback, nil
}

// DevicePath returns the path of the loop device (for example, /dev/loop0).
func (l *Loopback) DevicePath() string {
	return l.devicePath
}

// ImageFilePath returns the path of the backing image file.
func (l *Loopback) ImageFilePath() string {
	return l.imageFilePath
}

// Close releases the device, best effort.
func (l *Loopback) Close() {
	err := l.close(false /*waitForDetach*/)
	if err != nil {
		logger.Log.Warnf("Failed to close loopback device (%s): %s", l.devicePath, err)
	}
}

// CleanClose releases the device and waits for the kernel to finish releasing
// it, so that the backing file can be safely deleted or reused.
func (l *Loopback) CleanClose() error {
	return l.close(true /*waitForDetach*/)
}

func (l *Loopback) close(waitForDetach bool) error {
	if !l.isAttached {
		return nil
	}

	err := diskutils.DetachLoopbackDevice(l.devicePath)
	if err != nil {
		return err
	}

	l.isAttached = false

	if waitForDetach {
		err = diskutils.WaitForLoopbackToDetach(l.devicePath, l.imageFilePath)
		if err != nil {
			return err
		}
	}

	return nil
}
