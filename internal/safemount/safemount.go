// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package safemount manages the lifetime of a filesystem mount.
package safemount

import (
	"fmt"
	"os"

	"github.com/microsoft/sbc-image-tools/internal/logger"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// Mount is a mounted filesystem. Unmounting is idempotent: both Close and
// CleanClose may be called redundantly without compounding failures.
type Mount struct {
	source     string
	target     string
	fstype     string
	flags      uintptr
	data       string
	isMounted  bool
	dirCreated bool
}

// NewMount creates the target directory (if needed) and mounts the source
// device there. When makeAndDeleteDir is set, the created directory is removed
// again on CleanClose.
func NewMount(source, target, fstype string, flags uintptr, data string, makeAndDeleteDir bool) (*Mount, error) {
	mount := &Mount{
		source: source,
		target: target,
		fstype: fstype,
		flags:  flags,
		data:   data,
	}

	if makeAndDeleteDir {
		exists, err := dirExists(target)
		if err != nil {
			return nil, err
		}

		if !exists {
			err = os.MkdirAll(target, os.ModePerm)
			if err != nil {
				return nil, fmt.Errorf("failed to create mount directory (%s):\n%w", target, err)
			}
			mount.dirCreated = true
		}
	}

	logger.Log.Debugf("Mounting (%s) at (%s) as (%s)", source, target, fstype)

	err := unix.Mount(source, target, fstype, flags, data)
	if err != nil {
		if mount.dirCreated {
			os.Remove(target)
		}
		return nil, fmt.Errorf("failed to mount (%s) at (%s):\n%w", source, target, err)
	}

	mount.isMounted = true
	return mount, nil
}

// Source returns the mounted device's path.
func (m *Mount) Source() string {
	return m.source
}

// Target returns the mount point's path.
func (m *Mount) Target() string {
	return m.target
}

// IsMounted returns whether the mount is still live, that is, whether neither
// Close nor CleanClose has released it yet.
func (m *Mount) IsMounted() bool {
	return m.isMounted
}

// Close unmounts, best effort.
func (m *Mount) Close() {
	err := m.close(false /*removeDir*/)
	if err != nil {
		logger.Log.Warnf("Failed to unmount (%s): %s", m.target, err)
	}
}

// CleanClose unmounts and removes the mount directory if this mount created
// it.
func (m *Mount) CleanClose() error {
	return m.close(m.dirCreated)
}

func (m *Mount) close(removeDir bool) error {
	if m.isMounted {
		// The mount may already be gone if teardown ran redundantly.
		mounted, err := mountinfo.Mounted(m.target)
		if err != nil {
			return fmt.Errorf("failed to check mount state of (%s):\n%w", m.target, err)
		}

		if mounted {
			logger.Log.Debugf("Unmounting (%s)", m.target)
			err = unix.Unmount(m.target, 0)
			if err != nil {
				return fmt.Errorf("failed to unmount (%s):\n%w", m.target, err)
			}
		}

		m.isMounted = false
	}

	if removeDir && m.dirCreated {
		err := os.Remove(m.target)
		if err != nil {
			return fmt.Errorf("failed to remove mount directory (%s):\n%w", m.target, err)
		}
		m.dirCreated = false
	}

	return nil
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat (%s):\n%w", path, err)
	}

	if !info.IsDir() {
		return false, fmt.Errorf("mount target (%s) exists but is not a directory", path)
	}

	return true, nil
}
