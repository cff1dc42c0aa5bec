// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagewriterlib

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/microsoft/sbc-image-tools/internal/logger"
)

var errAlreadyTornDown = errors.New("resources were already released by teardown")

// loopDevice is the part of safeloopback.Loopback the working state needs.
type loopDevice interface {
	DevicePath() string
	Close()
	CleanClose() error
}

// mountPoint is the part of safemount.Mount the working state needs.
type mountPoint interface {
	Target() string
	IsMounted() bool
	Close()
	CleanClose() error
}

// workingState records which external resources are currently live. A nil
// handle (or false flag) means the resource was never acquired or has already
// been released.
//
// The lock serializes resource acquisition against teardown: each acquire
// method runs the acquiring operation and records its handle as one unit, so
// a signal-initiated teardown can never interleave between an acquire and its
// record. Once teardown has run, further acquires are refused, and the
// refused acquire never runs its acquiring operation.
//
// Release order is fixed: unmount firmware, unmount root, detach root loop
// device, detach firmware loop device, remove build directory, then (failure
// path only) delete the image file. The firmware mount nests inside the root
// mount, so it must always be unmounted first.
type workingState struct {
	lock     sync.Mutex
	tornDown bool

	imageFilePath string
	imageCreated  bool

	buildDir        string
	buildDirCreated bool

	rootLoop     loopDevice
	firmwareLoop loopDevice

	rootMount     mountPoint
	firmwareMount mountPoint
}

func newWorkingState(imageFilePath string) *workingState {
	return &workingState{
		imageFilePath: imageFilePath,
	}
}

// acquireBuildDir creates the per-run build directory and records it for
// removal on teardown.
func (s *workingState) acquireBuildDir(dir string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.tornDown {
		return errAlreadyTornDown
	}

	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return err
	}

	s.buildDir = dir
	s.buildDirCreated = true
	return nil
}

// acquireImageFile runs create and records that the image file now exists, so
// that the failure path knows to delete it.
func (s *workingState) acquireImageFile(create func() error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.tornDown {
		return errAlreadyTornDown
	}

	err := create()
	if err != nil {
		return err
	}

	s.imageCreated = true
	return nil
}

func (s *workingState) acquireRootLoop(attach func() (loopDevice, error)) (loopDevice, error) {
	return s.acquireLoopDevice(&s.rootLoop, attach)
}

func (s *workingState) acquireFirmwareLoop(attach func() (loopDevice, error)) (loopDevice, error) {
	return s.acquireLoopDevice(&s.firmwareLoop, attach)
}

func (s *workingState) acquireLoopDevice(slot *loopDevice, attach func() (loopDevice, error)) (loopDevice, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.tornDown {
		return nil, errAlreadyTornDown
	}

	device, err := attach()
	if err != nil {
		return nil, err
	}

	*slot = device
	return device, nil
}

func (s *workingState) acquireRootMount(mount func() (mountPoint, error)) (mountPoint, error) {
	return s.acquireMountPoint(&s.rootMount, mount)
}

func (s *workingState) acquireFirmwareMount(mount func() (mountPoint, error)) (mountPoint, error) {
	return s.acquireMountPoint(&s.firmwareMount, mount)
}

func (s *workingState) acquireMountPoint(slot *mountPoint, mount func() (mountPoint, error)) (mountPoint, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.tornDown {
		return nil, errAlreadyTornDown
	}

	point, err := mount()
	if err != nil {
		return nil, err
	}

	*slot = point
	return point, nil
}

// teardown releases every live resource, best effort. Failures are logged and
// do not stop the remaining releases, except that the build directory is kept
// while a mount inside it is still live, so a live mounted filesystem is never
// recursively deleted through. When deleteImage is set, the (partial) output
// image file is also deleted. Calling teardown redundantly is a no-op.
func (s *workingState) teardown(deleteImage bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tornDown = true

	mountsReleased := true

	if s.firmwareMount != nil {
		target := s.firmwareMount.Target()
		s.firmwareMount.Close()
		if s.firmwareMount.IsMounted() {
			mountsReleased = false
		} else {
			s.firmwareMount = nil
			logger.Log.Debugf("Released firmware mount (%s)", target)
		}
	}

	if s.rootMount != nil {
		target := s.rootMount.Target()
		s.rootMount.Close()
		if s.rootMount.IsMounted() {
			mountsReleased = false
		} else {
			s.rootMount = nil
			logger.Log.Debugf("Released root mount (%s)", target)
		}
	}

	if s.rootLoop != nil {
		devicePath := s.rootLoop.DevicePath()
		s.rootLoop.Close()
		s.rootLoop = nil
		logger.Log.Debugf("Released root loop device (%s)", devicePath)
	}

	if s.firmwareLoop != nil {
		devicePath := s.firmwareLoop.DevicePath()
		s.firmwareLoop.Close()
		s.firmwareLoop = nil
		logger.Log.Debugf("Released firmware loop device (%s)", devicePath)
	}

	if s.buildDirCreated {
		if !mountsReleased {
			logger.Log.Warnf("Keeping build directory (%s): a mount inside it is still live", s.buildDir)
		} else {
			err := os.RemoveAll(s.buildDir)
			if err != nil {
				logger.Log.Warnf("Failed to remove build directory (%s): %s", s.buildDir, err)
			}
			s.buildDirCreated = false
		}
	}

	if deleteImage && s.imageCreated {
		err := os.Remove(s.imageFilePath)
		if err != nil {
			logger.Log.Warnf("Failed to delete image file (%s): %s", s.imageFilePath, err)
		}
		s.imageCreated = false
	}
}

// cleanClose releases every live resource in the same order as teardown but
// reports failures instead of swallowing them, and never deletes the image
// file. Used on the success path, where a lingering mount or device is an
// error the user must see.
func (s *workingState) cleanClose() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	errs := []error(nil)

	if s.firmwareMount != nil {
		err := s.firmwareMount.CleanClose()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to unmount firmware partition:\n%w", err))
		} else {
			s.firmwareMount = nil
		}
	}

	if s.rootMount != nil {
		err := s.rootMount.CleanClose()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to unmount root partition:\n%w", err))
		} else {
			s.rootMount = nil
		}
	}

	if s.rootLoop != nil {
		err := s.rootLoop.CleanClose()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to detach root loop device:\n%w", err))
		} else {
			s.rootLoop = nil
		}
	}

	if s.firmwareLoop != nil {
		err := s.firmwareLoop.CleanClose()
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to detach firmware loop device:\n%w", err))
		} else {
			s.firmwareLoop = nil
		}
	}

	if s.buildDirCreated {
		if s.firmwareMount != nil || s.rootMount != nil {
			errs = append(errs, fmt.Errorf("skipped build directory removal (%s): a mount inside it is still live",
				s.buildDir))
		} else {
			err := os.RemoveAll(s.buildDir)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to remove build directory (%s):\n%w", s.buildDir, err))
			} else {
				s.buildDirCreated = false
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
