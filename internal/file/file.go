// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package file provides small filesystem helpers.
package file

import (
	"errors"
	"os"
)

// PathExists returns whether the given path exists.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// IsDir returns whether the given path exists and is a directory.
func IsDir(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	return info.IsDir(), nil
}
