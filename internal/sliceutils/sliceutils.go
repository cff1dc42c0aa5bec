// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

// Package sliceutils provides generic slice helpers.
package sliceutils

// ContainsValue returns whether the slice contains the given value.
func ContainsValue[T comparable](slice []T, value T) bool {
	for _, entry := range slice {
		if entry == value {
			return true
		}
	}

	return false
}

// FindValueFunc returns the first value in the slice matched by the given
// function, along with whether a match was found.
func FindValueFunc[T any](slice []T, f func(T) bool) (value T, found bool) {
	for _, entry := range slice {
		if f(entry) {
			return entry, true
		}
	}

	return value, false
}
