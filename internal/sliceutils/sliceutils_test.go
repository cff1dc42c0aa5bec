// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package sliceutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsValue(t *testing.T) {
	assert.True(t, ContainsValue([]string{"a", "b"}, "b"))
	assert.False(t, ContainsValue([]string{"a", "b"}, "c"))
	assert.False(t, ContainsValue([]string(nil), "a"))
}

func TestFindValueFunc(t *testing.T) {
	value, found := FindValueFunc([]int{1, 2, 3}, func(v int) bool { return v > 1 })
	assert.True(t, found)
	assert.Equal(t, 2, value)

	_, found = FindValueFunc([]int{1, 2, 3}, func(v int) bool { return v > 3 })
	assert.False(t, found)
}
