// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package imagewriterlib

import (
	"errors"
	"fmt"
)

// Global error types for categorization
var (
	InvalidInputError = errors.New("invalid-input")
	IOError           = errors.New("io")
	PartitionError    = errors.New("partition")
	DeviceError       = errors.New("device")
	FormatError       = errors.New("format")
	MountError        = errors.New("mount")
	CopyError         = errors.New("copy")
)

// Static error messages as global variables
var (
	SourceDirRequiredError       = errors.New("source directory must be specified via the command line option '--source-dir'")
	OutputImageFileRequiredError = errors.New("output image file must be specified via the command line option '--output-image-file'")
	ToolMustRunAsRootError       = errors.New("tool should be run as root (e.g. by using sudo)")
)

// ImageWriterError struct for dynamic content
type ImageWriterError struct {
	Type    error
	Message string
	Cause   error
}

func (e *ImageWriterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s:\n%v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ImageWriterError) Unwrap() error {
	return e.Cause
}

func (e *ImageWriterError) Is(target error) bool {
	return errors.Is(e.Type, target)
}

// Helper functions for creating ImageWriterError instances
func NewImageWriterError(errorType error, message string) *ImageWriterError {
	return &ImageWriterError{
		Type:    errorType,
		Message: message,
		Cause:   nil,
	}
}

func NewImageWriterErrorWithCause(errorType error, message string, cause error) *ImageWriterError {
	return &ImageWriterError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}
