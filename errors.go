package fat12

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseFAT12Error string

const rootError = baseFAT12Error("")

var ErrTruncatedImage = rootError.WithMessage("Image truncated")
var ErrInvalidGeometry = rootError.WithMessage("Invalid disk geometry")
var ErrClusterOutOfRange = rootError.WithMessage("Cluster out of range")
var ErrNotFound = rootError.WithMessage("No such file or directory")
var ErrInvalidClusterChain = rootError.WithMessage("Invalid cluster chain")
var ErrClusterChainCycle = rootError.WithMessage("Cluster chain cycle detected")
var ErrTruncatedFile = rootError.WithMessage("File truncated")
var ErrInvalidFileName = rootError.WithMessage("Invalid file name")
var ErrFATMirrorMismatch = rootError.WithMessage("FAT copies are not identical")

func (e baseFAT12Error) Error() string {
	return string(e)
}

func (e baseFAT12Error) RootCause() DriverError {
	return e
}

func (e baseFAT12Error) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e baseFAT12Error) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}
