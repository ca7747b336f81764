package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Configuration errors
	ErrResourceNotFound   = errors.New("resource not found")
	ErrDuplicateProducer  = errors.New("resource produced more than once")
	ErrInvalidFieldOfView = errors.New("invalid field of view")
	ErrInvalidGrid        = errors.New("invalid grid size")
	ErrShapeMismatch      = errors.New("incompatible array shapes")
	ErrDuplicatePosition  = errors.New("duplicate template position")
	ErrInvalidProbability = errors.New("probability must lie in (0, 1)")
	ErrMissingTemplate    = errors.New("template missing from bank")
	ErrInvalidBounds      = errors.New("invalid parameter bounds")
	ErrEmptySeries        = errors.New("count series has no samples")

	// Numerical errors
	ErrSingularCovariance = errors.New("covariance matrix is not invertible")
	ErrNonFinite          = errors.New("non-finite value")
)

// NewNotFoundError reports a missing named resource
func NewNotFoundError(resource string) error {
	return fmt.Errorf("%w: %s", ErrResourceNotFound, resource)
}

// NewShapeError reports a mismatch between an expected and an actual axis length
func NewShapeError(axis string, want, got int) error {
	return fmt.Errorf("%w: %s axis has %d entries, want %d", ErrShapeMismatch, axis, got, want)
}

// IsConfigurationError reports whether err is one of the fatal configuration errors
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrDuplicateProducer) ||
		errors.Is(err, ErrInvalidFieldOfView) ||
		errors.Is(err, ErrInvalidGrid) ||
		errors.Is(err, ErrShapeMismatch) ||
		errors.Is(err, ErrDuplicatePosition) ||
		errors.Is(err, ErrInvalidProbability) ||
		errors.Is(err, ErrInvalidBounds)
}

// IsNumericalError reports whether err stems from a numerical singularity
func IsNumericalError(err error) bool {
	return errors.Is(err, ErrSingularCovariance) || errors.Is(err, ErrNonFinite)
}
