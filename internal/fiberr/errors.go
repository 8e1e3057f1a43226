// Package fiberr holds the error kinds shared by the acquisition, stage and
// analysis packages. Callers match them with errors.Is; every producer wraps
// them with context.
package fiberr

import "errors"

var (
	// ErrHardwareRead is returned when a laser or detector query fails.
	ErrHardwareRead = errors.New("hardware read failure")

	// ErrHardwareWrite is returned when a command to the laser or stage fails.
	ErrHardwareWrite = errors.New("hardware write failure")

	// ErrInvalidConfiguration rejects a request before any hardware action.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	ErrFitDidNotConverge = errors.New("fit did not converge")

	// ErrInsufficientData is returned when an analysis has too few points to
	// produce a result.
	ErrInsufficientData = errors.New("insufficient data")

	ErrGeometryNotFound = errors.New("geometry not found")

	// ErrConcurrentAccess rejects an optimizer or sweep run while another run
	// holds the same stage session.
	ErrConcurrentAccess = errors.New("concurrent access rejected")
)
