package recorder

import "errors"

// Sentinel errors shared across subsystems.
var (
	// ErrRunInProgress is returned when a start request arrives while an
	// automation run is already active.
	ErrRunInProgress = errors.New("automation run already in progress")
	// ErrNoPdf indicates no acquisition strategy produced a valid PDF.
	ErrNoPdf = errors.New("no valid pdf could be acquired")
	// ErrPdfExpired indicates a stored PDF aged past the retention window.
	ErrPdfExpired = errors.New("stored pdf expired")
	// ErrNotFound is returned by stores for missing rows or objects.
	ErrNotFound = errors.New("not found")
)
