package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the pipeline. Callers match them with errors.Is.
var (
	ErrDeviceUnavailable  = errors.New("camera device unavailable")
	ErrNoFaceDetected     = errors.New("no face detected")
	ErrAmbiguousFaceCount = errors.New("more than one face detected")
	ErrAlreadyRegistered  = errors.New("face already registered")
	ErrWorkerUnavailable  = errors.New("recognition worker unavailable")
	ErrPersistenceFailure = errors.New("registry write failed")
	ErrInvalidInput       = errors.New("invalid enrollment input")
)

// AlreadyRegisteredError reports which registered guest a candidate collided with.
type AlreadyRegisteredError struct {
	Name       string
	Similarity float64
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("face already registered as %q (similarity %.3f)", e.Name, e.Similarity)
}

// Is lets errors.Is(err, ErrAlreadyRegistered) match.
func (e *AlreadyRegisteredError) Is(target error) bool {
	return target == ErrAlreadyRegistered
}
