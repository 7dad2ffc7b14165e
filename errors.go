package f5ar

import (
	"errors"
	"fmt"
)

// Archive errors
var (
	// ErrNotComplete is returned by operations that need every
	// container slot bound to a source.
	ErrNotComplete = errors.New("archive is not completely filled")

	// ErrNotFound is returned by Fill* when no slot matches the
	// candidate's fingerprint. It is a non-match, not a failure.
	ErrNotFound = errors.New("no container matches the fingerprint")

	// ErrCapacity is returned when the cover set runs out of non-zero
	// coefficients before the whole payload is embedded or extracted.
	ErrCapacity = errors.New("not enough cover capacity")

	// ErrWrongArgs indicates malformed input, such as a manifest blob
	// whose length is not a multiple of the fingerprint size.
	ErrWrongArgs = errors.New("wrong arguments")
)

// ShortExtractError reports that extraction exhausted the cover chain
// early. Read is the number of fully produced payload bytes; the
// partial output is discarded and must not be used.
type ShortExtractError struct {
	Read uint64
}

func (e *ShortExtractError) Error() string {
	return fmt.Sprintf("cover chain exhausted after %d bytes: %s", e.Read, ErrCapacity)
}

func (e *ShortExtractError) Unwrap() error { return ErrCapacity }
