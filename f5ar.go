// Package f5ar archives arbitrary payload bytes inside the quantized
// DCT coefficients of an ordered set of JPEG covers, using a
// matrix-embedding variant of the F5 steganography algorithm. Every
// cover remains a valid JPEG with the same visual content; given the
// same covers (re-bound by MD5 fingerprint) and the archive metadata,
// the payload is recovered exactly.
package f5ar

import (
	"os"

	"golang.org/x/xerrors"
)

// Meta carries the embedding rate and payload length an archive was
// packed with. K may be preset before Pack to force a rate; left
// zero, Pack selects one from the measured capacity.
type Meta struct {
	K       uint8  // bits per matrix-embedding round, 1..24
	MsgSize uint64 // payload length in bytes
}

// Capacity counts the usable coefficients of the first (luminance)
// component across the whole cover set. Full coefficients survive one
// F5 modification, shrinkable ones (|c| == 1) may collapse to zero.
type Capacity struct {
	Shrinkable uint64
	Full       uint64
}

// Archive is an insertion-ordered cover set with its embedding
// metadata. The zero value is ready to use. An Archive must not be
// used from multiple goroutines concurrently.
type Archive struct {
	Meta     Meta
	Capacity Capacity

	containers []*container
	filled     int
	used       int
}

// New returns an empty archive
func New() *Archive {
	return &Archive{}
}

// Size returns the number of containers in the cover order
func (a *Archive) Size() int { return len(a.containers) }

// Filled returns the number of containers bound to a source
func (a *Archive) Filled() int { return a.filled }

// Used returns the number of containers modified by the last Pack
func (a *Archive) Used() int { return a.used }

// AddFile appends a cover bound to a file path. The file is kept open
// for the archive's lifetime and will be rewritten in place by Pack.
func (a *Archive) AddFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return xerrors.Errorf("open cover: %w", err)
	}

	a.containers = append(a.containers, &container{
		kind:  fileSource,
		bound: true,
		path:  path,
		file:  f,
	})
	a.filled++

	return nil
}

// AddMem appends a cover bound to a memory buffer. The cell is shared
// with the caller: Pack replaces *buf with the recompressed bytes, so
// the caller must not read it concurrently.
func (a *Archive) AddMem(buf *[]byte) error {
	if buf == nil {
		return ErrWrongArgs
	}

	a.containers = append(a.containers, &container{
		kind:  memSource,
		bound: true,
		mem:   buf,
	})
	a.filled++

	return nil
}

// reset releases every owned resource and empties the cover order
func (a *Archive) reset() error {
	var firstErr error
	for _, c := range a.containers {
		if err := c.release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.containers = nil
	a.filled = 0
	a.used = 0

	return firstErr
}

// Close releases all owned buffers and closes all owned file handles.
// Covers already rewritten by Pack stay rewritten; close-keep is
// destructive on the original files.
func (a *Archive) Close() error {
	return a.reset()
}
