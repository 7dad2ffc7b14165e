package f5ar

import (
	"bytes"
	"crypto/md5"
	"io"
	"os"

	"golang.org/x/xerrors"

	"github.com/LabunskyA/f5ar/jpeg"
)

type sourceKind int

const (
	fileSource sourceKind = iota
	memSource
)

// container owns one JPEG cover: its source, its fingerprint and,
// while active, the decoded coefficient planes with the embedding
// cursor over the first (luminance) component.
type container struct {
	kind  sourceKind
	bound bool

	// file source
	path string
	file *os.File

	// memory source, shared with the caller: close-keep replaces the
	// pointed-to slice with the recompressed bytes
	mem *[]byte

	img *jpeg.Image
	it  iterator

	hash   Fingerprint
	hashed bool
}

// iterator is the logical cursor over the luminance coefficient
// stream. pos runs over width_in_blocks * height_in_blocks * 64; row
// caches the current block row and is re-requested on row advance.
type iterator struct {
	rowID   int
	blockID int
	coeffID int

	row []jpeg.Block

	pos  int
	size int
}

func (c *container) active() bool { return c.img != nil }

// open decodes the source and resets the cursor. Idempotent on an
// already-active container.
func (c *container) open() error {
	if c.active() {
		return nil
	}

	var (
		img *jpeg.Image
		err error
	)
	switch c.kind {
	case fileSource:
		if _, err = c.file.Seek(0, io.SeekStart); err != nil {
			return xerrors.Errorf("seek %s: %w", c.path, err)
		}
		if img, err = jpeg.Decode(c.file); err != nil {
			return xerrors.Errorf("decode %s: %w", c.path, err)
		}
	case memSource:
		if img, err = jpeg.Decode(bytes.NewReader(*c.mem)); err != nil {
			return xerrors.Errorf("decode memory cover: %w", err)
		}
	}

	comp := img.Component(0)
	c.img = img
	c.it = iterator{
		row:  comp.Row(0),
		size: comp.WidthInBlocks * comp.HeightInBlocks * jpeg.BlockSize,
	}

	return nil
}

// closeDiscard drops the decode state without persisting anything.
// File sources rewind so the container can be reopened.
func (c *container) closeDiscard() {
	c.img = nil
	c.it = iterator{}

	if c.kind == fileSource && c.file != nil {
		_, _ = c.file.Seek(0, io.SeekStart)
	}
}

// closeKeep recompresses the (possibly mutated) coefficient planes
// back into the source and refreshes the fingerprint over the
// finalized byte image. The original file content is replaced.
func (c *container) closeKeep() error {
	h := md5.New()

	switch c.kind {
	case fileSource:
		if c.file != nil {
			if err := c.file.Close(); err != nil {
				return xerrors.Errorf("close %s: %w", c.path, err)
			}
			c.file = nil
		}

		out, err := os.Create(c.path)
		if err != nil {
			return xerrors.Errorf("reopen %s for writing: %w", c.path, err)
		}
		if err = c.img.Encode(io.MultiWriter(out, h)); err != nil {
			out.Close()
			return xerrors.Errorf("encode %s: %w", c.path, err)
		}
		if err = out.Close(); err != nil {
			return xerrors.Errorf("close %s: %w", c.path, err)
		}

		in, err := os.Open(c.path)
		if err != nil {
			return xerrors.Errorf("reopen %s: %w", c.path, err)
		}
		c.file = in

	case memSource:
		var buf bytes.Buffer
		if err := c.img.Encode(io.MultiWriter(&buf, h)); err != nil {
			return xerrors.Errorf("encode memory cover: %w", err)
		}
		*c.mem = buf.Bytes()
	}

	h.Sum(c.hash[:0])
	c.hashed = true

	c.img = nil
	c.it = iterator{}
	return nil
}

// next advances the cursor by one coefficient. It reports false once
// the end of this container's stream has been reached.
func (c *container) next() bool {
	c.it.pos++
	c.it.coeffID++

	if c.it.pos == c.it.size {
		return false
	}

	if c.it.coeffID == jpeg.BlockSize {
		c.it.coeffID = 0
		c.it.blockID++

		comp := c.img.Component(0)
		if c.it.blockID == comp.WidthInBlocks {
			c.it.blockID = 0
			c.it.rowID++

			c.it.row = comp.Row(c.it.rowID)
		}
	}

	return true
}

// coeff returns a mutable reference to the coefficient under the
// cursor
func (c *container) coeff() *int16 {
	return &c.it.row[c.it.blockID][c.it.coeffID]
}

// release closes the owned file handle, if any
func (c *container) release() error {
	c.img = nil
	c.it = iterator{}

	if c.kind == fileSource && c.file != nil {
		err := c.file.Close()
		c.file = nil
		return err
	}
	return nil
}
