package f5ar

import (
	"crypto/md5"
	"io"
	"os"

	"golang.org/x/xerrors"
)

// FingerprintSize is the length of a container fingerprint in bytes
const FingerprintSize = md5.Size

// Fingerprint identifies a finalized container by the MD5 of its byte
// image, independent of its file name.
type Fingerprint [FingerprintSize]byte

// ExportOrder serializes the fingerprints of every container in cover
// order. Fingerprints are only defined for containers that have been
// closed-kept or imported from a manifest.
func (a *Archive) ExportOrder() []byte {
	return a.exportOrder(len(a.containers))
}

// ExportOrderUsed serializes only the containers actually modified by
// the last Pack, a prefix of the cover order.
func (a *Archive) ExportOrderUsed() []byte {
	return a.exportOrder(a.used)
}

func (a *Archive) exportOrder(count int) []byte {
	blob := make([]byte, 0, count*FingerprintSize)
	for _, c := range a.containers[:count] {
		blob = append(blob, c.hash[:]...)
	}
	return blob
}

// ImportOrder replaces the cover order with empty containers carrying
// the manifest's fingerprints. Previously held sources are released
// and the archive must be re-filled before packing or unpacking.
func (a *Archive) ImportOrder(blob []byte) error {
	if len(blob)%FingerprintSize != 0 {
		return ErrWrongArgs
	}

	if err := a.reset(); err != nil {
		return err
	}

	for off := 0; off < len(blob); off += FingerprintSize {
		c := &container{hashed: true}
		copy(c.hash[:], blob[off:])
		a.containers = append(a.containers, c)
	}

	return nil
}

// FillFile binds a file to the first unbound container whose
// fingerprint matches the file's MD5. Duplicate fingerprints bind
// first-come first-served. It reports whether the archive became
// completely filled; a non-matching file yields ErrNotFound and
// leaves the archive unchanged.
func (a *Archive) FillFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, xerrors.Errorf("open candidate: %w", err)
	}

	h := md5.New()
	if _, err = io.Copy(h, f); err != nil {
		f.Close()
		return false, xerrors.Errorf("hash %s: %w", path, err)
	}

	var hash Fingerprint
	h.Sum(hash[:0])

	for _, c := range a.containers {
		if c.bound || !c.hashed || c.hash != hash {
			continue
		}

		if _, err = f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return false, xerrors.Errorf("seek %s: %w", path, err)
		}

		c.kind = fileSource
		c.bound = true
		c.path = path
		c.file = f

		a.filled++
		return a.filled == len(a.containers), nil
	}

	f.Close()
	return false, ErrNotFound
}

// FillMem binds a memory buffer to the first unbound container whose
// fingerprint matches. The cell is shared with the caller, as in
// AddMem.
func (a *Archive) FillMem(buf *[]byte) (bool, error) {
	if buf == nil {
		return false, ErrWrongArgs
	}

	hash := Fingerprint(md5.Sum(*buf))

	for _, c := range a.containers {
		if c.bound || !c.hashed || c.hash != hash {
			continue
		}

		c.kind = memSource
		c.bound = true
		c.mem = buf

		a.filled++
		return a.filled == len(a.containers), nil
	}

	return false, ErrNotFound
}
