package f5ar

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"
)

// Archive file framing, tightly packed little-endian:
//
//	offset 0   u8   k
//	offset 1   u64  msg_size
//	offset 9   u64  order_size = 16 * used
//	offset 17  order_size bytes of fingerprints
//
// The C original wrote the integers in host byte order; this layout
// fixes little-endian and is incompatible with archives written on
// big-endian machines by that implementation.
const headerSize = 1 + 8 + 8

// WriteTo writes the archive metadata and the used-order manifest.
// It implements io.WriterTo.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	order := a.ExportOrderUsed()

	var hdr [headerSize]byte
	hdr[0] = a.Meta.K
	binary.LittleEndian.PutUint64(hdr[1:9], a.Meta.MsgSize)
	binary.LittleEndian.PutUint64(hdr[9:17], uint64(len(order)))

	n, err := w.Write(hdr[:])
	written := int64(n)
	if err != nil {
		return written, xerrors.Errorf("write archive header: %w", err)
	}

	n, err = w.Write(order)
	written += int64(n)
	if err != nil {
		return written, xerrors.Errorf("write archive order: %w", err)
	}

	return written, nil
}

// ReadFrom reads archive metadata and imports the contained cover
// order, replacing the current one. It implements io.ReaderFrom.
func (a *Archive) ReadFrom(r io.Reader) (int64, error) {
	var hdr [headerSize]byte
	n, err := io.ReadFull(r, hdr[:])
	read := int64(n)
	if err != nil {
		return read, xerrors.Errorf("read archive header: %w", err)
	}

	meta := Meta{
		K:       hdr[0],
		MsgSize: binary.LittleEndian.Uint64(hdr[1:9]),
	}
	orderSize := binary.LittleEndian.Uint64(hdr[9:17])

	if orderSize%FingerprintSize != 0 {
		return read, ErrWrongArgs
	}
	if meta.MsgSize > 0 && (meta.K < 1 || meta.K > maxK) {
		return read, ErrWrongArgs
	}

	order := make([]byte, orderSize)
	n, err = io.ReadFull(r, order)
	read += int64(n)
	if err != nil {
		return read, xerrors.Errorf("read archive order: %w", err)
	}

	if err = a.ImportOrder(order); err != nil {
		return read, err
	}
	a.Meta = meta

	return read, nil
}
