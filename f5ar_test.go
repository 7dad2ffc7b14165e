package f5ar

import (
	"bytes"
	"crypto/md5"
	"errors"
	"image"
	"image/color"
	stdjpeg "image/jpeg"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/LabunskyA/f5ar/jpeg"
)

// noisyCover produces a deterministic grayscale cover with plenty of
// non-zero AC coefficients
func noisyCover(t testing.TB, width, height int, seed int64) []byte {
	t.Helper()

	rng := rand.New(rand.NewSource(seed))
	m := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			m.SetGray(x, y, color.Gray{Y: uint8(rng.Intn(256))})
		}
	}

	var buf bytes.Buffer
	if err := stdjpeg.Encode(&buf, m, &stdjpeg.Options{Quality: 75}); err != nil {
		t.Fatalf("encode cover: %v", err)
	}
	return buf.Bytes()
}

func writeCover(t testing.TB, dir, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRoundTripMem(t *testing.T) {
	c := qt.New(t)

	cells := make([]*[]byte, 3)
	for i := range cells {
		cover := noisyCover(t, 64, 64, int64(i+1))
		cells[i] = &cover
	}

	archive := New()
	defer archive.Close()
	for _, cell := range cells {
		c.Assert(archive.AddMem(cell), qt.IsNil)
	}

	payload := []byte("the quick brown fox jumps over the lazy dog")
	c.Assert(archive.Pack(payload), qt.IsNil)

	used := archive.Used()
	c.Assert(used > 0, qt.IsTrue)
	manifest := archive.ExportOrderUsed()
	c.Assert(manifest, qt.HasLen, used*FingerprintSize)

	restored := New()
	defer restored.Close()
	c.Assert(restored.ImportOrder(manifest), qt.IsNil)
	restored.Meta = archive.Meta

	// Bind in reverse to prove binding goes by fingerprint, not order
	// of arrival
	bound := 0
	for i := len(cells) - 1; i >= 0; i-- {
		complete, err := restored.FillMem(cells[i])
		if errors.Is(err, ErrNotFound) {
			continue // cover was never modified, not part of the manifest
		}
		c.Assert(err, qt.IsNil)
		bound++
		if complete {
			break
		}
	}
	c.Assert(bound, qt.Equals, used)
	c.Assert(restored.Filled(), qt.Equals, restored.Size())

	got, err := restored.Unpack()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, payload)
}

func TestRoundTripFiles(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	paths := []string{
		writeCover(t, dir, "a.jpg", noisyCover(t, 64, 64, 10)),
		writeCover(t, dir, "b.jpg", noisyCover(t, 64, 64, 11)),
	}

	archive := New()
	for _, p := range paths {
		c.Assert(archive.AddFile(p), qt.IsNil)
	}

	payload := bytes.Repeat([]byte{0xA5, 0x17, 0x00, 0xFF}, 16)
	c.Assert(archive.Pack(payload), qt.IsNil)

	var framed bytes.Buffer
	_, err := archive.WriteTo(&framed)
	c.Assert(err, qt.IsNil)
	used := archive.Used()
	c.Assert(archive.Close(), qt.IsNil)

	restored := New()
	defer restored.Close()
	_, err = restored.ReadFrom(bytes.NewReader(framed.Bytes()))
	c.Assert(err, qt.IsNil)
	c.Assert(restored.Size(), qt.Equals, used)
	c.Assert(restored.Filled(), qt.Equals, 0)

	// Offer every file, last added first; only rewritten covers match
	bound := 0
	for i := len(paths) - 1; i >= 0; i-- {
		_, err := restored.FillFile(paths[i])
		if errors.Is(err, ErrNotFound) {
			continue
		}
		c.Assert(err, qt.IsNil)
		bound++
	}
	c.Assert(bound, qt.Equals, used)

	got, err := restored.Unpack()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, payload)
}

func TestFillMismatch(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	archive := New()
	defer archive.Close()

	manifest := make([]byte, FingerprintSize)
	for i := range manifest {
		manifest[i] = byte(i)
	}
	c.Assert(archive.ImportOrder(manifest), qt.IsNil)

	stranger := writeCover(t, dir, "stranger.jpg", noisyCover(t, 32, 32, 99))
	complete, err := archive.FillFile(stranger)
	c.Assert(err, qt.ErrorIs, ErrNotFound)
	c.Assert(complete, qt.IsFalse)
	c.Assert(archive.Filled(), qt.Equals, 0)
}

func TestFillDuplicatesFirstComeFirstServed(t *testing.T) {
	c := qt.New(t)

	cover := noisyCover(t, 32, 32, 7)
	first, second := cover, append([]byte(nil), cover...)

	hash := Fingerprint(md5.Sum(cover))

	archive := New()
	defer archive.Close()
	manifest := append(hash[:], hash[:]...)
	c.Assert(archive.ImportOrder(manifest), qt.IsNil)
	c.Assert(archive.Size(), qt.Equals, 2)

	complete, err := archive.FillMem(&first)
	c.Assert(err, qt.IsNil)
	c.Assert(complete, qt.IsFalse)

	complete, err = archive.FillMem(&second)
	c.Assert(err, qt.IsNil)
	c.Assert(complete, qt.IsTrue)
	c.Assert(archive.Filled(), qt.Equals, 2)
}

func TestPackEmptyPayload(t *testing.T) {
	c := qt.New(t)

	cover := noisyCover(t, 32, 32, 20)
	archive := New()
	defer archive.Close()
	c.Assert(archive.AddMem(&cover), qt.IsNil)

	c.Assert(archive.Pack(nil), qt.IsNil)
	c.Assert(archive.Used(), qt.Equals, 0)
	c.Assert(archive.ExportOrderUsed(), qt.HasLen, 0)
}

func TestPackCapacityExhaustion(t *testing.T) {
	c := qt.New(t)

	cover := noisyCover(t, 32, 32, 21)
	archive := New()
	c.Assert(archive.AddMem(&cover), qt.IsNil)

	c.Assert(archive.Analyze(), qt.IsNil)
	over := (archive.Capacity.Full + archive.Capacity.Shrinkable) * 2 / 8

	payload := make([]byte, over+16)
	err := archive.Pack(payload)
	c.Assert(err, qt.ErrorIs, ErrCapacity)

	// The failed archive leaks active containers; Close must still
	// release everything
	c.Assert(archive.Close(), qt.IsNil)
}

func TestUnpackShortChain(t *testing.T) {
	c := qt.New(t)

	cover := noisyCover(t, 32, 32, 22)
	archive := New()
	defer archive.Close()
	c.Assert(archive.AddMem(&cover), qt.IsNil)

	archive.Meta = Meta{K: 1, MsgSize: 1 << 20}
	_, err := archive.Unpack()

	var short *ShortExtractError
	c.Assert(errors.As(err, &short), qt.IsTrue)
	c.Assert(err, qt.ErrorIs, ErrCapacity)
	c.Assert(short.Read < 1<<20, qt.IsTrue)
}

func TestOperationsRequireFilledArchive(t *testing.T) {
	c := qt.New(t)

	archive := New()
	defer archive.Close()
	manifest := make([]byte, 2*FingerprintSize)
	c.Assert(archive.ImportOrder(manifest), qt.IsNil)

	c.Assert(archive.Analyze(), qt.ErrorIs, ErrNotComplete)
	c.Assert(archive.Pack([]byte{1}), qt.ErrorIs, ErrNotComplete)
	_, err := archive.Unpack()
	c.Assert(err, qt.ErrorIs, ErrNotComplete)
}

func TestUnpackEmptyMessage(t *testing.T) {
	c := qt.New(t)

	cover := noisyCover(t, 16, 16, 23)
	archive := New()
	defer archive.Close()
	c.Assert(archive.AddMem(&cover), qt.IsNil)

	got, err := archive.Unpack()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.HasLen, 0)
}

// TestAnalyzeCountsSyntheticCover pins the capacity classes on a
// hand-built coefficient plane.
func TestAnalyzeCountsSyntheticCover(t *testing.T) {
	c := qt.New(t)

	var quant [jpeg.BlockSize]uint16
	for i := range quant {
		quant[i] = 16
	}

	img := jpeg.NewGrayImage(8, 8, quant)
	row := img.Component(0).Row(0)
	row[0] = jpeg.Block{3, -1, 2, 0, 4, 1, -2}

	var buf bytes.Buffer
	c.Assert(img.Encode(&buf), qt.IsNil)
	cover := buf.Bytes()

	archive := New()
	defer archive.Close()
	c.Assert(archive.AddMem(&cover), qt.IsNil)
	c.Assert(archive.Analyze(), qt.IsNil)

	// |3|, |2|, |4|, |-2| are full; |-1|, |1| are shrinkable
	c.Assert(archive.Capacity.Full, qt.Equals, uint64(4))
	c.Assert(archive.Capacity.Shrinkable, qt.Equals, uint64(2))
}
