package f5ar

import (
	"bytes"
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/LabunskyA/f5ar/jpeg"
)

// syntheticCover entropy-codes a hand-built row of luminance blocks
// into a real JPEG stream
func syntheticCover(t testing.TB, blocks []jpeg.Block) []byte {
	t.Helper()

	var quant [jpeg.BlockSize]uint16
	for i := range quant {
		quant[i] = 16
	}

	img := jpeg.NewGrayImage(len(blocks)*8, 8, quant)
	copy(img.Component(0).Row(0), blocks)

	var buf bytes.Buffer
	if err := img.Encode(&buf); err != nil {
		t.Fatalf("encode synthetic cover: %v", err)
	}
	return buf.Bytes()
}

// nonZeroInOrder walks a cover's luminance coefficients in embedding
// order and returns the non-zero ones
func nonZeroInOrder(t testing.TB, cover []byte) []int16 {
	t.Helper()

	img, err := jpeg.Decode(bytes.NewReader(cover))
	if err != nil {
		t.Fatalf("decode cover: %v", err)
	}

	var out []int16
	comp := img.Component(0)
	for y := 0; y < comp.HeightInBlocks; y++ {
		row := comp.Row(y)
		for x := range row {
			for i := 0; i < jpeg.BlockSize; i++ {
				if row[x][i] != 0 {
					out = append(out, row[x][i])
				}
			}
		}
	}
	return out
}

// With k=1 every embedding round leaves exactly one non-zero
// coefficient whose LSB is the payload bit, consuming shrinkable
// coefficients along the way. The surviving stream must spell the
// payload LSB-of-byte first.
func TestPackEncodesBitsInCoefficientParity(t *testing.T) {
	c := qt.New(t)

	cover := syntheticCover(t, []jpeg.Block{
		{10, 3, -1, 2, 0, 4, 1, -2, 5, 6, 7, -7, 9, 11, 3, 2},
		{12, -4, 8, 2, 2, -6, 5, 3, 1, -1, 4, 4, 9, -9, 2, 7},
	})

	archive := New()
	defer archive.Close()
	c.Assert(archive.AddMem(&cover), qt.IsNil)

	archive.Meta.K = 1
	payload := []byte{0x01}
	c.Assert(archive.Pack(payload), qt.IsNil)
	c.Assert(archive.Used(), qt.Equals, 1)

	survivors := nonZeroInOrder(t, cover)
	c.Assert(len(survivors) >= 8, qt.IsTrue)

	wantBits := []int16{1, 0, 0, 0, 0, 0, 0, 0} // 0x01, LSB first
	for i, want := range wantBits {
		c.Assert(survivors[i]&1, qt.Equals, want,
			qt.Commentf("bit %d of the embedded stream", i))
	}
}

// Every coefficient a pack touches moves toward zero by exactly one,
// and zeros are never touched at all.
func TestPackModifiesCoefficientsTowardZero(t *testing.T) {
	c := qt.New(t)

	cover := noisyCover(t, 64, 64, 31)
	before, err := jpeg.Decode(bytes.NewReader(cover))
	c.Assert(err, qt.IsNil)

	archive := New()
	defer archive.Close()
	c.Assert(archive.AddMem(&cover), qt.IsNil)
	c.Assert(archive.Pack([]byte("parity")), qt.IsNil)

	after, err := jpeg.Decode(bytes.NewReader(cover))
	c.Assert(err, qt.IsNil)

	ca, cb := before.Component(0), after.Component(0)
	changes := 0
	for y := 0; y < ca.HeightInBlocks; y++ {
		ra, rb := ca.Row(y), cb.Row(y)
		for x := range ra {
			for i := 0; i < jpeg.BlockSize; i++ {
				old, cur := ra[x][i], rb[x][i]
				if old == cur {
					continue
				}

				changes++
				if old == 0 {
					t.Fatalf("zero coefficient at (%d,%d,%d) was modified to %d", y, x, i, cur)
				}
				want := old - 1
				if old < 0 {
					want = old + 1
				}
				if cur != want {
					t.Fatalf("coefficient at (%d,%d,%d): %d -> %d, want %d", y, x, i, old, cur, want)
				}
			}
		}
	}

	c.Assert(changes > 0, qt.IsTrue)
}

func TestCalcKClampsToOne(t *testing.T) {
	// A starved supply satisfies the rate bound immediately at k=1;
	// without the clamp the selector would return 0 and n = 2^k - 1
	// would degenerate
	if k := calcK(Capacity{Full: 1}, 1); k != 1 {
		t.Errorf("calcK(starved, 1) = %d, want 1", k)
	}
}

func TestCalcKShrinkableOnlySupply(t *testing.T) {
	// full=0, shrinkable=16, msg=1 byte: k=1 gives 8/32 < 1/1, k=2
	// gives 8/16 < 2/3, k=3 gives 8/10 >= 3/7 - first satisfaction,
	// so the selector returns k-1 = 2
	if k := calcK(Capacity{Shrinkable: 16}, 1); k != 2 {
		t.Errorf("calcK({0,16}, 1) = %d, want 2", k)
	}
}

func TestCalcKCapped(t *testing.T) {
	if k := calcK(Capacity{Full: 1 << 40}, 1); k != maxK {
		t.Errorf("calcK(huge, 1) = %d, want %d", k, maxK)
	}
}

func TestCalcKMonotonicInMessageSize(t *testing.T) {
	capacity := Capacity{Full: 100000, Shrinkable: 20000}

	prev := calcK(capacity, 1)
	for size := uint64(2); size < 20000; size += 97 {
		k := calcK(capacity, size)
		if k > prev {
			t.Fatalf("calcK not monotonic: size %d gives k=%d after k=%d", size, k, prev)
		}
		prev = k
	}
}

func TestPackHonorsPresetK(t *testing.T) {
	c := qt.New(t)

	cover := noisyCover(t, 64, 64, 32)
	archive := New()
	defer archive.Close()
	c.Assert(archive.AddMem(&cover), qt.IsNil)

	archive.Meta.K = 2
	payload := []byte{0xC3, 0x5A}
	c.Assert(archive.Pack(payload), qt.IsNil)
	c.Assert(archive.Meta.K, qt.Equals, uint8(2))

	restored := New()
	defer restored.Close()
	c.Assert(restored.ImportOrder(archive.ExportOrderUsed()), qt.IsNil)
	restored.Meta = archive.Meta

	_, err := restored.FillMem(&cover)
	c.Assert(err, qt.IsNil)

	got, err := restored.Unpack()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, payload)
}

func TestPackAcrossContainerBoundaries(t *testing.T) {
	c := qt.New(t)

	// Tiny covers force the reference window to span containers
	cells := make([]*[]byte, 6)
	for i := range cells {
		cover := noisyCover(t, 16, 16, int64(40+i))
		cells[i] = &cover
	}

	archive := New()
	defer archive.Close()
	for _, cell := range cells {
		c.Assert(archive.AddMem(cell), qt.IsNil)
	}

	payload := bytes.Repeat([]byte{0x5F, 0xA0, 0x33}, 20)
	err := archive.Pack(payload)
	if err != nil {
		c.Assert(err, qt.ErrorIs, ErrCapacity)
		t.Skip("cover set too small for the payload at the selected rate")
	}

	restored := New()
	defer restored.Close()
	c.Assert(restored.ImportOrder(archive.ExportOrderUsed()), qt.IsNil)
	restored.Meta = archive.Meta

	for _, cell := range cells {
		if _, err := restored.FillMem(cell); err != nil && !errors.Is(err, ErrNotFound) {
			t.Fatal(err)
		}
	}
	c.Assert(restored.Filled(), qt.Equals, restored.Size())

	got, err := restored.Unpack()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, payload)
}
