package jpeg

// BlockSize is the number of coefficients in one 8x8 DCT block
const BlockSize = 64

// Block holds the quantized DCT coefficients of one 8x8 block in
// natural (row-major) order. Coefficient 0 is the DC term.
type Block [BlockSize]int16

// QuantTable is a quantization table exactly as read from a DQT
// segment, kept in zig-zag order so it can be re-emitted verbatim.
type QuantTable struct {
	Values  [BlockSize]uint16
	Prec    byte // 0 = 8-bit entries, 1 = 16-bit entries
	Defined bool
}

// Segment is a marker segment carried through decode untouched
// (APPn and COM).
type Segment struct {
	Marker uint16
	Data   []byte
}

// Component is one color component of a decoded image. Its
// coefficient plane is an MCU-padded grid of HeightInBlocks rows of
// WidthInBlocks blocks each.
type Component struct {
	ID byte
	H  int  // Horizontal sampling factor
	V  int  // Vertical sampling factor
	Tq byte // Quantization table selector

	WidthInBlocks  int
	HeightInBlocks int

	blocks []Block

	dcSel  int // scan-time DC table selector
	acSel  int // scan-time AC table selector
	dcPred int // DC prediction, decode/encode state
}

// Row returns the blocks of one row of the coefficient plane. The
// returned slice aliases the plane, so writes through it mutate the
// component.
func (c *Component) Row(y int) []Block {
	return c.blocks[y*c.WidthInBlocks : (y+1)*c.WidthInBlocks]
}

// Block returns the block at the given grid position
func (c *Component) Block(y, x int) *Block {
	return &c.blocks[y*c.WidthInBlocks+x]
}

// Image is a JPEG decoded down to its quantized DCT coefficients,
// together with everything needed to entropy-code it back into a
// syntactically valid file with the same visual content.
type Image struct {
	Width  int
	Height int

	Components      []*Component
	Quant           [4]QuantTable
	RestartInterval int

	// Extra holds APPn/COM segments in their original order
	Extra []Segment

	maxH, maxV       int
	mcuCols, mcuRows int
}

// Component returns the i-th color component
func (img *Image) Component(i int) *Component {
	return img.Components[i]
}

// NewGrayImage builds a single-component image with zeroed
// coefficient planes and the given quantization table (zig-zag
// order). Useful for constructing covers programmatically; fill the
// planes through Component(0).Row and entropy-code with Encode.
func NewGrayImage(width, height int, quant [BlockSize]uint16) *Image {
	comp := &Component{
		ID:             1,
		H:              1,
		V:              1,
		Tq:             0,
		WidthInBlocks:  divCeil(width, 8),
		HeightInBlocks: divCeil(height, 8),
	}
	comp.blocks = make([]Block, comp.WidthInBlocks*comp.HeightInBlocks)

	img := &Image{
		Width:      width,
		Height:     height,
		Components: []*Component{comp},
		maxH:       1,
		maxV:       1,
		mcuCols:    comp.WidthInBlocks,
		mcuRows:    comp.HeightInBlocks,
	}
	img.Quant[0] = QuantTable{Values: quant, Defined: true}

	return img
}

// interleaved reports whether the scan is MCU-interleaved.
// Single-component images are coded non-interleaved, one block per
// data unit.
func (img *Image) interleaved() bool {
	return len(img.Components) > 1
}

// mcuCount returns the number of entropy-coded units in the scan
func (img *Image) mcuCount() int {
	if img.interleaved() {
		return img.mcuCols * img.mcuRows
	}
	c := img.Components[0]
	return c.WidthInBlocks * c.HeightInBlocks
}

func divCeil(a, b int) int {
	return (a + b - 1) / b
}
