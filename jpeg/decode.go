package jpeg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

type decoder struct {
	img      *Image
	dcTables [4]*HuffmanTable
	acTables [4]*HuffmanTable
}

// Decode parses a baseline JPEG stream down to its quantized DCT
// coefficients. No dequantization or inverse transform is performed;
// the returned Image can be mutated through its component planes and
// re-encoded with Image.Encode.
func Decode(r io.Reader) (*Image, error) {
	reader := NewReader(bufio.NewReader(r))
	d := &decoder{img: &Image{}}

	marker, err := reader.ReadMarker()
	if err != nil {
		return nil, err
	}
	if marker != MarkerSOI {
		return nil, ErrInvalidSOI
	}

	for {
		marker, err := reader.ReadMarker()
		if err != nil {
			return nil, err
		}

		switch {
		case marker == MarkerSOF0:
			if err := d.parseSOF(reader); err != nil {
				return nil, err
			}

		case IsSOF(marker):
			return nil, fmt.Errorf("%w: marker 0x%04X (only baseline sequential is supported)",
				ErrUnsupportedFormat, marker)

		case marker == MarkerDQT:
			if err := d.parseDQT(reader); err != nil {
				return nil, err
			}

		case marker == MarkerDHT:
			if err := d.parseDHT(reader); err != nil {
				return nil, err
			}

		case marker == MarkerDRI:
			if err := d.parseDRI(reader); err != nil {
				return nil, err
			}

		case IsAPP(marker) || marker == MarkerCOM:
			data, err := reader.ReadSegment()
			if err != nil {
				return nil, err
			}
			d.img.Extra = append(d.img.Extra, Segment{Marker: marker, Data: data})

		case marker == MarkerSOS:
			if err := d.parseSOS(reader); err != nil {
				return nil, err
			}
			term, err := d.decodeScan(reader)
			if err != nil {
				return nil, err
			}
			if term == MarkerSOS {
				return nil, fmt.Errorf("%w: multi-scan stream", ErrUnsupportedFormat)
			}
			if term != MarkerEOI {
				return nil, ErrInvalidData
			}
			return d.img, nil

		case marker == MarkerEOI:
			// EOI before any scan data
			return nil, ErrInvalidData

		default:
			if HasLength(marker) {
				if _, err := reader.ReadSegment(); err != nil {
					return nil, err
				}
			}
		}
	}
}

// parseSOF parses the Start of Frame segment and allocates the
// coefficient planes
func (d *decoder) parseSOF(reader *Reader) error {
	data, err := reader.ReadSegment()
	if err != nil {
		return err
	}

	if len(data) < 6 {
		return ErrInvalidSOF
	}

	if data[0] != 8 {
		return fmt.Errorf("%w: precision %d", ErrUnsupportedFormat, data[0])
	}

	img := d.img
	img.Height = int(data[1])<<8 | int(data[2])
	img.Width = int(data[3])<<8 | int(data[4])
	numComponents := int(data[5])

	if img.Width <= 0 || img.Height <= 0 {
		return ErrInvalidSOF
	}
	if numComponents != 1 && numComponents != 3 {
		return fmt.Errorf("%w: %d components", ErrUnsupportedFormat, numComponents)
	}
	if len(data) < 6+numComponents*3 {
		return ErrInvalidSOF
	}
	if img.Components != nil {
		return ErrInvalidSOF
	}

	maxH, maxV := 1, 1
	img.Components = make([]*Component, numComponents)

	for i := 0; i < numComponents; i++ {
		offset := 6 + i*3
		comp := &Component{
			ID: data[offset],
			H:  int(data[offset+1] >> 4),
			V:  int(data[offset+1] & 0x0F),
			Tq: data[offset+2],
		}

		if comp.H <= 0 || comp.H > 4 || comp.V <= 0 || comp.V > 4 || comp.Tq > 3 {
			return ErrInvalidSOF
		}

		if comp.H > maxH {
			maxH = comp.H
		}
		if comp.V > maxV {
			maxV = comp.V
		}

		img.Components[i] = comp
	}

	img.maxH, img.maxV = maxH, maxV
	img.mcuCols = divCeil(img.Width, maxH*8)
	img.mcuRows = divCeil(img.Height, maxV*8)

	for _, comp := range img.Components {
		if numComponents == 1 {
			// Non-interleaved scan, no MCU padding
			comp.WidthInBlocks = divCeil(img.Width, 8)
			comp.HeightInBlocks = divCeil(img.Height, 8)
		} else {
			comp.WidthInBlocks = img.mcuCols * comp.H
			comp.HeightInBlocks = img.mcuRows * comp.V
		}
		comp.blocks = make([]Block, comp.WidthInBlocks*comp.HeightInBlocks)
	}

	return nil
}

// parseDQT parses a Define Quantization Table segment
func (d *decoder) parseDQT(reader *Reader) error {
	data, err := reader.ReadSegment()
	if err != nil {
		return err
	}

	offset := 0
	for offset < len(data) {
		pqTq := data[offset]
		pq := pqTq >> 4
		tq := pqTq & 0x0F

		if tq > 3 || pq > 1 {
			return ErrInvalidDQT
		}

		offset++

		table := &d.img.Quant[tq]
		table.Prec = pq
		table.Defined = true

		if pq == 0 {
			if offset+64 > len(data) {
				return ErrInvalidDQT
			}
			for i := 0; i < 64; i++ {
				table.Values[i] = uint16(data[offset+i])
			}
			offset += 64
		} else {
			if offset+128 > len(data) {
				return ErrInvalidDQT
			}
			for i := 0; i < 64; i++ {
				table.Values[i] = uint16(data[offset+i*2])<<8 | uint16(data[offset+i*2+1])
			}
			offset += 128
		}
	}

	return nil
}

// parseDHT parses a Define Huffman Table segment
func (d *decoder) parseDHT(reader *Reader) error {
	data, err := reader.ReadSegment()
	if err != nil {
		return err
	}

	offset := 0
	for offset < len(data) {
		tcTh := data[offset]
		tc := tcTh >> 4
		th := tcTh & 0x0F

		if tc > 1 || th > 3 {
			return ErrInvalidDHT
		}

		offset++
		if offset+16 > len(data) {
			return ErrInvalidDHT
		}

		table := &HuffmanTable{}
		totalCodes := 0
		for i := 0; i < 16; i++ {
			table.Bits[i] = int(data[offset])
			totalCodes += table.Bits[i]
			offset++
		}

		if offset+totalCodes > len(data) {
			return ErrInvalidDHT
		}
		table.Values = make([]byte, totalCodes)
		copy(table.Values, data[offset:offset+totalCodes])
		offset += totalCodes

		if err := table.Build(); err != nil {
			return err
		}

		if tc == 0 {
			d.dcTables[th] = table
		} else {
			d.acTables[th] = table
		}
	}

	return nil
}

// parseDRI parses a Define Restart Interval segment
func (d *decoder) parseDRI(reader *Reader) error {
	data, err := reader.ReadSegment()
	if err != nil {
		return err
	}

	if len(data) != 2 {
		return ErrInvalidData
	}

	d.img.RestartInterval = int(data[0])<<8 | int(data[1])
	return nil
}

// parseSOS parses the Start of Scan header
func (d *decoder) parseSOS(reader *Reader) error {
	data, err := reader.ReadSegment()
	if err != nil {
		return err
	}

	if d.img.Components == nil {
		return ErrInvalidSOS
	}

	if len(data) < 1 {
		return ErrInvalidSOS
	}

	ns := int(data[0])
	if len(data) < 1+ns*2+3 {
		return ErrInvalidSOS
	}

	// Only a single scan covering every component is supported
	if ns != len(d.img.Components) {
		return fmt.Errorf("%w: partial scan", ErrUnsupportedFormat)
	}

	for i := 0; i < ns; i++ {
		cs := data[1+i*2]
		tdTa := data[1+i*2+1]

		var comp *Component
		for _, c := range d.img.Components {
			if c.ID == cs {
				comp = c
				break
			}
		}
		if comp == nil {
			return ErrInvalidSOS
		}

		comp.dcSel = int(tdTa >> 4)
		comp.acSel = int(tdTa & 0x0F)
		if comp.dcSel > 3 || comp.acSel > 3 {
			return ErrInvalidSOS
		}
	}

	return nil
}

// readEntropySegments collects the entropy-coded bytes of the scan,
// split into restart intervals, and returns the marker that
// terminated the scan. Stuffed 0xFF 0x00 pairs are kept for the bit
// reader to unstuff.
func (d *decoder) readEntropySegments(reader *Reader) ([][]byte, uint16, error) {
	var segs [][]byte
	var cur bytes.Buffer

	for {
		b, err := reader.ReadByte()
		if err != nil {
			return nil, 0, ErrInvalidData
		}

		if b != 0xFF {
			cur.WriteByte(b)
			continue
		}

		b2, err := reader.ReadByte()
		if err != nil {
			return nil, 0, ErrInvalidData
		}
		for b2 == 0xFF {
			// Fill bytes before a marker
			b2, err = reader.ReadByte()
			if err != nil {
				return nil, 0, ErrInvalidData
			}
		}

		switch {
		case b2 == 0x00:
			cur.WriteByte(0xFF)
			cur.WriteByte(0x00)

		case IsRST(uint16(0xFF00) | uint16(b2)):
			seg := make([]byte, cur.Len())
			copy(seg, cur.Bytes())
			segs = append(segs, seg)
			cur.Reset()

		default:
			seg := make([]byte, cur.Len())
			copy(seg, cur.Bytes())
			segs = append(segs, seg)
			return segs, uint16(0xFF00) | uint16(b2), nil
		}
	}
}

// decodeScan entropy-decodes the whole scan into the coefficient
// planes and returns the marker that followed it
func (d *decoder) decodeScan(reader *Reader) (uint16, error) {
	segs, term, err := d.readEntropySegments(reader)
	if err != nil {
		return 0, err
	}

	img := d.img
	total := img.mcuCount()
	perSeg := img.RestartInterval
	if perSeg == 0 {
		perSeg = total
	}
	if perSeg > 0 && len(segs) != divCeil(total, perSeg) {
		return 0, ErrInvalidData
	}

	mcu := 0
	for _, seg := range segs {
		huffDec := NewHuffmanDecoder(bytes.NewReader(seg))
		for _, comp := range img.Components {
			comp.dcPred = 0
		}

		for i := 0; i < perSeg && mcu < total; i++ {
			if err := d.decodeMCU(huffDec, mcu); err != nil {
				return 0, err
			}
			mcu++
		}
	}

	if mcu != total {
		return 0, ErrInvalidData
	}

	return term, nil
}

// decodeMCU decodes one entropy-coded unit: a full MCU for
// interleaved scans, a single block otherwise
func (d *decoder) decodeMCU(huffDec *HuffmanDecoder, mcu int) error {
	img := d.img

	if !img.interleaved() {
		comp := img.Components[0]
		return d.decodeBlock(huffDec, comp, mcu%comp.WidthInBlocks, mcu/comp.WidthInBlocks)
	}

	mcuX := mcu % img.mcuCols
	mcuY := mcu / img.mcuCols

	for _, comp := range img.Components {
		for v := 0; v < comp.V; v++ {
			for h := 0; h < comp.H; h++ {
				if err := d.decodeBlock(huffDec, comp, mcuX*comp.H+h, mcuY*comp.V+v); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// decodeBlock decodes a single 8x8 block of quantized coefficients
func (d *decoder) decodeBlock(huffDec *HuffmanDecoder, comp *Component, blockX, blockY int) error {
	blk := comp.Block(blockY, blockX)

	dcTable := d.dcTables[comp.dcSel]
	if dcTable == nil {
		return ErrInvalidDHT
	}

	s, err := huffDec.Decode(dcTable)
	if err != nil {
		return err
	}

	diff, err := huffDec.ReceiveExtend(int(s))
	if err != nil {
		return err
	}

	comp.dcPred += diff
	blk[0] = int16(comp.dcPred)

	acTable := d.acTables[comp.acSel]
	if acTable == nil {
		return ErrInvalidDHT
	}

	k := 1
	for k < 64 {
		rs, err := huffDec.Decode(acTable)
		if err != nil {
			return err
		}

		r := int(rs >> 4)
		size := int(rs & 0x0F)

		if size == 0 {
			if r == 15 {
				k += 16 // ZRL
				continue
			}
			break // EOB
		}

		k += r
		if k >= 64 {
			return ErrInvalidData
		}

		val, err := huffDec.ReceiveExtend(size)
		if err != nil {
			return err
		}

		blk[Unzig[k]] = int16(val)
		k++
	}

	return nil
}
