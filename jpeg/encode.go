package jpeg

import (
	"bufio"
	"io"
)

type encoder struct {
	img *Image
	w   *Writer
	enc *HuffmanEncoder

	dcCodes [2][]HuffmanCode
	acCodes [2][]HuffmanCode
}

// Encode entropy-codes the image's coefficient planes back into a
// baseline JPEG stream. Geometry, sampling factors, quantization
// tables, the restart interval and APPn/COM segments are preserved
// from decode; entropy coding always uses the standard K.3 Huffman
// tables, mirroring what libjpeg produces after
// jpeg_copy_critical_parameters (which does not carry entropy tables
// across). The output is deterministic for a given Image.
func (img *Image) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)

	e := &encoder{
		img: img,
		w:   NewWriter(bw),
		enc: NewHuffmanEncoder(bw),
	}

	e.dcCodes[0] = BuildHuffmanCodes(BuildStandardHuffmanTable(StandardDCLuminanceBits, StandardDCLuminanceValues))
	e.acCodes[0] = BuildHuffmanCodes(BuildStandardHuffmanTable(StandardACLuminanceBits, StandardACLuminanceValues))
	e.dcCodes[1] = BuildHuffmanCodes(BuildStandardHuffmanTable(StandardDCChrominanceBits, StandardDCChrominanceValues))
	e.acCodes[1] = BuildHuffmanCodes(BuildStandardHuffmanTable(StandardACChrominanceBits, StandardACChrominanceValues))

	if err := e.w.WriteMarker(MarkerSOI); err != nil {
		return err
	}

	for _, seg := range img.Extra {
		if err := e.w.WriteSegment(seg.Marker, seg.Data); err != nil {
			return err
		}
	}

	if err := e.writeDQT(); err != nil {
		return err
	}
	if err := e.writeSOF0(); err != nil {
		return err
	}
	if err := e.writeDHT(); err != nil {
		return err
	}
	if err := e.writeDRI(); err != nil {
		return err
	}
	if err := e.writeSOS(); err != nil {
		return err
	}
	if err := e.encodeScan(); err != nil {
		return err
	}

	if err := e.w.WriteMarker(MarkerEOI); err != nil {
		return err
	}

	return bw.Flush()
}

// writeDQT re-emits every defined quantization table with its
// original id and precision
func (e *encoder) writeDQT() error {
	for id := range e.img.Quant {
		table := &e.img.Quant[id]
		if !table.Defined {
			continue
		}

		var data []byte
		if table.Prec == 0 {
			data = make([]byte, 1+64)
			data[0] = byte(id)
			for i := 0; i < 64; i++ {
				data[1+i] = byte(table.Values[i])
			}
		} else {
			data = make([]byte, 1+128)
			data[0] = 1<<4 | byte(id)
			for i := 0; i < 64; i++ {
				data[1+i*2] = byte(table.Values[i] >> 8)
				data[1+i*2+1] = byte(table.Values[i])
			}
		}

		if err := e.w.WriteSegment(MarkerDQT, data); err != nil {
			return err
		}
	}

	return nil
}

// writeSOF0 writes the Start of Frame with the source geometry
func (e *encoder) writeSOF0() error {
	img := e.img
	data := make([]byte, 6+len(img.Components)*3)

	data[0] = 8
	data[1] = byte(img.Height >> 8)
	data[2] = byte(img.Height)
	data[3] = byte(img.Width >> 8)
	data[4] = byte(img.Width)
	data[5] = byte(len(img.Components))

	for i, comp := range img.Components {
		offset := 6 + i*3
		data[offset] = comp.ID
		data[offset+1] = byte(comp.H<<4 | comp.V)
		data[offset+2] = comp.Tq
	}

	return e.w.WriteSegment(MarkerSOF0, data)
}

// writeDHT writes the standard Huffman tables used by the scan
func (e *encoder) writeDHT() error {
	specs := []struct {
		class  byte
		id     byte
		bits   [16]int
		values []byte
	}{
		{0, 0, StandardDCLuminanceBits, StandardDCLuminanceValues},
		{1, 0, StandardACLuminanceBits, StandardACLuminanceValues},
	}

	if len(e.img.Components) > 1 {
		specs = append(specs,
			struct {
				class  byte
				id     byte
				bits   [16]int
				values []byte
			}{0, 1, StandardDCChrominanceBits, StandardDCChrominanceValues},
			struct {
				class  byte
				id     byte
				bits   [16]int
				values []byte
			}{1, 1, StandardACChrominanceBits, StandardACChrominanceValues},
		)
	}

	for _, spec := range specs {
		total := 0
		for _, n := range spec.bits {
			total += n
		}

		data := make([]byte, 1+16+total)
		data[0] = spec.class<<4 | spec.id
		for i := 0; i < 16; i++ {
			data[1+i] = byte(spec.bits[i])
		}
		copy(data[17:], spec.values)

		if err := e.w.WriteSegment(MarkerDHT, data); err != nil {
			return err
		}
	}

	return nil
}

// writeDRI writes the restart interval when the source had one
func (e *encoder) writeDRI() error {
	if e.img.RestartInterval == 0 {
		return nil
	}

	data := []byte{
		byte(e.img.RestartInterval >> 8),
		byte(e.img.RestartInterval),
	}
	return e.w.WriteSegment(MarkerDRI, data)
}

// writeSOS writes the Start of Scan header. Component 0 selects the
// luminance tables, the rest the chrominance ones.
func (e *encoder) writeSOS() error {
	img := e.img
	data := make([]byte, 1+len(img.Components)*2+3)

	data[0] = byte(len(img.Components))
	for i, comp := range img.Components {
		data[1+i*2] = comp.ID
		if i == 0 {
			data[1+i*2+1] = 0x00
		} else {
			data[1+i*2+1] = 0x11
		}
	}

	// Full spectral selection, no successive approximation
	data[1+len(img.Components)*2] = 0
	data[2+len(img.Components)*2] = 63
	data[3+len(img.Components)*2] = 0

	return e.w.WriteSegment(MarkerSOS, data)
}

// encodeScan entropy-codes every MCU, emitting restart markers at the
// configured interval
func (e *encoder) encodeScan() error {
	img := e.img

	for _, comp := range img.Components {
		comp.dcPred = 0
	}

	total := img.mcuCount()
	rst := 0

	for mcu := 0; mcu < total; mcu++ {
		if img.RestartInterval > 0 && mcu > 0 && mcu%img.RestartInterval == 0 {
			if err := e.enc.Flush(); err != nil {
				return err
			}
			if err := e.w.WriteMarker(uint16(MarkerRST0 + rst)); err != nil {
				return err
			}
			rst = (rst + 1) % 8

			for _, comp := range img.Components {
				comp.dcPred = 0
			}
		}

		if err := e.encodeMCU(mcu); err != nil {
			return err
		}
	}

	return e.enc.Flush()
}

func (e *encoder) encodeMCU(mcu int) error {
	img := e.img

	if !img.interleaved() {
		comp := img.Components[0]
		return e.encodeBlock(comp, mcu%comp.WidthInBlocks, mcu/comp.WidthInBlocks, 0)
	}

	mcuX := mcu % img.mcuCols
	mcuY := mcu / img.mcuCols

	for i, comp := range img.Components {
		tableIdx := 0
		if i > 0 {
			tableIdx = 1
		}
		for v := 0; v < comp.V; v++ {
			for h := 0; h < comp.H; h++ {
				if err := e.encodeBlock(comp, mcuX*comp.H+h, mcuY*comp.V+v, tableIdx); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

// encodeBlock entropy-codes a single 8x8 block
func (e *encoder) encodeBlock(comp *Component, blockX, blockY, tableIdx int) error {
	blk := comp.Block(blockY, blockX)

	// DC difference
	diff := int(blk[0]) - comp.dcPred
	comp.dcPred = int(blk[0])

	cat, bits := EncodeCategory(diff)
	dcCode := e.dcCodes[tableIdx][cat]
	if err := e.enc.WriteBits(uint32(dcCode.Code), dcCode.Len); err != nil {
		return err
	}
	if cat > 0 {
		if err := e.enc.WriteBits(bits, cat); err != nil {
			return err
		}
	}

	// AC run/size coding
	acCode := e.acCodes[tableIdx]
	zeroRun := 0

	for k := 1; k < 64; k++ {
		val := int(blk[Unzig[k]])

		if val == 0 {
			zeroRun++
			continue
		}

		for zeroRun >= 16 {
			code := acCode[0xF0] // ZRL
			if err := e.enc.WriteBits(uint32(code.Code), code.Len); err != nil {
				return err
			}
			zeroRun -= 16
		}

		cat, bits := EncodeCategory(val)
		code := acCode[byte(zeroRun<<4|cat)]
		if err := e.enc.WriteBits(uint32(code.Code), code.Len); err != nil {
			return err
		}
		if err := e.enc.WriteBits(bits, cat); err != nil {
			return err
		}

		zeroRun = 0
	}

	if zeroRun > 0 {
		code := acCode[0x00] // EOB
		if err := e.enc.WriteBits(uint32(code.Code), code.Len); err != nil {
			return err
		}
	}

	return nil
}
