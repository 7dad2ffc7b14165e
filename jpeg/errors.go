// Package jpeg implements a baseline JPEG codec that operates on
// quantized DCT coefficients. Unlike a pixel-level codec it never
// dequantizes or inverse-transforms the data: Decode keeps every
// component's coefficient planes addressable for in-place mutation,
// and Encode entropy-codes them back into a syntactically valid JPEG
// with the source image's geometry and quantization tables.
package jpeg

import "errors"

// Codec errors
var (
	ErrInvalidMarker     = errors.New("invalid JPEG marker")
	ErrInvalidSOI        = errors.New("missing SOI marker")
	ErrInvalidSOF        = errors.New("invalid Start of Frame")
	ErrInvalidDHT        = errors.New("invalid Huffman table")
	ErrInvalidDQT        = errors.New("invalid Quantization table")
	ErrInvalidSOS        = errors.New("invalid Start of Scan")
	ErrUnsupportedFormat = errors.New("unsupported JPEG format")
	ErrInvalidData       = errors.New("invalid JPEG data")
	ErrHuffmanDecode     = errors.New("Huffman decode error")
)
