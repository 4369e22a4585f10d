// SPDX-License-Identifier: MIT
package source

// PCM conversion to float32 in [-1, 1]. The pipeline is float-first:
// back-ends that natively produce integer PCM convert here, at the
// boundary, and every downstream component assumes float.
//
//	 8-bit  unsigned    (b - 128) / 128
//	16-bit  signed LE   v / 32768
//	24-bit  signed LE   sign-extend, v / 8388608
//	32-bit  signed LE   v / 2147483648

// DecodeU8 converts unsigned 8-bit PCM bytes into dst. Returns the number
// of samples written.
func DecodeU8(dst []float32, src []byte) int {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = float32(int(src[i])-128) / 128.0
	}
	return n
}

// DecodeS16LE converts signed 16-bit little-endian PCM bytes into dst.
func DecodeS16LE(dst []float32, src []byte) int {
	n := len(src) / 2
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		v := int16(uint16(src[2*i]) | uint16(src[2*i+1])<<8)
		dst[i] = float32(v) / 32768.0
	}
	return n
}

// DecodeS24LE converts signed 24-bit little-endian PCM bytes into dst.
// The 24-bit value is sign-extended: 0x800000 is the most negative sample.
func DecodeS24LE(dst []float32, src []byte) int {
	n := len(src) / 3
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		v := int32(src[3*i]) | int32(src[3*i+1])<<8 | int32(src[3*i+2])<<16
		if v&0x800000 != 0 {
			v -= 1 << 24
		}
		dst[i] = float32(v) / 8388608.0
	}
	return n
}

// DecodeS32LE converts signed 32-bit little-endian PCM bytes into dst.
func DecodeS32LE(dst []float32, src []byte) int {
	n := len(src) / 4
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		v := int32(uint32(src[4*i]) | uint32(src[4*i+1])<<8 |
			uint32(src[4*i+2])<<16 | uint32(src[4*i+3])<<24)
		dst[i] = float32(float64(v) / 2147483648.0)
	}
	return n
}

// DecodePCM dispatches on sample width. Unknown widths write nothing.
func DecodePCM(dst []float32, src []byte, widthBits int) int {
	switch widthBits {
	case 8:
		return DecodeU8(dst, src)
	case 16:
		return DecodeS16LE(dst, src)
	case 24:
		return DecodeS24LE(dst, src)
	case 32:
		return DecodeS32LE(dst, src)
	default:
		return 0
	}
}

// EncodeS16 converts a float sample back to signed 16-bit, clamping to the
// representable range. Used by tests to check the round trip.
func EncodeS16(x float32) int16 {
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	v := int32(float64(x) * 32768.0)
	if v > 32767 {
		v = 32767
	} else if v < -32768 {
		v = -32768
	}
	return int16(v)
}
