// Package bits holds the byte-level helpers used to decode ISO 7816 header
// bytes, status words and PIN blocks. Bits are numbered 1 (least significant)
// to 8, as in the ISO tables.
package bits

// Bit returns a byte with only bit n set. Out of range positions yield 0.
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet reports whether bit n of b is set.
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// GetRange extracts bits high..low of b, shifted down.
// GetRange(0b00001100, 4, 3) == 0b11.
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}

	width := high - low + 1
	mask := byte((1 << width) - 1)

	return (b >> (low - 1)) & mask
}

// Set returns b with bit n set.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// Clear returns b with bit n cleared.
func Clear(b byte, n uint) byte {
	return b &^ Bit(n)
}

// HighNibble returns bits 8-5 of b.
func HighNibble(b byte) byte {
	return b >> 4
}

// LowNibble returns bits 4-1 of b.
func LowNibble(b byte) byte {
	return b & 0x0F
}

// PackNibbles builds a byte from two 4-bit values.
func PackNibbles(high, low byte) byte {
	return (high&0x0F)<<4 | low&0x0F
}
