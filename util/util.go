// Copyright (c) 2016-2023 The Decred developers.

package util

import (
	"encoding/hex"
	"fmt"
)

// Reverse reverses a byte array.
func Reverse(src []byte) []byte {
	dst := make([]byte, len(src))
	for i := len(src); i > 0; i-- {
		dst[len(src)-i] = src[i-1]
	}
	return dst
}

// Uint32EndiannessSwap swaps the endianness of a uint32.
func Uint32EndiannessSwap(v uint32) uint32 {
	return (v&0x000000FF)<<24 | (v&0x0000FF00)<<8 |
		(v&0x00FF0000)>>8 | (v&0xFF000000)>>24
}

// FormatHashRate sets the units properly when displaying a hashrate.
func FormatHashRate(h float64) string {
	const unit = 1000
	if h < unit {
		return fmt.Sprintf("%.0f h/s", h)
	}
	div, exp := float64(unit), 0
	for n := h / unit; n >= unit && exp < 6; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ch/s", h/div, "kMGTPEZ"[exp])
}

// NonceHex formats a nonce the way cryptonight pools expect it: the
// little-endian byte sequence of the nonce word, hex encoded.
func NonceHex(nonce uint32) string {
	b := []byte{
		byte(nonce),
		byte(nonce >> 8),
		byte(nonce >> 16),
		byte(nonce >> 24),
	}
	return hex.EncodeToString(b)
}
