// internal/codec/codec.go
package codec

import (
	"math"
	"strconv"
	"strings"

	"github.com/tamzrod/modbus-tagwatch/internal/address"
)

// BitStringPrefix marks the radix of DecodeBitString output.
const BitStringPrefix = "2#"

// BitStringSeparator groups bit string digits by nibble.
const BitStringSeparator = "_"

// displayDigits is the rounding applied by DisplayFloat.
const displayDigits = 6

// Pair is two consecutive holding registers: Low = register N, High = N+1.
type Pair struct {
	Low  uint16
	High uint16
}

// Reading is everything decoded from one Pair.
type Reading struct {
	Float     float32
	Dword     uint32
	Word      uint16 // raw Low, or the extracted bit for bit addresses
	BitString string
}

// PairFromRegisters takes the first two registers of a read.
func PairFromRegisters(regs []uint16) (Pair, bool) {
	if len(regs) < 2 {
		return Pair{}, false
	}
	return Pair{Low: regs[0], High: regs[1]}, true
}

// Registers returns the pair in wire order.
func (p Pair) Registers() []uint16 {
	return []uint16{p.Low, p.High}
}

// DecodeDword combines the pair as (High << 16) | Low.
func DecodeDword(p Pair) uint32 {
	return uint32(p.High)<<16 | uint32(p.Low)
}

// DecodeFloat reinterprets DecodeDword as IEEE-754 binary32.
func DecodeFloat(p Pair) float32 {
	return math.Float32frombits(DecodeDword(p))
}

// DisplayFloat rounds f to 6 decimal digits. Display only.
func DisplayFloat(f float32) float64 {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow10(displayDigits)
	if math.Abs(v)*scale >= 1<<53 {
		// no fractional digits left at this magnitude
		return v
	}
	return math.Round(v*scale) / scale
}

// DecodeBit extracts one bit of Low. High never carries addressable bits.
func DecodeBit(p Pair, pos uint8) uint16 {
	return (p.Low >> (pos & 0x0F)) & 1
}

// DecodeBitString renders the dword as "2#dddd_dddd_..." (32 digits, MSB first).
func DecodeBitString(p Pair) string {
	bits := strconv.FormatUint(uint64(DecodeDword(p)), 2)
	bits = strings.Repeat("0", 32-len(bits)) + bits

	var b strings.Builder
	b.Grow(len(BitStringPrefix) + 32 + 7)
	b.WriteString(BitStringPrefix)
	for i := 0; i < 32; i += 4 {
		if i > 0 {
			b.WriteString(BitStringSeparator)
		}
		b.WriteString(bits[i : i+4])
	}
	return b.String()
}

// EncodeFloat is the inverse of DecodeFloat.
func EncodeFloat(v float32) Pair {
	bits := math.Float32bits(v)
	return Pair{
		Low:  uint16(bits),
		High: uint16(bits >> 16),
	}
}

// Decode produces the full reading for an address.
// For bit addresses Word holds the selected bit instead of the raw register.
func Decode(p Pair, spec address.Spec) Reading {
	r := Reading{
		Float:     DecodeFloat(p),
		Dword:     DecodeDword(p),
		Word:      p.Low,
		BitString: DecodeBitString(p),
	}
	if spec.HasBit() {
		r.Word = DecodeBit(p, spec.BitPos())
	}
	return r
}
