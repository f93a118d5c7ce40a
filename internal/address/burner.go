// internal/address/burner.go
package address

import (
	"errors"
	"fmt"
)

// Burner block geometry.
// Each burner owns a 64-register window starting at BurnerBase;
// words are 32-bit values, so word N lives at an even offset.
const (
	BurnerBase      = 1344
	BurnerStride    = 64
	BurnerWordWidth = 2

	MaxBurner = 20
	MinWord   = 1
	MaxWord   = 31
)

// ErrBurnerRange is returned for burner/word pairs outside the mapped block.
var ErrBurnerRange = errors.New("address: burner or word out of range")

// BurnerAddress computes the register of a burner word.
func BurnerAddress(burner, word int) (uint16, error) {
	if burner < 0 || burner > MaxBurner || word < MinWord || word > MaxWord {
		return 0, fmt.Errorf("%w: burner=%d word=%d", ErrBurnerRange, burner, word)
	}
	return uint16(BurnerBase + (word-1)*BurnerWordWidth + BurnerStride*burner), nil
}

// BurnerWord is the inverse of BurnerAddress.
// ok is false when the register is not inside the burner block.
func BurnerWord(register uint16) (burner, word int, ok bool) {
	if register < BurnerBase {
		return 0, 0, false
	}
	off := int(register) - BurnerBase
	burner = off / BurnerStride
	word = (off%BurnerStride)/BurnerWordWidth + 1
	if burner > MaxBurner || word > MaxWord {
		return 0, 0, false
	}
	return burner, word, true
}
