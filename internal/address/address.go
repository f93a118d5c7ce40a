// internal/address/address.go
package address

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrInvalidFormat is returned for anything that is neither DIGITS nor DIGITS.DIGITS.
	ErrInvalidFormat = errors.New("address: invalid format")

	// ErrBitOutOfRange is returned when the bit part of a bit address is not 0..15.
	ErrBitOutOfRange = errors.New("address: bit out of range")
)

// MaxBit is the highest addressable bit inside one holding register.
const MaxBit = 15

var bitAddr = regexp.MustCompile(`^(\d+)\.(\d+)$`)

// ParseError carries the raw input next to the sentinel it wraps.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v: %q", e.Err, e.Raw)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Spec is a parsed tag address; comparable with ==.
// Bit is meaningful only when IsBit is set.
type Spec struct {
	Register uint16
	Bit      uint8
	IsBit    bool
}

// HasBit reports whether the address refers to a single bit.
func (s Spec) HasBit() bool {
	return s.IsBit
}

// BitPos returns the bit position, or 0 for plain addresses.
func (s Spec) BitPos() uint8 {
	if !s.IsBit {
		return 0
	}
	return s.Bit
}

// String renders the spec back into the address grammar.
func (s Spec) String() string {
	if !s.IsBit {
		return strconv.Itoa(int(s.Register))
	}
	return fmt.Sprintf("%d.%d", s.Register, s.Bit)
}

// Parse turns a raw address string into a Spec.
// Accepted forms: "1344" (register) and "6463.2" (register.bit, bit 0..15).
// No side effects.
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)

	if m := bitAddr.FindStringSubmatch(s); m != nil {
		reg, err := parseRegister(m[1])
		if err != nil {
			return Spec{}, &ParseError{Raw: raw, Err: ErrInvalidFormat}
		}
		bit, err := strconv.ParseUint(m[2], 10, 8)
		if err != nil || bit > MaxBit {
			return Spec{}, &ParseError{Raw: raw, Err: ErrBitOutOfRange}
		}
		return Spec{Register: reg, Bit: uint8(bit), IsBit: true}, nil
	}

	reg, err := parseRegister(s)
	if err != nil {
		return Spec{}, &ParseError{Raw: raw, Err: ErrInvalidFormat}
	}
	return Spec{Register: reg}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(raw string) Spec {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// parseRegister accepts plain decimal digits only (no sign, no spaces).
func parseRegister(s string) (uint16, error) {
	if s == "" {
		return 0, ErrInvalidFormat
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, ErrInvalidFormat
		}
	}
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
