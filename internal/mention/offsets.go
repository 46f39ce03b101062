package mention

import (
	"fmt"
	"unicode/utf16"
)

// Unit names how a client counts text offsets.
type Unit string

const (
	// UnitRune counts Unicode code points. It is the default.
	UnitRune Unit = "rune"
	// UnitUTF16 counts UTF-16 code units, as browser selection APIs do.
	UnitUTF16 Unit = "utf16"
)

// ParseUnit accepts "", "rune" and "utf16".
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case "", UnitRune:
		return UnitRune, nil
	case UnitUTF16:
		return UnitUTF16, nil
	}
	return "", fmt.Errorf("unknown offset unit %q", s)
}

// ToRunes converts an offset in unit u into a rune offset within text. An
// offset that splits a surrogate pair resolves to the rune before it.
// Offsets outside the text pass through for the callers to clamp.
func (u Unit) ToRunes(text string, off int) int {
	if u != UnitUTF16 || off <= 0 {
		return off
	}
	units, runes := 0, 0
	for _, r := range text {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > off {
			return runes
		}
		units += n
		runes++
	}
	return runes + (off - units)
}

// FromRunes converts a rune offset within text into unit u.
func (u Unit) FromRunes(text string, off int) int {
	if u != UnitUTF16 || off <= 0 {
		return off
	}
	units, runes := 0, 0
	for _, r := range text {
		if runes == off {
			return units
		}
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		units += n
		runes++
	}
	return units + (off - runes)
}
