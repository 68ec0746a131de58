// Package core holds the domain types shared by every layer.
//
// Amounts are whole yen. The yen has no minor unit in practice, so the
// smallest currency unit and the display unit coincide.
package core

import (
	"strconv"
	"strings"
)

// Yen is an amount in the smallest currency unit.
type Yen int64

func (y Yen) Validate() error {
	if y <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// String formats the amount with a yen sign and thousands separators,
// e.g. ¥1,234,567.
func (y Yen) String() string {
	return "¥" + y.Grouped()
}

// Grouped formats the amount with thousands separators only.
func (y Yen) Grouped() string {
	n := int64(y)
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
