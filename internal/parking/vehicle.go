package parking

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	minPlateLength = 4
	maxPlateLength = 16
)

// SizeClass is both a vehicle size class and a slot tag.
type SizeClass string

const (
	SizeCompact   SizeClass = "compact"
	SizeStandard  SizeClass = "standard"
	SizeOversized SizeClass = "oversized"
	SizeEV        SizeClass = "ev"
)

var sizeAliases = map[string]SizeClass{
	"compact":   SizeCompact,
	"small":     SizeCompact,
	"standard":  SizeStandard,
	"medium":    SizeStandard,
	"oversized": SizeOversized,
	"large":     SizeOversized,
	"ev":        SizeEV,
}

func (c SizeClass) Valid() bool {
	switch c {
	case SizeCompact, SizeStandard, SizeOversized, SizeEV:
		return true
	}
	return false
}

// ParseSizeClass accepts canonical names and the small/medium/large aliases.
func ParseSizeClass(s string) (SizeClass, error) {
	class, ok := sizeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: unknown size class %q", ErrInvalidInput, s)
	}
	return class, nil
}

// NormalizePlate uppercases a plate and strips everything that is not a
// letter or digit.
func NormalizePlate(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// ValidatePlate normalizes raw and checks its length.
func ValidatePlate(raw string) (string, error) {
	plate := NormalizePlate(raw)
	if len(plate) < minPlateLength || len(plate) > maxPlateLength {
		return "", fmt.Errorf("%w: plate %q must have %d to %d alphanumeric characters", ErrInvalidInput, raw, minPlateLength, maxPlateLength)
	}
	return plate, nil
}
