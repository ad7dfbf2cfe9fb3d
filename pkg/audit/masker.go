package audit

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaskToken replaces the hidden part of a sensitive value
const MaskToken = "******"

// MaskValue keeps the last four characters of value behind MaskToken.
// Values of four characters or fewer are fully redacted. Already masked
// values (MaskToken alone, or followed by exactly four characters) are
// returned unchanged so masking can be applied more than once.
func MaskValue(value string) string {
	if isMasked(value) {
		return value
	}
	runes := []rune(value)
	if len(runes) <= 4 {
		return MaskToken
	}
	return MaskToken + string(runes[len(runes)-4:])
}

func isMasked(value string) bool {
	rest, ok := strings.CutPrefix(value, MaskToken)
	if !ok {
		return false
	}
	return rest == "" || utf8.RuneCountInString(rest) == 4
}

// Mask returns a copy of fields with every sensitive key redacted.
// Nil values stay nil. A nil snapshot returns nil.
func Mask(fields Snapshot, sensitive []string) Snapshot {
	if fields == nil {
		return nil
	}
	out := fields.Clone()
	for _, name := range sensitive {
		v, ok := out[name]
		if !ok || v == nil {
			continue
		}
		out[name] = maskAny(v)
	}
	return out
}

func maskAny(v interface{}) string {
	if s, ok := v.(string); ok {
		return MaskValue(s)
	}
	return MaskValue(fmt.Sprint(v))
}
