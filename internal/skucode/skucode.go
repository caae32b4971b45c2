// Package skucode splits operator-typed product codes such as "00011-P" into
// a SKU and an optional variant label.
package skucode

import (
	"strings"
	"unicode"
)

func isSKUStop(r rune) bool {
	return r == '-' || r == '#' || unicode.IsSpace(r)
}

func isSeparator(b byte) bool {
	return b == '-' || b == '#' || b == ' '
}

// Parse splits code into a SKU and a variant label. The SKU is the leading run
// of characters that are not a hyphen, hash or whitespace. It must be followed
// by a single hyphen, hash or space separator, optionally surrounded by
// whitespace, and then a non-empty remainder that becomes the trimmed variant.
// Tabs and other whitespace are tolerated around the separator but never act
// as one. When no such split exists the whole trimmed code is the SKU and the
// variant is nil. Parse never fails.
func Parse(code string) (string, *string) {
	code = strings.TrimSpace(code)
	idx := strings.IndexFunc(code, isSKUStop)
	if idx <= 0 {
		return code, nil
	}
	sku, rest := code[:idx], code[idx:]

	// Try the separator after the longest whitespace run first, then shorter
	// runs, so "a -" splits on the space and keeps "-" as the variant.
	lead := len(rest) - len(strings.TrimLeftFunc(rest, unicode.IsSpace))
	for k := lead; k >= 0; k-- {
		if k >= len(rest) || !isSeparator(rest[k]) {
			continue
		}
		variant := strings.TrimSpace(rest[k+1:])
		if variant != "" && !strings.ContainsRune(variant, '\n') {
			return sku, &variant
		}
	}
	return code, nil
}
