package telemetry

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	emptySlot       = "None"
	maxItemNameLen  = 15
	truncatedPrefix = 12
)

// FormatItemName turns a material identifier such as DIAMOND_SWORD into
// "Diamond Sword". Empty slots read "None"; long names are cut to 12
// characters followed by "...".
func FormatItemName(material string) string {
	material = strings.TrimSpace(material)
	if material == "" || strings.EqualFold(material, "air") {
		return emptySlot
	}
	words := strings.Fields(strings.ToLower(strings.ReplaceAll(material, "_", " ")))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	name := strings.Join(words, " ")
	if runes := []rune(name); len(runes) > maxItemNameLen {
		return string(runes[:truncatedPrefix]) + "..."
	}
	return name
}
