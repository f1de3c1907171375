package fingerprint

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var nameSeparators = regexp.MustCompile(`[\s.,\-–]+`)

// splitNameWords splits a name into words and the separators between them:
// seps[i] sits between words[i] and words[i+1].
func splitNameWords(name string) (words, seps []string) {
	pos, pending := 0, ""
	add := func(w string) {
		if w == "" {
			return
		}
		if len(words) > 0 {
			seps = append(seps, pending)
		}
		words = append(words, w)
		pending = ""
	}
	for _, loc := range nameSeparators.FindAllStringIndex(name, -1) {
		add(name[pos:loc[0]])
		pending += name[loc[0]:loc[1]]
		pos = loc[1]
	}
	add(name[pos:])
	return words, seps
}

// lastNameKey reduces a family name to its significant words, dropping
// lowercase particles such as "van" or "de". A lowercase word directly
// after a bare hyphen is kept.
func lastNameKey(family string) string {
	words, seps := splitNameWords(RemoveDiacritics(family))
	var kept []string
	for i, w := range words {
		first, _ := utf8.DecodeRuneInString(w)
		if unicode.IsUpper(first) || (i > 0 && seps[i-1] == "-") {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		kept = words
	}
	for i := range kept {
		kept[i] = strings.ToLower(kept[i])
	}
	return strings.Join(kept, "-")
}
