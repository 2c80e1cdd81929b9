package ranking

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips combining marks after canonical decomposition, so
// "tiếng" folds to "tieng".
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// letterReplacer maps letters which survive mark-stripping because they are
// distinct codepoints rather than base+combining pairs.
var letterReplacer = strings.NewReplacer(
	"đ", "d", "Đ", "D",
	"ø", "o", "Ø", "O",
	"ł", "l", "Ł", "L",
	"æ", "ae", "Æ", "AE",
	"ß", "ss",
)

// foldDiacritics returns the input with diacritic marks removed. The input
// is returned unchanged if the transform fails; a failed fold should degrade
// search quality, not error out.
func foldDiacritics(input string) string {
	folded, _, err := transform.String(foldTransformer, input)
	if err != nil {
		return letterReplacer.Replace(input)
	}

	return letterReplacer.Replace(folded)
}
