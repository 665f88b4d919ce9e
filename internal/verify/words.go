package verify

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minWordLen is the shortest token kept; anything at or below it is noise.
const minWordLen = 3

// stopWords are generic English fillers plus financial-news boilerplate that
// appears in most headlines without saying what happened.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		the and for are but not you all can had her was one our out day get has him his how
		its may new now old see two way who boy did let put say she too use
		news report reports says said market markets stock stocks trading trade
		financial finance business economy economic company companies inc corp llc ltd co group
		shares share price prices up down rise fall`) {
		stopWords[w] = struct{}{}
	}
}

// WordSet is the set of significant words in a title.
type WordSet map[string]struct{}

// Words lowercases a title, replaces punctuation with spaces and returns the
// significant words. Empty or fully stopped titles give an empty set.
func Words(title string) WordSet {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, strings.ToLower(title))

	out := make(WordSet)
	for _, w := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(w) < minWordLen {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// Jaccard returns |A∩B| / |A∪B|. It is 0 when either set is empty, so two
// empty titles never match each other.
func Jaccard(a, b WordSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
