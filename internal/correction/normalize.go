package correction

import (
	"strings"
	"unicode"
)

// Normalize prepares text for similarity scoring: lowercase, whitespace and
// punctuation stripped, and orthographically equivalent Arabic forms unified
// so that diacritics or hamza carrier choice never count as mistakes.
//
// Rules applied, in order per rune:
//   - whitespace and punctuation are dropped
//   - tashkeel (U+064B–U+0652), the superscript alef (U+0670), the tatweel
//     (U+0640) and Quranic annotation marks (U+06D6–U+06ED) are dropped
//   - hamza forms of alef (أ إ آ ٱ) collapse to bare alef (ا)
//   - waw with hamza (ؤ) collapses to waw (و)
//   - ya with hamza (ئ) and alef maqsura (ى) collapse to ya (ي)
//   - ta marbuta (ة) collapses to ha (ه)
//   - a standalone hamza (ء) is dropped
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r) || unicode.IsPunct(r):
			// dropped
		case r >= 0x064B && r <= 0x0652: // tashkeel
		case r == 0x0670: // superscript alef
		case r == 0x0640: // tatweel
		case r >= 0x06D6 && r <= 0x06ED: // annotation marks
		case r == 0x0621: // standalone hamza
		case r == 0x0623 || r == 0x0625 || r == 0x0622 || r == 0x0671:
			b.WriteRune(0x0627) // أ إ آ ٱ → ا
		case r == 0x0624:
			b.WriteRune(0x0648) // ؤ → و
		case r == 0x0626 || r == 0x0649:
			b.WriteRune(0x064A) // ئ ى → ي
		case r == 0x0629:
			b.WriteRune(0x0647) // ة → ه
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
