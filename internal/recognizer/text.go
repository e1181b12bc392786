package recognizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CleanOptions controls text post-processing.
type CleanOptions struct {
	NormalizeForm      string // "NFC" (default), "NFKC", "none"
	CollapseWhitespace bool
	RemoveZeroWidth    bool
	RemoveControlChars bool
}

// DefaultCleanOptions returns the defaults for game text. NFC keeps
// full-width forms intact, which matters for Japanese UI text.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		NormalizeForm:      "NFC",
		CollapseWhitespace: true,
		RemoveZeroWidth:    true,
		RemoveControlChars: true,
	}
}

// PostProcessText normalises and cleans decoded text. The result is trimmed.
func PostProcessText(s string, opts CleanOptions) string {
	if s == "" {
		return s
	}
	switch strings.ToUpper(opts.NormalizeForm) {
	case "", "NFC":
		s = norm.NFC.String(s)
	case "NFKC":
		s = norm.NFKC.String(s)
	}

	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if opts.RemoveZeroWidth && isZeroWidth(r) {
			continue
		}
		if opts.RemoveControlChars && unicode.IsControl(r) && r != '\t' && r != '\n' {
			continue
		}
		if opts.CollapseWhitespace && unicode.IsSpace(r) && r != '\u3000' {
			if !space {
				b.WriteRune(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\u2060', '\uFEFF':
		return true
	}
	return false
}
