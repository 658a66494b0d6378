package align

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	danda       = '।'
	doubleDanda = '॥'
)

// Normalize prepares text for word-level comparison. It applies Unicode NFC,
// removes the danda sentence marks, drops every rune that is neither an
// ASCII letter or digit, whitespace, nor part of one of the aligner's
// scripts, lower-cases ASCII, and collapses runs of whitespace into a single
// space. The result is trimmed.
//
// Normalize is idempotent and never reorders words.
func (a *Aligner) Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case r == danda || r == doubleDanda:
			continue
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		case r < utf8.RuneSelf:
			if !isASCIIAlnum(r) {
				continue
			}
			r = unicode.ToLower(r)
		case !a.inScripts(r):
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	// Dropping a rune can bring a base letter and a mark together.
	return norm.NFC.String(b.String())
}

// Tokenize normalizes text and splits it into words.
func (a *Aligner) Tokenize(text string) []string {
	return strings.Fields(a.Normalize(text))
}

func (a *Aligner) inScripts(r rune) bool {
	for _, tbl := range a.scripts {
		if unicode.Is(tbl, r) {
			return true
		}
	}
	return false
}

func isASCIIAlnum(r rune) bool {
	return ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9')
}
