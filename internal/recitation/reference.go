package recitation

import (
	"strings"

	"github.com/MrWong99/paath/internal/align"
	"github.com/MrWong99/paath/pkg/types"
)

// Normalizer reduces text to its comparable form. [*align.Aligner]
// implements it.
type Normalizer interface {
	Normalize(text string) string
}

var defaultNormalizer Normalizer = align.New()

// ParseReference splits a reference text into paragraphs (one per line) and
// words (whitespace-separated tokens), all starting as PENDING.
//
// Tokens that normalize to nothing, such as a bare "॥", are dropped, and so
// are lines left without words. This keeps the reference words one-to-one
// with the tokens the aligner sees when it is handed [Flatten] of the
// result. A nil Normalizer selects the default aligner's normalization.
func ParseReference(text string, n Normalizer) []types.Paragraph {
	if n == nil {
		n = defaultNormalizer
	}
	var paras []types.Paragraph
	for line := range strings.Lines(text) {
		var words []types.Word
		for _, tok := range strings.Fields(line) {
			if n.Normalize(tok) == "" {
				continue
			}
			words = append(words, types.Word{Text: tok, Status: types.StatusPending})
		}
		if len(words) > 0 {
			paras = append(paras, types.Paragraph{Words: words})
		}
	}
	return paras
}

// Flatten joins all words of paras with single spaces, in reading order.
func Flatten(paras []types.Paragraph) string {
	var b strings.Builder
	for _, p := range paras {
		for _, w := range p.Words {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(w.Text)
		}
	}
	return b.String()
}

// CountWords returns the total number of words in paras.
func CountWords(paras []types.Paragraph) int {
	n := 0
	for _, p := range paras {
		n += len(p.Words)
	}
	return n
}

func cloneParagraphs(paras []types.Paragraph) []types.Paragraph {
	out := make([]types.Paragraph, len(paras))
	for i, p := range paras {
		out[i] = types.Paragraph{Words: append([]types.Word(nil), p.Words...)}
	}
	return out
}
