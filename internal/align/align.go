// Package align compares a recognized transcript against a reference text at
// word granularity.
//
// The [Aligner] walks the recited words in order while keeping an
// independent cursor into the reference. Each recited word either matches
// the reference word at the cursor, repairs a skipped stretch of the
// reference within a short lookahead window, is a hesitation (a filler word
// or a repeat of the previous reference word) that is consumed silently, or
// is a substitution error. On top of the per-word sequence the aligner
// derives aggregate warnings and user-facing feedback.
//
// An Aligner is immutable after construction and safe for concurrent use.
package align

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/MrWong99/paath/pkg/types"
)

// Strictness selects how lenient word matching is.
type Strictness string

const (
	// StrictnessStrict accepts only identical normalized words.
	StrictnessStrict Strictness = "strict"

	// StrictnessStandard accepts identical words, words that agree after
	// the Gurmukhi pronunciation fold, and long words within an edit
	// distance of a quarter of their letter count.
	StrictnessStandard Strictness = "standard"

	// StrictnessRelaxed widens the edit distance to a third of the letter
	// count and additionally accepts folded long words with a high
	// Jaro-Winkler similarity.
	StrictnessRelaxed Strictness = "relaxed"
)

// ParseStrictness converts a configuration string to a [Strictness]. The
// empty string maps to [StrictnessStandard].
func ParseStrictness(s string) (Strictness, error) {
	switch Strictness(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrictnessStandard:
		return StrictnessStandard, nil
	case StrictnessStrict:
		return StrictnessStrict, nil
	case StrictnessRelaxed:
		return StrictnessRelaxed, nil
	default:
		return "", fmt.Errorf("align: unknown strictness %q", s)
	}
}

// Defaults applied by [New].
const (
	DefaultLookahead                 = 3
	DefaultOmissionRatio             = 0.8
	DefaultConsecutiveErrorThreshold = 3
)

// DefaultFillerWords lists the hesitation words that are dropped from the
// recitation without being counted as errors.
var DefaultFillerWords = []string{"uh", "um", "ah", "er", "hmm"}

// DefaultScripts lists the Unicode script names whose letters survive
// normalization in addition to ASCII letters and digits.
var DefaultScripts = []string{"Gurmukhi", "Devanagari"}

// Warning texts. They are part of the user-facing contract.
const (
	hesitationTitle        = "Slight hesitation detected"
	hesitationDescription  = "Try to maintain a consistent pace during recitation"
	consecutiveTitle       = "Multiple consecutive errors"
	consecutiveDescription = "You may need to review this section of the text"
	omissionTitle          = "Significant omission detected"
	omissionDescription    = "Large portions of the text were not recited"
)

// Aligner compares recited text against reference text.
type Aligner struct {
	strictness       Strictness
	lookahead        int
	fillers          map[string]struct{}
	scripts          []*unicode.RangeTable
	omissionRatio    float64
	consecutiveLimit int
}

// Option is a functional option for [New].
type Option func(*Aligner)

// WithStrictness sets the matching strictness. Unknown values are ignored.
func WithStrictness(s Strictness) Option {
	return func(a *Aligner) {
		switch s {
		case StrictnessStrict, StrictnessStandard, StrictnessRelaxed:
			a.strictness = s
		}
	}
}

// WithLookahead sets how many reference words past the cursor are searched
// for a match before a recited word is counted as a substitution. Zero
// disables skip repair. Negative values are ignored.
func WithLookahead(n int) Option {
	return func(a *Aligner) {
		if n >= 0 {
			a.lookahead = n
		}
	}
}

// WithFillerWords replaces the hesitation word list. Matching is
// case-insensitive.
func WithFillerWords(words []string) Option {
	return func(a *Aligner) {
		a.fillers = make(map[string]struct{}, len(words))
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				a.fillers[w] = struct{}{}
			}
		}
	}
}

// WithScripts sets the Unicode scripts kept by normalization. Unknown names
// are ignored; see [ScriptTables] for validation.
func WithScripts(names []string) Option {
	return func(a *Aligner) {
		a.scripts, _ = ScriptTables(names)
	}
}

// WithOmissionRatio sets the fraction of the reference length below which a
// recitation is flagged as a significant omission. Values outside (0, 1]
// are ignored.
func WithOmissionRatio(r float64) Option {
	return func(a *Aligner) {
		if r > 0 && r <= 1 {
			a.omissionRatio = r
		}
	}
}

// WithConsecutiveErrorThreshold sets how many substitution errors in a row
// raise the consecutive-errors warning. Values below 1 are ignored.
func WithConsecutiveErrorThreshold(n int) Option {
	return func(a *Aligner) {
		if n >= 1 {
			a.consecutiveLimit = n
		}
	}
}

// New creates an Aligner with the given options applied over the defaults.
func New(opts ...Option) *Aligner {
	a := &Aligner{
		strictness:       StrictnessStandard,
		lookahead:        DefaultLookahead,
		omissionRatio:    DefaultOmissionRatio,
		consecutiveLimit: DefaultConsecutiveErrorThreshold,
	}
	WithFillerWords(DefaultFillerWords)(a)
	WithScripts(DefaultScripts)(a)
	for _, o := range opts {
		o(a)
	}
	return a
}

// ScriptTables resolves Unicode script names such as "Gurmukhi" to their
// range tables. It returns an error naming the first unknown script.
func ScriptTables(names []string) ([]*unicode.RangeTable, error) {
	tables := make([]*unicode.RangeTable, 0, len(names))
	for _, name := range names {
		tbl, ok := unicode.Scripts[name]
		if !ok {
			return tables, fmt.Errorf("align: unknown script %q", name)
		}
		tables = append(tables, tbl)
	}
	return tables, nil
}

// Strictness returns the aligner's matching strictness.
func (a *Aligner) Strictness() Strictness { return a.strictness }

var defaultAligner = New()

// Align compares recognized against reference using the default aligner.
func Align(recognized, reference string) types.AlignmentResult {
	return defaultAligner.Align(recognized, reference)
}

// Align compares the recognized transcript against the reference text.
//
// Both inputs are normalized and tokenized first. If either side has no
// words the result is empty. Otherwise every non-hesitation recited word
// yields exactly one entry in Words, and every reference word skipped by a
// lookahead repair yields a [types.MissedWord] entry. Errors reference
// entries of Words by index. Recited words past the end of the reference
// are reported as incorrect entries without a matching error, since there is
// no reference word they could stand for.
func (a *Aligner) Align(recognized, reference string) types.AlignmentResult {
	res := types.NewAlignmentResult()

	recited := a.Tokenize(recognized)
	ref := a.Tokenize(reference)
	if len(recited) == 0 || len(ref) == 0 {
		return res
	}

	var (
		cursor      int
		consecutive int
		maxConsec   int
		hesitated   bool
	)
	for _, w := range recited {
		if cursor >= len(ref) {
			res.Words = append(res.Words, types.AlignedWord{Text: w})
			continue
		}

		if a.isHesitation(w, ref, cursor) {
			hesitated = true
			continue
		}

		if a.isWordMatch(w, ref[cursor]) {
			res.Words = append(res.Words, types.AlignedWord{Text: w, IsCorrect: true})
			consecutive = 0
			cursor++
			continue
		}

		if skip := a.lookaheadMatch(w, ref, cursor); skip > 0 {
			for k := range skip {
				res.Errors = append(res.Errors, types.AlignmentError{
					Word:        types.MissedWord,
					CorrectWord: ref[cursor+k],
					Index:       len(res.Words),
				})
				res.Words = append(res.Words, types.AlignedWord{Text: types.MissedWord})
			}
			res.Words = append(res.Words, types.AlignedWord{Text: w, IsCorrect: true})
			cursor += skip + 1
			continue
		}

		res.Words = append(res.Words, types.AlignedWord{Text: w})
		res.Errors = append(res.Errors, types.AlignmentError{
			Word:        w,
			CorrectWord: ref[cursor],
			Index:       len(res.Words) - 1,
		})
		cursor++
		consecutive++
		maxConsec = max(maxConsec, consecutive)
	}

	if hesitated {
		res.Warnings = append(res.Warnings, types.Warning{
			Kind:        types.WarningHesitation,
			Title:       hesitationTitle,
			Description: hesitationDescription,
		})
	}
	if maxConsec >= a.consecutiveLimit {
		res.Warnings = append(res.Warnings, types.Warning{
			Kind:        types.WarningConsecutiveErrors,
			Title:       consecutiveTitle,
			Description: consecutiveDescription,
		})
	}
	if float64(len(recited)) < a.omissionRatio*float64(len(ref)) {
		res.Warnings = append(res.Warnings, types.Warning{
			Kind:        types.WarningOmission,
			Title:       omissionTitle,
			Description: omissionDescription,
		})
	}

	res.Feedback = DeriveFeedback(res.Errors, res.Warnings)
	return res
}

// isHesitation reports whether w is a filler word, or a repeat of the
// reference word just before the cursor that does not also match the word
// at the cursor.
func (a *Aligner) isHesitation(w string, ref []string, cursor int) bool {
	if _, ok := a.fillers[strings.ToLower(w)]; ok {
		return true
	}
	return cursor > 0 && w == ref[cursor-1] && !a.isWordMatch(w, ref[cursor])
}

// lookaheadMatch returns the smallest j in [1, lookahead] such that w
// matches ref[cursor+j], or 0 if there is none.
func (a *Aligner) lookaheadMatch(w string, ref []string, cursor int) int {
	for j := 1; j <= a.lookahead && cursor+j < len(ref); j++ {
		if a.isWordMatch(w, ref[cursor+j]) {
			return j
		}
	}
	return 0
}
