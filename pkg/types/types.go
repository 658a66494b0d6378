// Package types defines the shared records used across all paath packages.
//
// These types form the lingua franca between the aligner, the recitation
// tracker, the comparison providers, and the transport layers (HTTP,
// WebSocket, NATS, MCP). Each package defines its own internal types, but
// anything that crosses a package or wire boundary lives here to avoid
// circular imports.
//
// JSON field names follow the established wire contract of the comparison
// service (camelCase, e.g. "isCorrect", "correctWord").
package types

import "fmt"

// WordStatus is the recitation state of a single reference word.
//
// A word starts PENDING, becomes CURRENT when the cursor reaches it, and is
// resolved to CORRECT or ERROR once an aligned transcript word is mapped onto
// it. Only an explicit restart moves a resolved word back to PENDING.
type WordStatus int

const (
	// StatusPending marks a word that has not been recited yet.
	StatusPending WordStatus = iota

	// StatusCurrent marks the cursor: the lowest-index word still awaiting
	// recitation. At most one word carries this status.
	StatusCurrent

	// StatusCorrect marks a word that was recited correctly.
	StatusCorrect

	// StatusError marks a word that was misrecited or skipped.
	StatusError
)

// String returns the lower-case wire name of the status.
func (s WordStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCurrent:
		return "current"
	case StatusCorrect:
		return "correct"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Resolved reports whether s is a terminal status (CORRECT or ERROR).
func (s WordStatus) Resolved() bool {
	return s == StatusCorrect || s == StatusError
}

// MarshalText implements [encoding.TextMarshaler].
func (s WordStatus) MarshalText() ([]byte, error) {
	if s < StatusPending || s > StatusError {
		return nil, fmt.Errorf("types: invalid word status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (s *WordStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatusPending
	case "current":
		*s = StatusCurrent
	case "correct":
		*s = StatusCorrect
	case "error":
		*s = StatusError
	default:
		return fmt.Errorf("types: unknown word status %q", text)
	}
	return nil
}

// Word is a single reference word with its recitation status. The text is
// immutable after the reference is parsed; only Status changes.
type Word struct {
	Text   string     `json:"text"`
	Status WordStatus `json:"status"`
}

// Paragraph is one line of the reference text, in reading order.
type Paragraph struct {
	Words []Word `json:"words"`
}

// Position addresses a word inside a reference text. It is a back-reference,
// valid only while the reference it was taken from is unchanged.
type Position struct {
	ParaIndex int `json:"paraIndex"`
	WordIndex int `json:"wordIndex"`
}

// AlignedWord is one entry of the aligner's output sequence.
type AlignedWord struct {
	// Text is the recited word, or [MissedWord] for a skipped reference word.
	Text string `json:"text"`

	// IsCorrect reports whether the word matched its reference counterpart.
	IsCorrect bool `json:"isCorrect"`
}

// MissedWord is the placeholder text emitted for reference words the reciter
// skipped.
const MissedWord = "(missed)"

// AlignmentError records a mismatch between a recited and a reference word.
type AlignmentError struct {
	// Word is the recited word, or [MissedWord] for a skipped reference word.
	Word string `json:"word"`

	// CorrectWord is the reference word expected at this position.
	CorrectWord string `json:"correctWord"`

	// Index is the position of the offending entry in AlignmentResult.Words.
	Index int `json:"index"`
}

// WarningKind classifies an aggregate alignment warning.
type WarningKind string

const (
	WarningHesitation        WarningKind = "hesitation"
	WarningConsecutiveErrors WarningKind = "consecutive_errors"
	WarningOmission          WarningKind = "omission"
)

// Warning is an aggregate observation about the whole recitation, as opposed
// to a single word.
type Warning struct {
	Kind        WarningKind `json:"kind,omitempty"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
}

// FeedbackType distinguishes word errors from aggregate warnings.
type FeedbackType string

const (
	FeedbackError   FeedbackType = "error"
	FeedbackWarning FeedbackType = "warning"
)

// FeedbackItem is a user-facing message derived from an alignment.
type FeedbackItem struct {
	Type        FeedbackType `json:"type"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
}

// AlignmentResult is the output of comparing a recognized transcript against
// a reference text. It is transient: recomputed from the full transcript on
// every processing pass and never persisted.
//
// All slices are non-nil so that the JSON encoding always carries arrays.
type AlignmentResult struct {
	Words    []AlignedWord    `json:"words"`
	Errors   []AlignmentError `json:"errors"`
	Warnings []Warning        `json:"warnings"`
	Feedback []FeedbackItem   `json:"feedback"`
}

// NewAlignmentResult returns an empty result with non-nil slices.
func NewAlignmentResult() AlignmentResult {
	return AlignmentResult{
		Words:    []AlignedWord{},
		Errors:   []AlignmentError{},
		Warnings: []Warning{},
		Feedback: []FeedbackItem{},
	}
}

// Snapshot is a read-only copy of a recitation session's state, handed to
// external consumers (WebSocket clients, bus subscribers). Mutating a
// Snapshot never affects the session it was taken from.
type Snapshot struct {
	SessionID string `json:"sessionId,omitempty"`

	Paragraphs []Paragraph `json:"paragraphs"`

	// Cursor is the position of the CURRENT word, or nil when every word has
	// been resolved.
	Cursor *Position `json:"cursor"`

	// Progress is floor(100 * ResolvedWords / TotalWords).
	Progress int `json:"progress"`

	TotalWords    int `json:"totalWords"`
	ResolvedWords int `json:"resolvedWords"`

	Feedback []FeedbackItem `json:"feedback"`
}

// CompareRequest is the body of a remote comparison call.
type CompareRequest struct {
	RecognizedText string `json:"recognizedText"`

	// ReferenceText may be empty, in which case the service compares against
	// its configured reference.
	ReferenceText string `json:"referenceText,omitempty"`
}
