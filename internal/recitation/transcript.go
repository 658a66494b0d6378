package recitation

import "strings"

// TranscriptBuffer accumulates speech recognizer output into the full
// transcript a [Tracker] expects. Final hypotheses are kept in order; the
// latest interim hypothesis is appended after them until the next final
// replaces it.
//
// With realtime feedback disabled, interim hypotheses are ignored so the
// tracker only advances on committed text.
//
// A TranscriptBuffer is not safe for concurrent use.
type TranscriptBuffer struct {
	finals   []string
	partial  string
	realtime bool
}

// NewTranscriptBuffer returns an empty buffer.
func NewTranscriptBuffer(realtime bool) *TranscriptBuffer {
	return &TranscriptBuffer{realtime: realtime}
}

// AddPartial replaces the pending interim hypothesis. It reports whether the
// transcript changed.
func (b *TranscriptBuffer) AddPartial(text string) bool {
	if !b.realtime {
		return false
	}
	text = strings.TrimSpace(text)
	if text == b.partial {
		return false
	}
	b.partial = text
	return true
}

// AddFinal commits text and drops the pending interim hypothesis. It reports
// whether the transcript changed.
func (b *TranscriptBuffer) AddFinal(text string) bool {
	text = strings.TrimSpace(text)
	hadPartial := b.partial != ""
	b.partial = ""
	if text == "" {
		return hadPartial
	}
	b.finals = append(b.finals, text)
	return true
}

// Set replaces the whole transcript, for producers that already send the
// accumulated text.
func (b *TranscriptBuffer) Set(text string) {
	b.partial = ""
	b.finals = b.finals[:0]
	if text = strings.TrimSpace(text); text != "" {
		b.finals = append(b.finals, text)
	}
}

// SetRealtime toggles whether interim hypotheses are used. Disabling it
// drops the pending one.
func (b *TranscriptBuffer) SetRealtime(on bool) {
	b.realtime = on
	if !on {
		b.partial = ""
	}
}

// Text returns the full transcript.
func (b *TranscriptBuffer) Text() string {
	parts := b.finals
	if b.partial != "" {
		parts = append(parts[:len(parts):len(parts)], b.partial)
	}
	return strings.Join(parts, " ")
}

// Reset clears the buffer.
func (b *TranscriptBuffer) Reset() {
	b.finals = nil
	b.partial = ""
}
