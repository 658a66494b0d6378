// Package recitation tracks a reciter's progress through a reference text.
//
// A [Tracker] owns the reference text of one session, split into paragraphs
// and words, each word carrying a [types.WordStatus]. Every call to
// [Tracker.ProcessTranscript] hands the entire accumulated transcript to a
// [compare.Comparer] and maps the aligned words positionally onto the
// reference: the i-th aligned word resolves the i-th reference word. Since
// the full transcript is re-aligned on every call, processing the same
// transcript twice yields the same state.
//
// A Tracker performs no locking. Callers that may invoke it from several
// goroutines must serialize access themselves.
package recitation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/paath/internal/observe"
	"github.com/MrWong99/paath/pkg/provider/compare"
	"github.com/MrWong99/paath/pkg/provider/compare/local"
	"github.com/MrWong99/paath/pkg/types"
)

// Tracker is the recitation state machine of a single session.
type Tracker struct {
	text       string
	paragraphs []types.Paragraph
	reference  string
	total      int

	progress int
	feedback []types.FeedbackItem

	comparer     compare.Comparer
	normalizer   Normalizer
	normalizerFn func() Normalizer
	sessionID    string
	metrics      *observe.Metrics
	source       string
}

// Option is a functional option for [NewTracker].
type Option func(*Tracker)

// WithComparer sets the comparer used to align transcripts. Defaults to the
// in-process aligner.
func WithComparer(c compare.Comparer) Option {
	return func(t *Tracker) {
		if c != nil {
			t.comparer = c
		}
	}
}

// WithNormalizer sets the normalization used to drop punctuation-only tokens
// from the reference. It should match the comparer's aligner.
func WithNormalizer(n Normalizer) Option {
	return func(t *Tracker) {
		if n != nil {
			t.normalizer = n
		}
	}
}

// WithNormalizerFunc makes the tracker follow fn, typically the current
// aligner of a comparer whose aligner can be swapped at runtime. When fn
// yields a different normalizer, the reference is parsed again and the
// recitation restarts. It takes precedence over [WithNormalizer].
func WithNormalizerFunc(fn func() Normalizer) Option {
	return func(t *Tracker) { t.normalizerFn = fn }
}

// WithSessionID labels snapshots and log lines with id.
func WithSessionID(id string) Option {
	return func(t *Tracker) {
		t.sessionID = id
	}
}

// WithMetrics records alignment latency, word resolutions, restarts and
// progress on m, labelled with source (e.g. "websocket", "bus").
func WithMetrics(m *observe.Metrics, source string) Option {
	return func(t *Tracker) {
		t.metrics = m
		t.source = source
	}
}

// NewTracker creates a Tracker for the reference text and restarts it, so
// the first word is CURRENT.
func NewTracker(reference string, opts ...Option) *Tracker {
	t := &Tracker{
		comparer:   local.New(nil),
		normalizer: defaultNormalizer,
	}
	for _, o := range opts {
		o(t)
	}
	t.load(reference)
	t.restart()
	return t
}

func (t *Tracker) load(reference string) {
	if t.normalizerFn != nil {
		if n := t.normalizerFn(); n != nil {
			t.normalizer = n
		}
	}
	t.text = reference
	t.paragraphs = ParseReference(reference, t.normalizer)
	t.reference = Flatten(t.paragraphs)
	t.total = CountWords(t.paragraphs)
}

// ProcessTranscript aligns the full transcript against the reference and
// updates word statuses, cursor, progress and feedback.
//
// A blank transcript is a no-op. If the comparer fails, the state is left
// untouched and the error is returned.
func (t *Tracker) ProcessTranscript(ctx context.Context, transcript string) error {
	t.Refresh()
	if strings.TrimSpace(transcript) == "" || t.total == 0 {
		return nil
	}

	if t.sessionID != "" && observe.SessionID(ctx) == "" {
		ctx = observe.WithSessionID(ctx, t.sessionID)
	}
	ctx, span := observe.StartSpan(ctx, "recitation.process")
	defer span.End()

	start := time.Now()
	res, err := t.comparer.Compare(ctx, transcript, t.reference)
	if t.metrics != nil {
		t.metrics.AlignmentDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("source", t.source)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compare failed")
		return fmt.Errorf("recitation: compare: %w", err)
	}

	correct, errored := t.apply(res)

	if t.metrics != nil {
		t.metrics.RecordWordsResolved(ctx, correct, errored)
		t.metrics.RecordProgress(ctx, t.source, t.progress)
	}
	observe.Logger(ctx).Debug("transcript processed",
		"aligned_words", len(res.Words),
		"progress", t.progress,
		"feedback", len(t.feedback),
	)
	return nil
}

// apply maps res positionally onto the reference. It returns how many words
// became CORRECT or ERROR that were not resolved before.
func (t *Tracker) apply(res types.AlignmentResult) (newCorrect, newErrors int) {
	n := min(len(res.Words), t.total)
	i := 0
	for p := range t.paragraphs {
		words := t.paragraphs[p].Words
		for w := range words {
			if words[w].Status == types.StatusCurrent {
				words[w].Status = types.StatusPending
			}
			if i < n {
				status := types.StatusError
				if res.Words[i].IsCorrect {
					status = types.StatusCorrect
				}
				if !words[w].Status.Resolved() {
					if status == types.StatusCorrect {
						newCorrect++
					} else {
						newErrors++
					}
				}
				words[w].Status = status
			}
			i++
		}
	}
	t.seedCursor()
	t.progress = t.computeProgress()
	t.feedback = append(make([]types.FeedbackItem, 0, len(res.Feedback)), res.Feedback...)
	return newCorrect, newErrors
}

// seedCursor marks the first PENDING word CURRENT.
func (t *Tracker) seedCursor() {
	for p := range t.paragraphs {
		for w := range t.paragraphs[p].Words {
			if t.paragraphs[p].Words[w].Status == types.StatusPending {
				t.paragraphs[p].Words[w].Status = types.StatusCurrent
				return
			}
		}
	}
}

func (t *Tracker) computeProgress() int {
	if t.total == 0 {
		return 0
	}
	return 100 * t.ResolvedWords() / t.total
}

// Restart resets every word to PENDING, makes the first word CURRENT,
// zeroes the progress and clears the feedback.
func (t *Tracker) Restart() {
	t.restart()
	if t.metrics != nil {
		ctx := context.Background()
		t.metrics.Restarts.Add(ctx, 1, metric.WithAttributes(attribute.String("source", t.source)))
		t.metrics.RecordProgress(ctx, t.source, 0)
	}
}

func (t *Tracker) restart() {
	for p := range t.paragraphs {
		for w := range t.paragraphs[p].Words {
			t.paragraphs[p].Words[w].Status = types.StatusPending
		}
	}
	t.seedCursor()
	t.progress = 0
	t.feedback = []types.FeedbackItem{}
}

// Refresh parses the reference again when the normalizer function set with
// [WithNormalizerFunc] now yields a different normalizer, so that reference
// words keep matching the comparer's tokens one to one. Word statuses are
// reset in that case. It reports whether the reference was parsed again.
func (t *Tracker) Refresh() bool {
	if t.normalizerFn == nil {
		return false
	}
	n := t.normalizerFn()
	if n == nil || n == t.normalizer {
		return false
	}
	t.load(t.text)
	t.restart()
	return true
}

// Reset replaces the reference text and restarts the session.
func (t *Tracker) Reset(reference string) {
	t.load(reference)
	t.Restart()
}

// Paragraphs returns a copy of the reference with current word statuses.
func (t *Tracker) Paragraphs() []types.Paragraph {
	return cloneParagraphs(t.paragraphs)
}

// Cursor returns the position of the CURRENT word. ok is false once every
// word has been resolved.
func (t *Tracker) Cursor() (pos types.Position, ok bool) {
	for p, para := range t.paragraphs {
		for w, word := range para.Words {
			if word.Status == types.StatusCurrent {
				return types.Position{ParaIndex: p, WordIndex: w}, true
			}
		}
	}
	return types.Position{}, false
}

// Progress returns floor(100 * resolved / total), or 0 for an empty
// reference.
func (t *Tracker) Progress() int { return t.progress }

// Feedback returns a copy of the feedback of the last processing pass.
func (t *Tracker) Feedback() []types.FeedbackItem {
	return append(make([]types.FeedbackItem, 0, len(t.feedback)), t.feedback...)
}

// TotalWords returns the number of reference words.
func (t *Tracker) TotalWords() int { return t.total }

// ResolvedWords returns the number of CORRECT or ERROR words.
func (t *Tracker) ResolvedWords() int {
	n := 0
	for _, p := range t.paragraphs {
		for _, w := range p.Words {
			if w.Status.Resolved() {
				n++
			}
		}
	}
	return n
}

// Reference returns the flattened reference text passed to the comparer.
func (t *Tracker) Reference() string { return t.reference }

// SessionID returns the session label set with [WithSessionID].
func (t *Tracker) SessionID() string { return t.sessionID }

// Snapshot returns a deep copy of the session state.
func (t *Tracker) Snapshot() types.Snapshot {
	s := types.Snapshot{
		SessionID:     t.sessionID,
		Paragraphs:    t.Paragraphs(),
		Progress:      t.progress,
		TotalWords:    t.total,
		ResolvedWords: t.ResolvedWords(),
		Feedback:      t.Feedback(),
	}
	if pos, ok := t.Cursor(); ok {
		s.Cursor = &pos
	}
	return s
}
