// Package history keeps a record of finished recitations. Records are
// stored as append-only JSON lines in a local file, one line per session or
// restart, so the log can be tailed or loaded with any JSON tool.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/paath/pkg/types"
)

// Recorder stores recitation summaries. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Compile-time interface check.
var _ Recorder = (*FileStore)(nil)

// Record summarises one recitation attempt.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id,omitempty"`

	// Source names the surface that drove the recitation: "websocket" or
	// "bus".
	Source string `json:"source"`

	// Reference names where the reference text came from.
	Reference string `json:"reference,omitempty"`

	TotalWords   int `json:"total_words"`
	CorrectWords int `json:"correct_words"`
	ErrorWords   int `json:"error_words"`
	Progress     int `json:"progress"`

	Feedback []types.FeedbackItem `json:"feedback,omitempty"`
}

// Empty reports whether nothing was recited. Such records are not worth
// storing.
func (r Record) Empty() bool {
	return r.CorrectWords == 0 && r.ErrorWords == 0
}

// FromSnapshot builds a record from a tracker snapshot.
func FromSnapshot(source, reference string, snap types.Snapshot) Record {
	rec := Record{
		Timestamp:  time.Now().UTC(),
		SessionID:  snap.SessionID,
		Source:     source,
		Reference:  reference,
		TotalWords: snap.TotalWords,
		Progress:   snap.Progress,
		Feedback:   snap.Feedback,
	}
	for _, p := range snap.Paragraphs {
		for _, w := range p.Words {
			switch w.Status {
			case types.StatusCorrect:
				rec.CorrectWords++
			case types.StatusError:
				rec.ErrorWords++
			}
		}
	}
	return rec
}

// FileStore persists records as JSON lines in a local file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on the first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file the store appends to.
func (fs *FileStore) Path() string { return fs.path }

// Record appends rec to the file. Empty records are skipped.
func (fs *FileStore) Record(_ context.Context, rec Record) error {
	if rec.Empty() {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}
