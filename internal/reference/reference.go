// Package reference supplies the reference text recitations are compared
// against. The text is read from a UTF-8 file with one paragraph per line;
// a built-in text is used when no file is configured or the file cannot be
// read.
package reference

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

//go:embed builtin.txt
var builtin string

// BuiltinSource is the Source reported for the embedded text.
const BuiltinSource = "builtin"

// ErrEmpty is returned when a reference file contains no text.
var ErrEmpty = errors.New("reference: empty text")

// Text is an immutable reference text and where it came from.
type Text struct {
	Body   string
	Source string
}

// Builtin returns the embedded reference text.
func Builtin() Text {
	return Text{Body: strings.TrimSpace(builtin), Source: BuiltinSource}
}

// ReadFile reads and validates the reference file at path.
func ReadFile(path string) (Text, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Text{}, fmt.Errorf("reference: read %q: %w", path, err)
	}
	if !utf8.Valid(data) {
		return Text{}, fmt.Errorf("reference: %q is not valid UTF-8", path)
	}
	body := strings.TrimSpace(strings.TrimPrefix(string(data), "\ufeff"))
	if body == "" {
		return Text{}, fmt.Errorf("%w: %q", ErrEmpty, path)
	}
	return Text{Body: body, Source: path}, nil
}

// Load returns the text at path, or the built-in text when path is empty or
// unusable. A failed read is logged and reported in the returned error while
// the built-in text is still returned.
func Load(path string) (Text, error) {
	if path == "" {
		return Builtin(), nil
	}
	t, err := ReadFile(path)
	if err != nil {
		slog.Warn("reference: falling back to built-in text", "path", path, "err", err)
		return Builtin(), err
	}
	return t, nil
}

// Store holds the active reference text and allows it to be swapped on
// config reload. It is safe for concurrent use.
type Store struct {
	cur atomic.Pointer[Text]
}

// NewStore returns a store holding t.
func NewStore(t Text) *Store {
	s := &Store{}
	s.cur.Store(&t)
	return s
}

// Get returns the active text.
func (s *Store) Get() Text {
	return *s.cur.Load()
}

// Set replaces the active text.
func (s *Store) Set(t Text) {
	s.cur.Store(&t)
}

// Reload loads path and makes the result active. On read failure the store
// falls back to the built-in text and the error is returned.
func (s *Store) Reload(path string) error {
	t, err := Load(path)
	s.Set(t)
	return err
}

// Check reports whether the active text is non-empty. It has the shape of a
// readiness probe.
func (s *Store) Check() error {
	if s.Get().Body == "" {
		return ErrEmpty
	}
	return nil
}
