package config_test

import (
	"testing"

	"github.com/MrWong99/paath/internal/config"
)

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Aligner: config.AlignerConfig{Strictness: "standard", Lookahead: intPtr(3), Scripts: []string{"Gurmukhi"}},
	}
	other := &config.Config{
		Server:  config.ServerConfig{LogLevel: config.LogInfo},
		Aligner: config.AlignerConfig{Strictness: "standard", Lookahead: intPtr(3), Scripts: []string{"Gurmukhi"}},
	}
	d := config.Diff(cfg, other)
	if d.Changed() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	new := &config.Config{Server: config.ServerConfig{LogLevel: config.LogDebug}}

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
	if d.AlignerChanged || d.RealtimeChanged || d.ReferenceChanged {
		t.Errorf("unexpected extra changes: %+v", d)
	}
}

func TestDiff_AlignerChanged(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		old, new config.AlignerConfig
	}{
		{"strictness", config.AlignerConfig{Strictness: "standard"}, config.AlignerConfig{Strictness: "strict"}},
		{"lookahead set", config.AlignerConfig{}, config.AlignerConfig{Lookahead: intPtr(0)}},
		{"lookahead value", config.AlignerConfig{Lookahead: intPtr(3)}, config.AlignerConfig{Lookahead: intPtr(5)}},
		{"fillers", config.AlignerConfig{FillerWords: []string{"uh"}}, config.AlignerConfig{FillerWords: []string{"uh", "um"}}},
		{"scripts", config.AlignerConfig{Scripts: []string{"Gurmukhi"}}, config.AlignerConfig{Scripts: []string{"Devanagari"}}},
		{"omission ratio", config.AlignerConfig{OmissionRatio: 0.8}, config.AlignerConfig{OmissionRatio: 0.7}},
		{"error threshold", config.AlignerConfig{ConsecutiveErrorThreshold: 3}, config.AlignerConfig{ConsecutiveErrorThreshold: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := config.Diff(&config.Config{Aligner: tt.old}, &config.Config{Aligner: tt.new})
			if !d.AlignerChanged {
				t.Error("expected AlignerChanged=true")
			}
		})
	}
}

func TestDiff_RealtimeChanged(t *testing.T) {
	t.Parallel()
	old := &config.Config{}
	new := &config.Config{Recitation: config.RecitationConfig{RealtimeFeedback: boolPtr(false)}}

	d := config.Diff(old, new)
	if !d.RealtimeChanged || d.NewRealtime {
		t.Errorf("expected realtime switched off, got %+v", d)
	}

	// nil and explicit true are the same effective value.
	d = config.Diff(old, &config.Config{Recitation: config.RecitationConfig{RealtimeFeedback: boolPtr(true)}})
	if d.RealtimeChanged {
		t.Error("nil and true should not differ")
	}
}

func TestDiff_ReferenceChanged(t *testing.T) {
	t.Parallel()
	d := config.Diff(
		&config.Config{Reference: config.ReferenceConfig{Path: "a.txt"}},
		&config.Config{Reference: config.ReferenceConfig{Path: "b.txt"}},
	)
	if !d.ReferenceChanged || !d.Changed() {
		t.Errorf("expected reference change, got %+v", d)
	}
}
