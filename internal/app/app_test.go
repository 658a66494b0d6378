package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/paath/internal/app"
	"github.com/MrWong99/paath/internal/config"
	"github.com/MrWong99/paath/pkg/provider/compare"
	"github.com/MrWong99/paath/pkg/provider/compare/mock"
	"github.com/MrWong99/paath/pkg/types"
)

// testConfig returns a validated config listening on a random local port.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ListenAddr = "127.0.0.1:0"
	return cfg
}

// startApp creates the App, runs it in the background and returns its base
// URL. The App is shut down when the test ends.
func startApp(t *testing.T, cfg *config.Config, opts ...app.Option) (*app.App, string) {
	t.Helper()
	a, err := app.New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Run() returned %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})
	return a, "http://" + a.Addr().String()
}

func getReady(t *testing.T, url string) (int, map[string]string) {
	t.Helper()
	resp, err := http.Get(url + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode /readyz: %v", err)
	}
	return resp.StatusCode, body.Checks
}

func TestNew_ServesAPI(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.MCP.Enabled = true
	_, url := startApp(t, cfg)

	status, checks := getReady(t, url)
	if status != http.StatusOK {
		t.Fatalf("/readyz status = %d, checks = %v", status, checks)
	}
	if checks["reference"] != "ok" {
		t.Errorf("reference check = %q, want ok", checks["reference"])
	}

	resp, err := http.Post(url+"/api/compare", "application/json",
		strings.NewReader(`{"recognizedText":"ਸਤਿ ਨਾਮੁ ਕਰਤਾ ਪੁਰਖੁ"}`))
	if err != nil {
		t.Fatalf("POST /api/compare: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/api/compare status = %d", resp.StatusCode)
	}
	var res types.AlignmentResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Words) == 0 {
		t.Error("expected aligned words for the built-in reference")
	}
}

func TestNew_RemoteFallsBackToLocal(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(upstream.Close)

	cfg := testConfig(t)
	cfg.Comparer.Primary = config.ComparerEntry{Name: "remote", BaseURL: upstream.URL, Timeout: time.Second}

	a, _ := startApp(t, cfg)

	if got, want := a.Fallback().Names(), []string{"remote", "local"}; !slices.Equal(got, want) {
		t.Fatalf("chain = %v, want %v", got, want)
	}

	res, err := a.Comparer().Compare(context.Background(), "ਸਤਿ ਨਾਮੁ", "ਸਤਿ ਨਾਮੁ")
	if err != nil {
		t.Fatalf("Compare() returned error: %v", err)
	}
	if len(res.Words) != 2 || !res.Words[0].IsCorrect || !res.Words[1].IsCorrect {
		t.Errorf("words = %+v, want two correct words", res.Words)
	}
}

func TestNew_LocalNotDuplicated(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Comparer.Primary = config.ComparerEntry{Name: "remote", BaseURL: "http://127.0.0.1:1"}
	cfg.Comparer.Fallbacks = []config.ComparerEntry{{Name: "local"}}

	a, _ := startApp(t, cfg)
	if got, want := a.Fallback().Names(), []string{"remote", "local"}; !slices.Equal(got, want) {
		t.Errorf("chain = %v, want %v", got, want)
	}
}

func TestNew_InjectedRegistry(t *testing.T) {
	t.Parallel()

	custom := &mock.Comparer{Result: types.AlignmentResult{
		Words:    []types.AlignedWord{{Text: "custom", IsCorrect: true}},
		Errors:   []types.AlignmentError{},
		Warnings: []types.Warning{},
		Feedback: []types.FeedbackItem{},
	}}
	reg := config.NewRegistry()
	reg.RegisterComparer("custom", func(config.ComparerEntry) (compare.Comparer, error) {
		return custom, nil
	})

	cfg := testConfig(t)
	cfg.Comparer.Primary = config.ComparerEntry{Name: "custom"}
	// An unknown fallback is skipped rather than failing startup.
	cfg.Comparer.Fallbacks = []config.ComparerEntry{{Name: "missing"}}

	a, _ := startApp(t, cfg, app.WithRegistry(reg))

	if got, want := a.Fallback().Names(), []string{"custom", "local"}; !slices.Equal(got, want) {
		t.Fatalf("chain = %v, want %v", got, want)
	}
	res, err := a.Comparer().Compare(context.Background(), "x", "y")
	if err != nil {
		t.Fatalf("Compare() returned error: %v", err)
	}
	if len(res.Words) != 1 || res.Words[0].Text != "custom" {
		t.Errorf("words = %+v, want the custom comparer's result", res.Words)
	}
	if custom.CallCount() != 1 {
		t.Errorf("custom comparer calls = %d, want 1", custom.CallCount())
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		primary config.ComparerEntry
		wantIs  error
	}{
		{name: "unknown primary", primary: config.ComparerEntry{Name: "bogus"}, wantIs: config.ErrComparerNotRegistered},
		{name: "remote without url", primary: config.ComparerEntry{Name: "remote"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig(t)
			cfg.Comparer.Primary = tt.primary

			_, err := app.New(context.Background(), cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
		})
	}
}

func TestNew_ListenError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Server.ListenAddr = "not-an-address"
	if _, err := app.New(context.Background(), cfg); err == nil {
		t.Fatal("expected listen error, got nil")
	}
}

func TestNew_WithBus(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1

	a, url := startApp(t, cfg)
	if a.Bridge() == nil {
		t.Fatal("Bridge() = nil with the bus enabled")
	}

	status, checks := getReady(t, url)
	if status != http.StatusOK {
		t.Fatalf("/readyz status = %d, checks = %v", status, checks)
	}
	if checks["bus"] != "ok" {
		t.Errorf("bus check = %q, want ok", checks["bus"])
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "ref.txt")
	if err := os.WriteFile(path, []byte("ਵਾਹਿਗੁਰੂ ਜੀ\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	next := *cfg
	next.Reference.Path = path
	a.ApplyConfig(cfg, &next)

	snap := a.Bridge().Snapshot()
	if snap.TotalWords != 2 {
		t.Errorf("bridge TotalWords = %d after reference reload, want 2", snap.TotalWords)
	}
}

func TestApplyConfig_ScriptsReparseBusReference(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "ref.txt")
	if err := os.WriteFile(path, []byte("ॐ ਸਤਿ ਨਾਮੁ ਕਰਤਾ\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t)
	cfg.Reference.Path = path
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1

	a, _ := startApp(t, cfg)
	if got := a.Bridge().Snapshot().TotalWords; got != 4 {
		t.Fatalf("TotalWords = %d, want 4 with the default scripts", got)
	}

	next := *cfg
	next.Aligner.Scripts = []string{"Gurmukhi"}
	a.ApplyConfig(cfg, &next)

	snap := a.Bridge().Snapshot()
	if snap.TotalWords != 3 {
		t.Fatalf("TotalWords = %d after dropping Devanagari, want 3", snap.TotalWords)
	}
	if first := snap.Paragraphs[0].Words[0].Text; first != "ਸਤਿ" {
		t.Errorf("first word = %q, want ਸਤਿ", first)
	}

	// The chain aligns against the same tokens the bridge now tracks.
	res, err := a.Comparer().Compare(context.Background(), "ਸਤਿ ਨਾਮੁ ਕਰਤਾ", "ॐ ਸਤਿ ਨਾਮੁ ਕਰਤਾ")
	if err != nil {
		t.Fatalf("Compare() returned error: %v", err)
	}
	if len(res.Words) != snap.TotalWords {
		t.Errorf("aligned words = %d, want %d", len(res.Words), snap.TotalWords)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var lv slog.LevelVar
	cfg := testConfig(t)
	a, _ := startApp(t, cfg, app.WithLevelVar(&lv))

	dir := t.TempDir()
	path := filepath.Join(dir, "ref.txt")
	if err := os.WriteFile(path, []byte("ਸਤਿ ਨਾਮੁ\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	strict := "strict"
	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Reference.Path = path
	next.Aligner.Strictness = strict

	a.ApplyConfig(cfg, &next)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", lv.Level())
	}
	if got := a.References().Get().Body; got != "ਸਤਿ ਨਾਮੁ" {
		t.Errorf("reference = %q, want the reloaded file", got)
	}

	// A missing file falls back to the built-in text.
	broken := next
	broken.Reference.Path = filepath.Join(dir, "missing.txt")
	a.ApplyConfig(&next, &broken)
	if got := a.References().Get().Source; got != "builtin" {
		t.Errorf("source = %q, want builtin", got)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() returned error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() returned error: %v", err)
	}
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
