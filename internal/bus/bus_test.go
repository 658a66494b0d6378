package bus_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/paath/internal/align"
	"github.com/MrWong99/paath/internal/bus"
	"github.com/MrWong99/paath/internal/config"
	"github.com/MrWong99/paath/internal/history"
	"github.com/MrWong99/paath/internal/observe"
	"github.com/MrWong99/paath/internal/recitation"
	"github.com/MrWong99/paath/pkg/provider/compare/local"
	"github.com/MrWong99/paath/pkg/provider/compare/mock"
	"github.com/MrWong99/paath/pkg/types"
)

const testRef = "ੴ ਸਤਿ ਨਾਮੁ\nਕਰਤਾ ਪੁਰਖੁ ॥"

func testBusConfig() config.BusConfig {
	cfg := config.Default().Bus
	cfg.Enabled = true
	cfg.Embedded = true
	cfg.Port = -1
	return cfg
}

type harness struct {
	cfg      config.BusConfig
	client   *bus.Client
	bridge   *bus.Bridge
	progress chan types.Snapshot
}

func newHarness(t *testing.T, cfg config.BusConfig, opts ...recitation.Option) *harness {
	t.Helper()
	return newHarnessWith(t, cfg, nil, opts...)
}

func newHarnessWith(t *testing.T, cfg config.BusConfig, bridgeOpts []bus.BridgeOption, opts ...recitation.Option) *harness {
	t.Helper()
	srv, err := bus.StartEmbedded(cfg, nil)
	if err != nil {
		t.Fatalf("StartEmbedded: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(srv.ClientURL(), cfg, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(client.Close)

	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader())))
	if err != nil {
		t.Fatal(err)
	}
	tracker := recitation.NewTracker(testRef, opts...)
	bridgeOpts = append([]bus.BridgeOption{bus.WithBridgeMetrics(m)}, bridgeOpts...)
	bridge := bus.NewBridge(client.Conn(), tracker, cfg, true, bridgeOpts...)

	progress := make(chan types.Snapshot, 16)
	sub, err := client.Conn().Subscribe(cfg.ProgressSubject, func(msg *nats.Msg) {
		var s types.Snapshot
		if err := json.Unmarshal(msg.Data, &s); err == nil {
			progress <- s
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })

	if err := bridge.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(bridge.Stop)
	return &harness{cfg: cfg, client: client, bridge: bridge, progress: progress}
}

func (h *harness) publish(t *testing.T, subject string, tr bus.Transcript) {
	t.Helper()
	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.client.Conn().Publish(subject, data); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func (h *harness) next(t *testing.T) types.Snapshot {
	t.Helper()
	select {
	case s := <-h.progress:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("no progress snapshot received")
		return types.Snapshot{}
	}
}

func (h *harness) expectNone(t *testing.T) {
	t.Helper()
	select {
	case s := <-h.progress:
		t.Fatalf("unexpected snapshot %+v", s)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBridge_FinalAndPartialTranscripts(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testBusConfig())

	h.publish(t, "stt.text.partial", bus.Transcript{SessionID: "s1", Text: "ੴ ਸਤਿ", Partial: true})
	s := h.next(t)
	if s.ResolvedWords != 2 || s.Progress != 40 {
		t.Errorf("after partial: resolved %d progress %d", s.ResolvedWords, s.Progress)
	}

	h.publish(t, "stt.text.final", bus.Transcript{SessionID: "s1", Text: "ੴ ਸਤਿ ਨਾਮੁ"})
	s = h.next(t)
	if s.ResolvedWords != 3 {
		t.Errorf("after final: resolved %d", s.ResolvedWords)
	}

	h.publish(t, "stt.text.final", bus.Transcript{SessionID: "s1", Text: "ਕਰਤਾ ਪੁਰਖੁ"})
	s = h.next(t)
	if s.Progress != 100 || s.Cursor != nil {
		t.Errorf("after completion: progress %d cursor %v", s.Progress, s.Cursor)
	}
	if got := h.bridge.Snapshot(); got.Progress != 100 {
		t.Errorf("Snapshot().Progress = %d", got.Progress)
	}
}

func TestBridge_PartialSubjectWithoutFlag(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testBusConfig())

	h.publish(t, "stt.text.partial", bus.Transcript{Text: "ੴ"})
	h.next(t)
	// A final replaces the partial rather than appending to it.
	h.publish(t, "stt.text.final", bus.Transcript{Text: "ੴ ਸਤਿ"})
	if s := h.next(t); s.ResolvedWords != 2 {
		t.Errorf("resolved %d, want 2", s.ResolvedWords)
	}
}

func TestBridge_SessionFilter(t *testing.T) {
	t.Parallel()
	cfg := testBusConfig()
	cfg.SessionID = "mine"
	h := newHarness(t, cfg)

	h.publish(t, "stt.text.final", bus.Transcript{SessionID: "other", Text: "ੴ ਸਤਿ"})
	h.expectNone(t)

	h.publish(t, "stt.text.final", bus.Transcript{SessionID: "mine", Text: "ੴ"})
	if s := h.next(t); s.ResolvedWords != 1 {
		t.Errorf("resolved %d, want 1", s.ResolvedWords)
	}
}

func TestBridge_InvalidPayloadIsDropped(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testBusConfig())

	if err := h.client.Conn().Publish("stt.text.final", []byte("not json")); err != nil {
		t.Fatal(err)
	}
	h.expectNone(t)
}

func TestBridge_Restart(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testBusConfig())

	h.publish(t, "stt.text.final", bus.Transcript{Text: "ੴ ਸਤਿ ਨਾਮੁ"})
	h.next(t)

	if err := h.client.Conn().Publish(h.cfg.RestartSubject, nil); err != nil {
		t.Fatal(err)
	}
	s := h.next(t)
	if s.Progress != 0 || s.ResolvedWords != 0 {
		t.Errorf("after restart: %+v", s)
	}
	if s.Cursor == nil || *s.Cursor != (types.Position{}) {
		t.Errorf("cursor = %v", s.Cursor)
	}
}

func TestBridge_SetReference(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testBusConfig())

	h.bridge.SetReference("ਵਾਹਿਗੁਰੂ ਜੀ", "test")
	s := h.next(t)
	if s.TotalWords != 2 || s.Progress != 0 {
		t.Errorf("after SetReference: %+v", s)
	}
}

func TestBridge_RealtimeOff(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testBusConfig())
	h.bridge.SetRealtime(false)

	h.publish(t, "stt.text.partial", bus.Transcript{Text: "ੴ ਸਤਿ", Partial: true})
	h.expectNone(t)
}

func TestBridge_ComparerErrorPublishesNothing(t *testing.T) {
	t.Parallel()
	c := &mock.Comparer{Err: errors.New("down")}
	h := newHarness(t, testBusConfig(), recitation.WithComparer(c))

	h.publish(t, "stt.text.final", bus.Transcript{Text: "ੴ"})
	h.expectNone(t)
	if c.CallCount() != 1 {
		t.Errorf("comparer calls = %d", c.CallCount())
	}
}

func TestBridge_StartTwice(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testBusConfig())
	if err := h.bridge.Start(); err == nil {
		t.Error("second Start should fail")
	}
}

func TestClient_Check(t *testing.T) {
	t.Parallel()
	cfg := testBusConfig()
	srv, err := bus.StartEmbedded(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown()

	client, err := bus.Connect(srv.ClientURL(), cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Check(context.Background()); err != nil {
		t.Errorf("Check on live connection: %v", err)
	}
	client.Close()

	deadline := time.Now().Add(2 * time.Second)
	for client.Check(context.Background()) == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !errors.Is(client.Check(context.Background()), bus.ErrNotConnected) {
		t.Error("Check after Close should report ErrNotConnected")
	}
}

func TestConnect_NoServers(t *testing.T) {
	t.Parallel()
	if _, err := bus.Connect("", config.BusConfig{}, nil); err == nil {
		t.Error("expected error for empty url")
	}
}

type memHistory struct {
	mu      sync.Mutex
	records []history.Record
}

func (m *memHistory) Record(_ context.Context, rec history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memHistory) all() []history.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]history.Record(nil), m.records...)
}

func TestBridge_RecordsHistoryOnRestart(t *testing.T) {
	t.Parallel()
	mem := &memHistory{}
	h := newHarnessWith(t, testBusConfig(), []bus.BridgeOption{
		bus.WithBridgeHistory(mem),
		bus.WithBridgeReferenceSource("builtin"),
	})

	h.publish(t, "stt.text.final", bus.Transcript{SessionID: "s1", Text: "ੴ ਸਤਿ"})
	h.next(t)

	if err := h.client.Conn().Publish(h.cfg.RestartSubject, nil); err != nil {
		t.Fatal(err)
	}
	h.next(t)

	recs := mem.all()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Source != "bus" || recs[0].Reference != "builtin" || recs[0].CorrectWords != 2 || recs[0].TotalWords != 5 {
		t.Errorf("record = %+v", recs[0])
	}

	h.bridge.SetReference("ਵਾਹਿਗੁਰੂ ਜੀ", "/srv/ref.txt")
	h.next(t)
	h.publish(t, "stt.text.final", bus.Transcript{SessionID: "s1", Text: "ਵਾਹਿਗੁਰੂ"})
	h.next(t)
	if err := h.client.Conn().Publish(h.cfg.RestartSubject, nil); err != nil {
		t.Fatal(err)
	}
	h.next(t)

	// SetReference offers the already restarted attempt, then the restart
	// records the attempt on the new reference.
	recs = mem.all()
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	if last := recs[2]; last.Reference != "/srv/ref.txt" || last.CorrectWords != 1 || last.TotalWords != 2 {
		t.Errorf("record after SetReference = %+v", last)
	}
}

func TestBridge_RefreshFollowsAligner(t *testing.T) {
	t.Parallel()
	lc := local.New(align.New())
	h := newHarness(t, testBusConfig(),
		recitation.WithComparer(lc),
		recitation.WithNormalizerFunc(func() recitation.Normalizer { return lc.Aligner() }),
	)

	h.bridge.SetReference("ॐ ਸਤਿ ਨਾਮੁ ਕਰਤਾ", "test")
	if s := h.next(t); s.TotalWords != 4 {
		t.Fatalf("TotalWords = %d, want 4", s.TotalWords)
	}
	h.publish(t, "stt.text.final", bus.Transcript{Text: "ਸਤਿ ਨਾਮੁ"})
	h.next(t)

	// Unchanged aligner: nothing to publish.
	h.bridge.Refresh()
	h.expectNone(t)

	lc.SetAligner(align.New(align.WithScripts([]string{"Gurmukhi"})))
	h.bridge.Refresh()
	s := h.next(t)
	if s.TotalWords != 3 || s.ResolvedWords != 2 {
		t.Fatalf("after refresh: total %d resolved %d, want 3 and 2", s.TotalWords, s.ResolvedWords)
	}
	if s.Cursor == nil || *s.Cursor != (types.Position{WordIndex: 2}) {
		t.Errorf("cursor = %v, want word 2", s.Cursor)
	}
}
