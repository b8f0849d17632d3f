package replica

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/easycab/dispatch/core/model"
	"github.com/easycab/dispatch/core/registry"
	"github.com/easycab/dispatch/core/snapshot"
	"github.com/easycab/dispatch/internal/eventbus"
)

type capturePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (p *capturePublisher) Publish(_ string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, append([]byte(nil), payload...))
	return nil
}

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	return Config{
		IntervalS:  1,
		ReportPath: filepath.Join(dir, "interaccion.txt"),
		StatePath:  filepath.Join(dir, "interaccion.json"),
	}
}

func seeded(t *testing.T) (*registry.Registry, *registry.Counters) {
	t.Helper()
	reg := registry.New(model.Grid{N: 50, M: 50}, nil, nil)
	counters := registry.NewCounters()
	if _, err := reg.UpsertPosition(1, model.Position{X: 2, Y: 2}); err != nil {
		t.Fatalf("register: %v", err)
	}
	counters.IncAccepted()
	return reg, counters
}

func TestWriteSnapshotPersistsAndPublishes(t *testing.T) {
	reg, counters := seeded(t)
	pub := &capturePublisher{}
	cfg := testConfig(t)
	r := New(cfg, reg, counters, pub, nil, nil)

	st := r.WriteSnapshot()
	if st.Seq != 1 {
		t.Fatalf("seq %d", st.Seq)
	}

	report, err := os.ReadFile(cfg.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(report), "Taxi 1") {
		t.Fatalf("report missing taxi:\n%s", report)
	}

	data, err := os.ReadFile(cfg.StatePath)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	decoded, err := snapshot.Decode(data)
	if err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if decoded.Seq != 1 || len(decoded.Taxis) != 1 || decoded.AcceptedServices != 1 {
		t.Fatalf("state %+v", decoded)
	}

	if len(pub.payloads) != 1 {
		t.Fatalf("published %d snapshots", len(pub.payloads))
	}
	feed, err := snapshot.Decode(pub.payloads[0])
	if err != nil {
		t.Fatalf("decode feed payload: %v", err)
	}
	if feed.Seq != 1 {
		t.Fatalf("feed seq %d", feed.Seq)
	}
}

func TestWriteSnapshotSequenceIncreases(t *testing.T) {
	reg, counters := seeded(t)
	r := New(testConfig(t), reg, counters, &capturePublisher{}, nil, nil)
	if st := r.WriteSnapshot(); st.Seq != 1 {
		t.Fatalf("first seq %d", st.Seq)
	}
	if st := r.WriteSnapshot(); st.Seq != 2 {
		t.Fatalf("second seq %d", st.Seq)
	}
}

func TestLoadStateRestoresAtBoot(t *testing.T) {
	cfg := testConfig(t)
	reg, counters := seeded(t)
	r := New(cfg, reg, counters, &capturePublisher{}, nil, nil)
	r.WriteSnapshot()

	reg2 := registry.New(model.Grid{N: 50, M: 50}, nil, nil)
	counters2 := registry.NewCounters()
	r2 := New(cfg, reg2, counters2, &capturePublisher{}, nil, nil)
	if err := r2.LoadState(); err != nil {
		t.Fatalf("load state: %v", err)
	}
	if registered, _ := reg2.Stats(); registered != 1 {
		t.Fatalf("restored %d taxis", registered)
	}
	if accepted, _ := counters2.Totals(); accepted != 1 {
		t.Fatalf("restored accepted counter %d", accepted)
	}
	// A later snapshot must continue the sequence, not restart it.
	if st := r2.WriteSnapshot(); st.Seq != 2 {
		t.Fatalf("seq after restore %d", st.Seq)
	}
}

func TestLoadStateMissingFileIsFine(t *testing.T) {
	reg, counters := seeded(t)
	r := New(testConfig(t), reg, counters, nil, nil, nil)
	if err := r.LoadState(); err != nil {
		t.Fatalf("missing snapshot must not fail boot: %v", err)
	}
}

func TestHandleSyncAppliesNewerSnapshot(t *testing.T) {
	primaryReg, primaryCounters := seeded(t)
	primary := New(testConfig(t), primaryReg, primaryCounters, &capturePublisher{}, nil, nil)
	st := primary.WriteSnapshot()
	data, err := st.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	bus := eventbus.New()
	defer bus.Close()
	standbyReg := registry.New(model.Grid{N: 50, M: 50}, nil, nil)
	standbyCounters := registry.NewCounters()
	standby := New(testConfig(t), standbyReg, standbyCounters, nil, bus, nil)
	ch := bus.Subscribe()

	standby.handleSync(standby.cfg.SyncTopic, data)

	if registered, _ := standbyReg.Stats(); registered != 1 {
		t.Fatalf("standby did not absorb the snapshot")
	}
	ev := <-ch
	restored, ok := ev.(eventbus.StateRestored)
	if !ok || restored.Seq != st.Seq {
		t.Fatalf("expected StateRestored{%d}, got %#v", st.Seq, ev)
	}
}

func TestHandleSyncDropsStaleAndMalformed(t *testing.T) {
	primaryReg, primaryCounters := seeded(t)
	primary := New(testConfig(t), primaryReg, primaryCounters, &capturePublisher{}, nil, nil)
	primary.WriteSnapshot()
	newer := primary.WriteSnapshot()
	newerData, err := newer.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	standbyReg := registry.New(model.Grid{N: 50, M: 50}, nil, nil)
	standbyCounters := registry.NewCounters()
	standby := New(testConfig(t), standbyReg, standbyCounters, nil, nil, nil)
	standby.handleSync(standby.cfg.SyncTopic, newerData)

	// An older snapshot with different contents must be ignored.
	stale := snapshot.State{Seq: 1}
	staleData, err := stale.Encode()
	if err != nil {
		t.Fatalf("encode stale: %v", err)
	}
	standby.handleSync(standby.cfg.SyncTopic, staleData)
	if registered, _ := standbyReg.Stats(); registered != 1 {
		t.Fatalf("stale snapshot replaced the state")
	}

	standby.handleSync(standby.cfg.SyncTopic, []byte("{not json"))
	if registered, _ := standbyReg.Stats(); registered != 1 {
		t.Fatalf("malformed snapshot replaced the state")
	}
}

func TestStandbyTickerDoesNotStaleOutTheFeed(t *testing.T) {
	standbyReg := registry.New(model.Grid{N: 50, M: 50}, nil, nil)
	standbyCounters := registry.NewCounters()
	standby := New(testConfig(t), standbyReg, standbyCounters, nil, nil, nil)

	// The standby's own periodic writes fire before the primary's feed
	// arrives. They must not advance the sequence it judges the feed by.
	for i := 0; i < 3; i++ {
		if st := standby.WriteSnapshot(); st.Seq != 0 {
			t.Fatalf("standby minted sequence %d", st.Seq)
		}
	}

	primaryReg, primaryCounters := seeded(t)
	primary := New(testConfig(t), primaryReg, primaryCounters, &capturePublisher{}, nil, nil)
	st := primary.WriteSnapshot()
	data, err := st.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	standby.handleSync(standby.cfg.SyncTopic, data)
	if registered, _ := standbyReg.Stats(); registered != 1 {
		t.Fatalf("standby dropped the primary's first snapshot as stale")
	}
	// The standby's artifacts now carry the absorbed sequence.
	if st := standby.WriteSnapshot(); st.Seq != 1 {
		t.Fatalf("standby artifact seq %d after absorbing 1", st.Seq)
	}
}

func TestReportWriteFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	// A directory at the report path makes the atomic swap fail.
	if err := os.Mkdir(cfg.ReportPath, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	reg, counters := seeded(t)
	r := New(cfg, reg, counters, &capturePublisher{}, nil, nil)

	st := r.WriteSnapshot()
	if st.Seq != 1 {
		t.Fatalf("seq %d", st.Seq)
	}
	// The state artifact is unaffected by the report failure.
	if _, err := os.Stat(cfg.StatePath); err != nil {
		t.Fatalf("state artifact missing after report failure: %v", err)
	}
}

func TestFinalAppendsShutdownFooter(t *testing.T) {
	cfg := testConfig(t)
	reg, counters := seeded(t)
	r := New(cfg, reg, counters, nil, nil, nil)
	r.Final()

	report, err := os.ReadFile(cfg.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(report), "Server stopped at ") {
		t.Fatalf("footer missing:\n%s", report)
	}
}
