// Package replica keeps the dispatch state durable and mirrors it to a
// standby instance. The primary periodically writes an operator report
// and a field-keyed snapshot, and publishes the snapshot on a sync topic;
// the standby absorbs those snapshots instead of matching live riders.
package replica

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/easycab/dispatch/core/broker"
	"github.com/easycab/dispatch/core/registry"
	"github.com/easycab/dispatch/core/snapshot"
	"github.com/easycab/dispatch/infra/logger"
	"github.com/easycab/dispatch/internal/eventbus"
)

// Config defines snapshot persistence and replication parameters.
type Config struct {
	IntervalS  int    `json:"interval_s"`
	ReportPath string `json:"report_path"`
	StatePath  string `json:"state_path"`
	SyncTopic  string `json:"sync_topic"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.IntervalS <= 0 {
		c.IntervalS = 60
	}
	if c.ReportPath == "" {
		c.ReportPath = "interaccion.txt"
	}
	if c.StatePath == "" {
		c.StatePath = "interaccion.json"
	}
	if c.SyncTopic == "" {
		c.SyncTopic = broker.StateTopic
	}
}

// Replicator snapshots registry and counters on a timer.
type Replicator struct {
	cfg      Config
	reg      *registry.Registry
	counters *registry.Counters
	pub      broker.Publisher // nil on the standby: it only consumes
	bus      eventbus.EventBus
	log      logger.Logger

	mu sync.Mutex
	// seq is the primary's last minted sequence number. On the standby it
	// only ever advances by absorbing the feed or the on-disk snapshot, so
	// the standby's own ticker can never make the feed look stale.
	seq int64
}

// New creates a Replicator. Pass a nil publisher for the standby role.
func New(cfg Config, reg *registry.Registry, counters *registry.Counters, pub broker.Publisher, bus eventbus.EventBus, log logger.Logger) *Replicator {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Replicator{cfg: cfg, reg: reg, counters: counters, pub: pub, bus: bus, log: log}
}

// Run writes snapshots on the configured interval until the context is
// cancelled, then writes a final snapshot with a shutdown footer.
func (r *Replicator) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(r.cfg.IntervalS) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Final()
			return ctx.Err()
		case <-ticker.C:
			r.WriteSnapshot()
		}
	}
}

// WriteSnapshot captures and persists the current state. Only the
// primary mints new sequence numbers; the standby stamps its artifacts
// with the last sequence it absorbed. Every failure is logged and
// swallowed: the previous on-disk snapshot remains the last-known-good
// state.
func (r *Replicator) WriteSnapshot() snapshot.State { return r.write(false) }

// Final writes the last snapshot, with the shutdown footer rendered into
// the report before the atomic swap.
func (r *Replicator) Final() { r.write(true) }

func (r *Replicator) write(final bool) snapshot.State {
	r.mu.Lock()
	if r.pub != nil {
		r.seq++
	}
	seq := r.seq
	r.mu.Unlock()

	st := snapshot.Capture(r.reg, r.counters, seq)
	r.writeReport(st, final)
	data, err := st.Encode()
	if err != nil {
		r.log.Errorf("encode snapshot: %v", err)
		return st
	}
	if err := writeAtomic(r.cfg.StatePath, data); err != nil {
		r.log.Errorf("write snapshot %s: %v", r.cfg.StatePath, err)
	}
	if r.pub != nil {
		if err := r.pub.Publish(r.cfg.SyncTopic, data); err != nil {
			r.log.Errorf("publish snapshot: %v", err)
		}
	}
	r.log.Debugf("snapshot %d written", seq)
	return st
}

// writeReport renders the full report in memory and swaps it in
// atomically, so a failed write never truncates the previous one.
func (r *Replicator) writeReport(st snapshot.State, footer bool) {
	var b bytes.Buffer
	if err := st.WriteReport(&b); err != nil {
		r.log.Errorf("render report: %v", err)
		return
	}
	if footer {
		if err := snapshot.AppendShutdownFooter(&b, time.Now()); err != nil {
			r.log.Errorf("render report footer: %v", err)
		}
	}
	if err := writeAtomic(r.cfg.ReportPath, b.Bytes()); err != nil {
		r.log.Errorf("write report %s: %v", r.cfg.ReportPath, err)
	}
}

// LoadState restores state from the on-disk snapshot, if one exists.
// Used at boot so a restarted instance resumes from the last-known-good
// state.
func (r *Replicator) LoadState() error {
	data, err := os.ReadFile(r.cfg.StatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read snapshot %s: %w", r.cfg.StatePath, err)
	}
	st, err := snapshot.Decode(data)
	if err != nil {
		return fmt.Errorf("decode snapshot %s: %w", r.cfg.StatePath, err)
	}
	r.absorb(st)
	r.log.Infof("state restored from %s (seq %d)", r.cfg.StatePath, st.Seq)
	return nil
}

// BindSync subscribes the standby to the replication feed.
func (r *Replicator) BindSync(sub broker.Subscriber) error {
	return sub.Subscribe(r.cfg.SyncTopic, r.handleSync)
}

// handleSync replaces the in-memory state wholesale when a newer
// snapshot arrives on the feed. Stale or malformed snapshots are dropped.
func (r *Replicator) handleSync(_ string, payload []byte) {
	st, err := snapshot.Decode(payload)
	if err != nil {
		r.log.Warnf("dropping malformed snapshot: %v", err)
		return
	}
	r.mu.Lock()
	if st.Seq <= r.seq {
		r.mu.Unlock()
		r.log.Debugf("ignoring stale snapshot %d (have %d)", st.Seq, r.seq)
		return
	}
	r.mu.Unlock()
	r.absorb(st)
	r.log.Infof("state synchronized from feed (seq %d)", st.Seq)
}

func (r *Replicator) absorb(st snapshot.State) {
	snapshot.Restore(st, r.reg, r.counters)
	r.mu.Lock()
	if st.Seq > r.seq {
		r.seq = st.Seq
	}
	r.mu.Unlock()
	if r.bus != nil {
		r.bus.Publish(eventbus.StateRestored{Seq: st.Seq})
	}
}

// writeAtomic writes via a temp file and rename so a failed write never
// truncates the previous snapshot.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
