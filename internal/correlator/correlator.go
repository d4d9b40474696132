// Package correlator matches direct sensor readings against the same
// reading arriving a second time through the cluster's one repeated
// (primary) link, measuring forwarding latency and surfacing frames
// that never make it through.
package correlator

import (
	"context"
	"strconv"
	"time"

	"github.com/gasmesh/gateway/internal/health"
	"github.com/gasmesh/gateway/internal/sensor"
	"github.com/gasmesh/gateway/pkg/log"
)

// Config governs the matching pipeline.
type Config struct {
	// PendingCapacity bounds the pending_direct FIFO. Default: 4096.
	PendingCapacity int

	// MatchWindow is both the maximum direct/primary latency accepted
	// as a match and the aging threshold after which an unmatched
	// direct sample is evicted as a loss. Default: 10s.
	MatchWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.PendingCapacity <= 0 {
		c.PendingCapacity = 4096
	}
	if c.MatchWindow <= 0 {
		c.MatchWindow = 10 * time.Second
	}
	return c
}

// Match is a direct sample and the primary-link sample it was matched
// against, with the measured end-to-end forwarding latency.
type Match struct {
	Direct  sensor.Sample
	Primary sensor.Sample
	Latency time.Duration
}

// DirectLoss is a direct sample that aged out of pending_direct without
// ever being matched against a primary-link arrival.
type DirectLoss struct {
	Direct sensor.Sample
}

// Orphan is a primary-link sample that matched no pending direct
// sample.
type Orphan struct {
	Primary sensor.Sample
}

// pendingEntry is one queued direct sample awaiting a primary-link
// match or eviction by age.
type pendingEntry struct {
	sample   sensor.Sample
	queuedAt time.Time
}

// Correlator runs the direct/primary matching pipeline for one cluster.
// It owns no synchronization beyond its own Run loop: all state is
// local to the goroutine that calls Run, and every external interaction
// happens over the constructor-supplied channels, so there is nothing
// here that needs a mutex.
type Correlator struct {
	cfg     Config
	metrics *health.Registry

	direct  chan sensor.Sample
	primary chan sensor.Sample

	matches chan Match
	losses  chan DirectLoss
	orphans chan Orphan

	pending []pendingEntry
	dropped uint64
}

// New constructs a Correlator. Callers feed direct and primary samples
// in via PushDirect/PushPrimary and drain Matches/Losses/Orphans from
// the corresponding channels while Run is active.
func New(cfg Config, metrics *health.Registry) *Correlator {
	cfg = cfg.withDefaults()
	return &Correlator{
		cfg:     cfg,
		metrics: metrics,
		direct:  make(chan sensor.Sample, cfg.PendingCapacity),
		primary: make(chan sensor.Sample, 256),
		matches: make(chan Match, 256),
		losses:  make(chan DirectLoss, 256),
		orphans: make(chan Orphan, 256),
	}
}

// PushDirect enqueues a direct-link sample on a buffered channel that Run
// drains; it blocks only while that buffer is full. The pending_direct
// capacity bound is enforced inside the FIFO itself, not on this channel.
func (c *Correlator) PushDirect(s sensor.Sample) { c.direct <- s }

// PushPrimary enqueues a primary-link sample for matching.
func (c *Correlator) PushPrimary(s sensor.Sample) { c.primary <- s }

// Matches, Losses, and Orphans are the correlator's output streams.
func (c *Correlator) Matches() <-chan Match           { return c.matches }
func (c *Correlator) Losses() <-chan DirectLoss       { return c.losses }
func (c *Correlator) Orphans() <-chan Orphan          { return c.orphans }

// Run drives the matching state machine until ctx is cancelled. It is
// the sole owner of the pending FIFO; no other goroutine touches it.
func (c *Correlator) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-c.direct:
			c.pushDirect(s)
		case s := <-c.primary:
			c.matchPrimary(s)
		case <-ticker.C:
			c.evictAged(time.Now())
		}
	}
}

// pushDirect appends a direct sample, evicting the oldest entry as a
// DirectLoss if the FIFO is already at capacity.
func (c *Correlator) pushDirect(s sensor.Sample) {
	if len(c.pending) >= c.cfg.PendingCapacity {
		evicted := c.pending[0]
		c.pending = c.pending[1:]
		c.emitLoss(evicted.sample)
	}
	c.pending = append(c.pending, pendingEntry{sample: s, queuedAt: time.Now()})
}

// matchPrimary scans pending_direct oldest-first for every candidate
// satisfying the channel/window/tolerance predicate, then keeps the
// smallest-latency candidate, per the documented tie-break.
func (c *Correlator) matchPrimary(s sensor.Sample) {
	bestIdx := -1
	var bestLatency time.Duration

	for i, entry := range c.pending {
		d := entry.sample
		if !matches(d, s, c.cfg.MatchWindow) {
			continue
		}
		latency := s.MonotonicTimestamp.Sub(d.MonotonicTimestamp)
		if bestIdx == -1 || latency < bestLatency {
			bestIdx = i
			bestLatency = latency
		}
	}

	if bestIdx == -1 {
		c.emitOrphan(s)
		return
	}

	d := c.pending[bestIdx].sample
	c.pending = append(c.pending[:bestIdx], c.pending[bestIdx+1:]...)
	c.emitMatch(d, s, bestLatency)
}

// matches implements the channel/window/tolerance predicate from the
// matching contract.
func matches(d, s sensor.Sample, window time.Duration) bool {
	if d.Channel != s.Channel {
		return false
	}
	dt := s.MonotonicTimestamp.Sub(d.MonotonicTimestamp)
	if dt < 0 || dt > window {
		return false
	}
	tolerance := float32(0.1)
	if abs32(d.Reading)*0.05 > tolerance {
		tolerance = abs32(d.Reading) * 0.05
	}
	return abs32(s.Reading-d.Reading) <= tolerance
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// evictAged removes every pending entry older than MatchWindow,
// emitting each as a DirectLoss.
func (c *Correlator) evictAged(now time.Time) {
	kept := c.pending[:0]
	for _, entry := range c.pending {
		if now.Sub(entry.queuedAt) > c.cfg.MatchWindow {
			c.emitLoss(entry.sample)
			continue
		}
		kept = append(kept, entry)
	}
	c.pending = kept
}

func (c *Correlator) emitMatch(d, s sensor.Sample, latency time.Duration) {
	if c.metrics != nil {
		ch := channelLabel(s.Channel)
		c.metrics.MatchesTotal.WithLabelValues(ch).Inc()
		c.metrics.MatchLatency.WithLabelValues(ch).Observe(latency.Seconds())
	}
	select {
	case c.matches <- Match{Direct: d, Primary: s, Latency: latency}:
	default:
		log.Warnf("correlator: dropped match on channel %d, output queue full", s.Channel)
	}
}

func (c *Correlator) emitOrphan(s sensor.Sample) {
	if c.metrics != nil {
		c.metrics.OrphansTotal.WithLabelValues(channelLabel(s.Channel)).Inc()
	}
	select {
	case c.orphans <- Orphan{Primary: s}:
	default:
		log.Warnf("correlator: dropped orphan on channel %d, output queue full", s.Channel)
	}
}

func (c *Correlator) emitLoss(d sensor.Sample) {
	if c.metrics != nil {
		c.metrics.DirectLossesTotal.WithLabelValues(channelLabel(d.Channel)).Inc()
	}
	select {
	case c.losses <- DirectLoss{Direct: d}:
	default:
		log.Warnf("correlator: dropped direct-loss event on channel %d, output queue full", d.Channel)
	}
}

func channelLabel(ch uint16) string {
	return strconv.FormatUint(uint64(ch), 10)
}
