// Package receiver runs one task per radio link: it owns that link's
// serial port, feeds bytes through the frame demultiplexer and sensor
// decoder, and publishes Samples onto a bounded channel for the
// correlator and store to consume. It also forwards command-mode
// responses to the control-plane arbiter and exposes the pause/resume
// handshake the arbiter uses to borrow the port.
package receiver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/gasmesh/gateway/internal/frame"
	"github.com/gasmesh/gateway/internal/health"
	"github.com/gasmesh/gateway/internal/sensor"
	"github.com/gasmesh/gateway/internal/serialport"
	"github.com/gasmesh/gateway/pkg/log"
)

// Config describes one link's receiver task. It is constructed once at
// startup and never mutated afterward.
type Config struct {
	LinkID      string
	Device      string
	Baud        int
	MaxFrameLen int
	QueueCap    int // default 1024, per §4.4

	// ReconnectMin/Max bound the backoff between reopen attempts after a
	// read error. Defaults: 500ms / 30s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueCap <= 0 {
		c.QueueCap = 1024
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 500 * time.Millisecond
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	return c
}

// controlInCap bounds the 0xCC response channel. Outside of an active
// arbiter session, no one is reading it; a handful of slots absorbs a
// stray response without the receiver loop ever blocking on it.
const controlInCap = 8

// Receiver runs one link's receive loop.
type Receiver struct {
	cfg     Config
	quiesce *Quiesce
	metrics *health.Registry

	samples    chan sensor.Sample
	controlIn  chan frame.CommandResp
	dropped    uint64
	port       atomic.Pointer[serialport.Port]
}

// New constructs a Receiver for one link. Call Run to start its task
// loop; Samples and ControlResponses are safe to range over immediately.
func New(cfg Config, metrics *health.Registry) *Receiver {
	cfg = cfg.withDefaults()
	return &Receiver{
		cfg:       cfg,
		quiesce:   newQuiesce(),
		metrics:   metrics,
		samples:   make(chan sensor.Sample, cfg.QueueCap),
		controlIn: make(chan frame.CommandResp, controlInCap),
	}
}

// Samples is the bounded outbound channel of decoded Samples.
func (r *Receiver) Samples() <-chan sensor.Sample { return r.samples }

// ControlResponses carries 0xCC command-mode responses the demultiplexer
// finds while this receiver is reading. A paused receiver does not read:
// during a session the arbiter reads responses directly from the port.
// Nothing in the gateway drains this channel; once it is full, further
// responses are dropped.
func (r *Receiver) ControlResponses() <-chan frame.CommandResp { return r.controlIn }

// Dropped returns the number of Samples discarded so far because the
// outbound channel was full.
func (r *Receiver) Dropped() uint64 { return atomic.LoadUint64(&r.dropped) }

// Quiesce returns the pause/resume handshake the control-plane arbiter
// uses to borrow this link's port for a command-mode session.
func (r *Receiver) Quiesce() *Quiesce { return r.quiesce }

// Port returns the currently open serial port, or nil if the link is
// between (re)connect attempts. Only safe to use after a successful
// Quiesce().RequestPause, which guarantees the receive loop is not
// mid-read.
func (r *Receiver) Port() *serialport.Port { return r.port.Load() }

// Run owns the link for its entire lifetime: opening the port,
// preflighting MAC/RSSI, reading frames until an error or ctx
// cancellation, and reconnecting with backoff on failure. It returns
// only when ctx is cancelled.
func (r *Receiver) Run(ctx context.Context) error {
	bo := &backoff.Backoff{Min: r.cfg.ReconnectMin, Max: r.cfg.ReconnectMax, Jitter: true}

	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := r.runOnce(ctx); err != nil {
			r.metrics.LinkUp.WithLabelValues(r.cfg.LinkID).Set(0)
			r.metrics.ReconnectsTotal.WithLabelValues(r.cfg.LinkID).Inc()
			wait := bo.Duration()
			log.Warnf("%slink read loop ended (%s), reconnecting in %s", log.Component("link", r.cfg.LinkID), err.Error(), wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		bo.Reset()
	}
}

// runOnce opens the port, preflights it, and reads until an error or
// cancellation. It always closes the port before returning.
func (r *Receiver) runOnce(ctx context.Context) error {
	tag := log.Component("link", r.cfg.LinkID)

	port, err := serialport.Open(serialport.Config{
		Device:      r.cfg.Device,
		Baud:        r.cfg.Baud,
		ReadTimeout: serialport.DefaultReadTimeout,
	})
	if err != nil {
		return err
	}
	r.port.Store(port)
	defer func() {
		r.port.Store(nil)
		port.Close()
	}()

	r.metrics.LinkUp.WithLabelValues(r.cfg.LinkID).Set(1)
	r.preflight(tag, port)

	demux := frame.New(r.cfg.MaxFrameLen)
	buf := make([]byte, 4096)
	var prev frame.Counters

	for {
		if ctx.Err() != nil {
			return nil
		}

		r.quiesce.poll()

		n, err := port.Read(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}

		for _, ev := range demux.Feed(buf[:n]) {
			r.handleEvent(tag, ev)
		}

		cur := demux.Counters()
		r.reportCounters(frame.Counters{
			JunkBytes:       cur.JunkBytes - prev.JunkBytes,
			OversizedFrames: cur.OversizedFrames - prev.OversizedFrames,
			SkippedTxStatus: cur.SkippedTxStatus - prev.SkippedTxStatus,
			DesyncEvents:    cur.DesyncEvents - prev.DesyncEvents,
		})
		prev = cur
	}
}

func (r *Receiver) preflight(tag string, port *serialport.Port) {
	if mac, err := port.QueryMAC(); err != nil {
		log.Warnf("%spreflight MAC query failed: %s", tag, err.Error())
	} else {
		log.Infof("%spreflight MAC %02X:%02X:%02X", tag, mac[0], mac[1], mac[2])
	}
	if rssi, err := port.QueryRSSI(); err != nil {
		log.Warnf("%spreflight RSSI query failed: %s", tag, err.Error())
	} else {
		log.Infof("%spreflight RSSI %d%%", tag, frame.MapRSSI(rssi))
	}
}

func (r *Receiver) handleEvent(tag string, ev frame.Event) {
	switch ev.Kind {
	case frame.KindData:
		r.handleDataFrame(tag, ev.Data)
	case frame.KindCommandResp:
		select {
		case r.controlIn <- *ev.CommandResp:
		default:
			log.Debugf("%sdropped stray command-mode response (no active session)", tag)
		}
	}
}

func (r *Receiver) handleDataFrame(tag string, d *frame.Data) {
	s, err := sensor.Decode(d.Channel, d.Protocol, d.Body)
	if err != nil {
		if _, bad := err.(*sensor.BadChecksumError); bad {
			r.metrics.ChecksumErrorsTotal.WithLabelValues(r.cfg.LinkID).Inc()
		}
		log.Debugf("%sdecode error: %s", tag, err.Error())
		return
	}

	now := time.Now()
	s.LinkID = r.cfg.LinkID
	s.Timestamp = now
	s.MonotonicTimestamp = now
	s.RSSI = frame.MapRSSI(d.RSSI)
	s.IsRepeated = d.IsRepeated
	if d.IsRepeated {
		mac := d.SensorMAC
		s.SourceMAC = &mac
	} else {
		mac := d.RepeaterMAC
		s.SourceMAC = &mac
	}

	r.metrics.FramesTotal.WithLabelValues(r.cfg.LinkID).Inc()

	select {
	case r.samples <- s:
	default:
		select {
		case <-r.samples:
		default:
		}
		select {
		case r.samples <- s:
		default:
		}
		atomic.AddUint64(&r.dropped, 1)
		r.metrics.SampleDropsTotal.WithLabelValues(r.cfg.LinkID).Inc()
	}
}

func (r *Receiver) reportCounters(c frame.Counters) {
	if c.JunkBytes > 0 {
		r.metrics.JunkBytesTotal.WithLabelValues(r.cfg.LinkID).Add(float64(c.JunkBytes))
	}
	if c.DesyncEvents > 0 {
		r.metrics.DesyncTotal.WithLabelValues(r.cfg.LinkID).Add(float64(c.DesyncEvents))
	}
	if c.OversizedFrames > 0 {
		r.metrics.OversizedTotal.WithLabelValues(r.cfg.LinkID).Add(float64(c.OversizedFrames))
	}
}
