// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/gasmesh/gateway/internal/sensor"
	"github.com/gasmesh/gateway/pkg/log"
)

// writeItem is the sum type flowing through the writer's queue: exactly
// one of its fields is non-nil.
type writeItem struct {
	sample *sensor.Sample
	match  *Match
	fault  *rawFault
}

// rawFault is a fault condition synthesized by something other than a
// decoded sample — currently only the F8 duplicate-address sweep job,
// which detects the condition from a query over already-stored samples
// rather than from a single incoming one.
type rawFault struct {
	LinkID    string
	Channel   uint16
	FaultCode sensor.FaultCode
	At        time.Time
}

// Writer is the store's single writer task. Every mutation — samples,
// matches, and the fault-event coalescing they trigger — flows through
// one goroutine running Run, matching the concurrency model's
// single-writer rule for the sample store.
type Writer struct {
	db      *DB
	cfg     Config
	queue   chan writeItem
	dropped uint64
}

// NewWriter constructs a Writer bound to db, buffering up to
// cfg.QueueCap pending writes before dropping the oldest.
func NewWriter(db *DB, cfg Config) *Writer {
	return &Writer{
		db:    db,
		cfg:   cfg,
		queue: make(chan writeItem, cfg.QueueCap),
	}
}

// PutSample enqueues a sample for writing. It never blocks: if the queue
// is full, the oldest pending write is dropped to make room, the Dropped
// counter increments, and false is returned.
func (w *Writer) PutSample(s sensor.Sample) bool {
	return w.tryPush(writeItem{sample: &s})
}

// PutMatch enqueues a match for writing, with the same drop-oldest
// semantics as PutSample.
func (w *Writer) PutMatch(m Match) bool {
	return w.tryPush(writeItem{match: &m})
}

// PutFaultEvent enqueues a synthesized fault condition (one not tied to
// a single decoded sample, e.g. the F8 duplicate-address sweep) for
// coalescing into fault_events under the same window as sample-derived
// faults.
func (w *Writer) PutFaultEvent(linkID string, channel uint16, code sensor.FaultCode, at time.Time) bool {
	return w.tryPush(writeItem{fault: &rawFault{LinkID: linkID, Channel: channel, FaultCode: code, At: at}})
}

func (w *Writer) tryPush(item writeItem) bool {
	select {
	case w.queue <- item:
		return true
	default:
	}
	// Queue full: discard the oldest pending write to make room.
	select {
	case <-w.queue:
	default:
	}
	atomic.AddUint64(&w.dropped, 1)
	select {
	case w.queue <- item:
	default:
		atomic.AddUint64(&w.dropped, 1)
	}
	return false
}

// Dropped returns the number of writes discarded so far because the
// queue was full.
func (w *Writer) Dropped() uint64 {
	return atomic.LoadUint64(&w.dropped)
}

// Run drains the queue, accumulating a batch until cfg.BatchWindow
// elapses or cfg.BatchSize items are pending, then flushes. It returns
// when ctx is cancelled, after flushing whatever is still pending — a
// crash loses only the in-flight batch, never previously flushed data.
func (w *Writer) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.BatchWindow.Duration())
	defer ticker.Stop()

	batch := make([]writeItem, 0, w.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.flush(batch); err != nil {
			log.Errorf("store: flush failed: %s", err.Error())
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case item := <-w.queue:
			batch = append(batch, item)
			if len(batch) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Writer) flush(batch []writeItem) error {
	tx, err := w.db.Handle.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	for _, item := range batch {
		switch {
		case item.sample != nil:
			if err := insertSample(tx, *item.sample); err != nil {
				tx.Rollback()
				return fmt.Errorf("inserting sample: %w", err)
			}
			if item.sample.FaultCode != sensor.FaultNone {
				s := item.sample
				if err := coalesceFault(tx, s.LinkID, s.Channel, s.FaultCode, s.Timestamp, w.cfg.FaultCoalesceWindow.Duration()); err != nil {
					tx.Rollback()
					return fmt.Errorf("coalescing fault event: %w", err)
				}
			}
		case item.match != nil:
			if err := insertMatch(tx, *item.match); err != nil {
				tx.Rollback()
				return fmt.Errorf("inserting match: %w", err)
			}
		case item.fault != nil:
			f := item.fault
			if err := coalesceFault(tx, f.LinkID, f.Channel, f.FaultCode, f.At, w.cfg.FaultCoalesceWindow.Duration()); err != nil {
				tx.Rollback()
				return fmt.Errorf("coalescing synthesized fault event: %w", err)
			}
		}
	}

	return tx.Commit()
}

func insertSample(tx sq.BaseRunner, s sensor.Sample) error {
	var sourceMAC interface{}
	if s.SourceMAC != nil {
		sourceMAC = fmt.Sprintf("%02X:%02X:%02X", s.SourceMAC[0], s.SourceMAC[1], s.SourceMAC[2])
	}

	_, err := sq.Insert("samples").
		Columns("link_id", "timestamp_unix_nano", "rssi", "source_mac", "is_repeated",
			"protocol", "transmitter_address", "channel", "reading", "gas_type",
			"sensor_type", "sensor_mode", "battery_voltage", "fault_code", "precision",
			"text", "days_since_null", "days_since_cal").
		Values(s.LinkID, s.Timestamp.UnixNano(), s.RSSI, sourceMAC, s.IsRepeated,
			s.Protocol.String(), s.TransmitterAddress, s.Channel, s.Reading, int(s.GasType),
			int(s.SensorType), int(s.SensorMode), s.BatteryVoltage, int(s.FaultCode), s.Precision,
			s.Text, nullableDays(s.DaysSinceNull), nullableDays(s.DaysSinceCal)).
		RunWith(tx).Exec()
	return err
}

func nullableDays(v int) interface{} {
	if v < 0 {
		return nil
	}
	return v
}

func insertMatch(tx sq.BaseRunner, m Match) error {
	_, err := sq.Insert("matches").
		Columns("channel", "direct_link_id", "direct_timestamp", "direct_reading",
			"repeated_link_id", "repeated_timestamp", "repeated_reading", "latency_nanos").
		Values(m.Channel, m.DirectLinkID, m.DirectTimestamp.UnixNano(), m.DirectReading,
			m.RepeatedLinkID, m.RepeatedTimestamp.UnixNano(), m.RepeatedReading, m.Latency.Nanoseconds()).
		RunWith(tx).Exec()
	return err
}

// coalesceFault extends the most recent fault_events row for this
// (link_id, channel, fault_code) if it was last seen within window,
// otherwise starts a new one.
func coalesceFault(tx sq.BaseRunner, linkID string, channel uint16, code sensor.FaultCode, at time.Time, window time.Duration) error {
	cutoff := at.Add(-window).UnixNano()

	row := sq.Select("id", "occurrence_count").
		From("fault_events").
		Where(sq.Eq{"link_id": linkID, "channel": channel, "fault_code": int(code)}).
		Where(sq.GtOrEq{"last_seen_unix": cutoff}).
		OrderBy("last_seen_unix DESC").
		Limit(1).
		RunWith(tx).QueryRow()

	var id int64
	var count int
	err := row.Scan(&id, &count)
	switch {
	case err == nil:
		_, err := sq.Update("fault_events").
			Set("last_seen_unix", at.UnixNano()).
			Set("occurrence_count", count+1).
			Where(sq.Eq{"id": id}).
			RunWith(tx).Exec()
		return err
	case errors.Is(err, sql.ErrNoRows):
		_, err := sq.Insert("fault_events").
			Columns("link_id", "channel", "fault_code", "first_seen_unix", "last_seen_unix", "occurrence_count").
			Values(linkID, channel, int(code), at.UnixNano(), at.UnixNano(), 1).
			RunWith(tx).Exec()
		return err
	default:
		return err
	}
}
