// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/gasmesh/gateway/internal/sensor"
)

// Reader runs the read-side queries §4.7 requires against db. It holds
// no state of its own and may be used from any number of goroutines —
// unlike Writer, reads are not serialized through one task.
type Reader struct {
	db *DB
}

// NewReader constructs a Reader bound to db.
func NewReader(db *DB) *Reader {
	return &Reader{db: db}
}

type sampleRow struct {
	LinkID             string  `db:"link_id"`
	TimestampUnixNano  int64   `db:"timestamp_unix_nano"`
	RSSI               int     `db:"rssi"`
	SourceMAC          *string `db:"source_mac"`
	IsRepeated         bool    `db:"is_repeated"`
	Protocol           string  `db:"protocol"`
	TransmitterAddress int     `db:"transmitter_address"`
	Channel            int     `db:"channel"`
	Reading            float32 `db:"reading"`
	GasType            int     `db:"gas_type"`
	SensorType         int     `db:"sensor_type"`
	SensorMode         int     `db:"sensor_mode"`
	BatteryVoltage     float32 `db:"battery_voltage"`
	FaultCode          int     `db:"fault_code"`
	Precision          int     `db:"precision"`
	Text               string  `db:"text"`
	DaysSinceNull      *int    `db:"days_since_null"`
	DaysSinceCal       *int    `db:"days_since_cal"`
}

func (r sampleRow) toSample() sensor.Sample {
	s := sensor.Sample{
		LinkID:             r.LinkID,
		Timestamp:          time.Unix(0, r.TimestampUnixNano),
		RSSI:               r.RSSI,
		IsRepeated:         r.IsRepeated,
		TransmitterAddress: uint16(r.TransmitterAddress),
		Channel:            uint16(r.Channel),
		Reading:            r.Reading,
		GasType:            sensor.GasType(r.GasType),
		SensorType:         sensor.SensorType(r.SensorType),
		SensorMode:         sensor.SensorMode(r.SensorMode),
		BatteryVoltage:     r.BatteryVoltage,
		FaultCode:          sensor.FaultCode(r.FaultCode),
		Precision:          r.Precision,
		Text:               r.Text,
		DaysSinceNull:      -1,
		DaysSinceCal:       -1,
	}
	if r.DaysSinceNull != nil {
		s.DaysSinceNull = *r.DaysSinceNull
	}
	if r.DaysSinceCal != nil {
		s.DaysSinceCal = *r.DaysSinceCal
	}
	return s
}

// RecentSamples returns up to limit samples for channel, most recent
// first.
func (r *Reader) RecentSamples(channel uint16, limit int) ([]sensor.Sample, error) {
	query, args, err := sq.Select("link_id", "timestamp_unix_nano", "rssi", "source_mac",
		"is_repeated", "protocol", "transmitter_address", "channel", "reading", "gas_type",
		"sensor_type", "sensor_mode", "battery_voltage", "fault_code", "precision", "text",
		"days_since_null", "days_since_cal").
		From("samples").
		Where(sq.Eq{"channel": channel}).
		OrderBy("timestamp_unix_nano DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var rows []sampleRow
	if err := r.db.Handle.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying recent samples: %w", err)
	}

	samples := make([]sensor.Sample, len(rows))
	for i, row := range rows {
		samples[i] = row.toSample()
	}
	return samples, nil
}

type faultEventRow struct {
	ID              int64  `db:"id"`
	LinkID          string `db:"link_id"`
	Channel         int    `db:"channel"`
	FaultCode       int    `db:"fault_code"`
	FirstSeenUnix   int64  `db:"first_seen_unix"`
	LastSeenUnix    int64  `db:"last_seen_unix"`
	OccurrenceCount int    `db:"occurrence_count"`
}

func (r faultEventRow) toFaultEvent() FaultEvent {
	return FaultEvent{
		ID:              r.ID,
		LinkID:          r.LinkID,
		Channel:         uint16(r.Channel),
		FaultCode:       sensor.FaultCode(r.FaultCode),
		FirstSeen:       time.Unix(0, r.FirstSeenUnix),
		LastSeen:        time.Unix(0, r.LastSeenUnix),
		OccurrenceCount: r.OccurrenceCount,
	}
}

// FaultEventsSince returns fault events last seen within the last since
// duration, optionally filtered to a single fault code (filterByCode
// false for no filter), most recently seen first.
func (r *Reader) FaultEventsSince(since time.Duration, code sensor.FaultCode, filterByCode bool) ([]FaultEvent, error) {
	cutoff := time.Now().Add(-since).UnixNano()

	b := sq.Select("id", "link_id", "channel", "fault_code", "first_seen_unix",
		"last_seen_unix", "occurrence_count").
		From("fault_events").
		Where(sq.GtOrEq{"last_seen_unix": cutoff}).
		OrderBy("last_seen_unix DESC")
	if filterByCode {
		b = b.Where(sq.Eq{"fault_code": int(code)})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var rows []faultEventRow
	if err := r.db.Handle.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying fault events: %w", err)
	}

	events := make([]FaultEvent, len(rows))
	for i, row := range rows {
		events[i] = row.toFaultEvent()
	}
	return events, nil
}

// DuplicateAddresses returns transmitter addresses observed on more than
// one distinct channel within the last within duration — the F8 duplicate-address
// sweep's source query.
func (r *Reader) DuplicateAddresses(within time.Duration) ([]uint16, error) {
	cutoff := time.Now().Add(-within).UnixNano()

	query, args, err := sq.Select("transmitter_address").
		From("samples").
		Where(sq.GtOrEq{"timestamp_unix_nano": cutoff}).
		GroupBy("transmitter_address").
		Having("COUNT(DISTINCT channel) > 1").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var addrs []int
	if err := r.db.Handle.Select(&addrs, query, args...); err != nil {
		return nil, fmt.Errorf("querying duplicate addresses: %w", err)
	}

	out := make([]uint16, len(addrs))
	for i, a := range addrs {
		out[i] = uint16(a)
	}
	return out, nil
}

// DuplicateAddressLinks returns one row per (link_id, channel) that
// recently carried a transmitter address also seen on another channel
// within the same window — the F8 sweep job's detail query, used to
// attribute the fault to the specific links/channels involved rather
// than just the bare address DuplicateAddresses reports.
func (r *Reader) DuplicateAddressLinks(within time.Duration) ([]DuplicateAddressHit, error) {
	cutoff := time.Now().Add(-within).UnixNano()

	dupSubquery, dupArgs, err := sq.Select("transmitter_address").
		From("samples").
		Where(sq.GtOrEq{"timestamp_unix_nano": cutoff}).
		GroupBy("transmitter_address").
		Having("COUNT(DISTINCT channel) > 1").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building duplicate-address subquery: %w", err)
	}

	query, args, err := sq.Select("link_id", "channel", "transmitter_address").
		From("samples").
		Where(sq.GtOrEq{"timestamp_unix_nano": cutoff}).
		Where(fmt.Sprintf("transmitter_address IN (%s)", dupSubquery), dupArgs...).
		GroupBy("link_id", "channel", "transmitter_address").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	type row struct {
		LinkID             string `db:"link_id"`
		Channel            int    `db:"channel"`
		TransmitterAddress int    `db:"transmitter_address"`
	}
	var rows []row
	if err := r.db.Handle.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying duplicate address links: %w", err)
	}

	hits := make([]DuplicateAddressHit, len(rows))
	for i, rr := range rows {
		hits[i] = DuplicateAddressHit{
			LinkID:             rr.LinkID,
			Channel:            uint16(rr.Channel),
			TransmitterAddress: uint16(rr.TransmitterAddress),
		}
	}
	return hits, nil
}

// LinkAggregates returns, for every link with at least one sample in the
// last window, the packet count, distinct-channel count, mean RSSI, and
// fault count over that window.
func (r *Reader) LinkAggregates(window time.Duration) ([]LinkAggregate, error) {
	cutoff := time.Now().Add(-window).UnixNano()

	query, args, err := sq.Select(
		"link_id",
		"COUNT(*) AS packet_count",
		"COUNT(DISTINCT channel) AS distinct_channels",
		"AVG(rssi) AS mean_rssi",
		"SUM(CASE WHEN fault_code != 0 THEN 1 ELSE 0 END) AS fault_count",
	).
		From("samples").
		Where(sq.GtOrEq{"timestamp_unix_nano": cutoff}).
		GroupBy("link_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	type aggRow struct {
		LinkID           string  `db:"link_id"`
		PacketCount      int     `db:"packet_count"`
		DistinctChannels int     `db:"distinct_channels"`
		MeanRSSI         float64 `db:"mean_rssi"`
		FaultCount       int     `db:"fault_count"`
	}
	var rows []aggRow
	if err := r.db.Handle.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying link aggregates: %w", err)
	}

	aggs := make([]LinkAggregate, len(rows))
	for i, row := range rows {
		aggs[i] = LinkAggregate{
			LinkID:           row.LinkID,
			PacketCount:      row.PacketCount,
			DistinctChannels: row.DistinctChannels,
			MeanRSSI:         row.MeanRSSI,
			FaultCount:       row.FaultCount,
		}
	}
	return aggs, nil
}

// DeleteOlderThan removes samples, matches, and fault events last
// touched before cutoff — the retention sweep's write path. Fault events
// are kept by last_seen_unix since a long-lived coalesced event should
// not be pruned while still active.
func (r *Reader) DeleteOlderThan(cutoff time.Time) error {
	tx, err := r.db.Handle.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	stmts := []sq.Sqlizer{
		sq.Delete("samples").Where(sq.Lt{"timestamp_unix_nano": cutoff.UnixNano()}),
		sq.Delete("matches").Where(sq.Lt{"repeated_timestamp": cutoff.UnixNano()}),
		sq.Delete("fault_events").Where(sq.Lt{"last_seen_unix": cutoff.UnixNano()}),
	}
	for _, stmt := range stmts {
		query, args, err := stmt.ToSql()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("building delete: %w", err)
		}
		if _, err := tx.Exec(query, args...); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing delete: %w", err)
		}
	}

	return tx.Commit()
}
