// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gasmesh/gateway/internal/sensor"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "gateway.db")
	require.NoError(t, Migrate(dsn))
	db, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleFixture(linkID string, channel uint16, fault sensor.FaultCode, ts time.Time) sensor.Sample {
	return sensor.Sample{
		LinkID:             linkID,
		Timestamp:          ts,
		RSSI:               72,
		TransmitterAddress: 0x1234,
		Channel:            channel,
		Reading:            12.5,
		GasType:            sensor.GasH2S,
		SensorType:         sensor.SensorEC,
		SensorMode:         sensor.ModeNormal,
		BatteryVoltage:     3.6,
		FaultCode:          fault,
		Precision:          1,
		DaysSinceNull:      -1,
		DaysSinceCal:       -1,
	}
}

func TestWriterFlushesOnBatchSize(t *testing.T) {
	db := openTestDB(t)
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.BatchWindow = Duration(time.Hour)
	w := NewWriter(db, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	now := time.Now()
	require.True(t, w.PutSample(sampleFixture("north-direct", 10, sensor.FaultNone, now)))
	require.True(t, w.PutSample(sampleFixture("north-direct", 10, sensor.FaultNone, now.Add(time.Second))))

	require.Eventually(t, func() bool {
		got, err := NewReader(db).RecentSamples(10, 10)
		return err == nil && len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWriterFlushesOnTicker(t *testing.T) {
	db := openTestDB(t)
	cfg := DefaultConfig()
	cfg.BatchSize = 256
	cfg.BatchWindow = Duration(20 * time.Millisecond)
	w := NewWriter(db, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.True(t, w.PutSample(sampleFixture("north-direct", 20, sensor.FaultNone, time.Now())))

	require.Eventually(t, func() bool {
		got, err := NewReader(db).RecentSamples(20, 10)
		return err == nil && len(got) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWriterDropsOldestWhenQueueFull(t *testing.T) {
	db := openTestDB(t)
	cfg := DefaultConfig()
	cfg.QueueCap = 1
	cfg.BatchWindow = Duration(time.Hour)
	w := NewWriter(db, cfg)

	require.True(t, w.PutSample(sampleFixture("a", 1, sensor.FaultNone, time.Now())))
	require.False(t, w.PutSample(sampleFixture("a", 1, sensor.FaultNone, time.Now())))
	require.Equal(t, uint64(1), w.Dropped())
}

func TestFaultCoalescingExtendsWithinWindow(t *testing.T) {
	db := openTestDB(t)
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.FaultCoalesceWindow = Duration(time.Hour)
	w := NewWriter(db, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	base := time.Now()
	require.True(t, w.PutSample(sampleFixture("north-direct", 5, sensor.FaultSensorTimeout, base)))
	require.Eventually(t, func() bool {
		events, err := NewReader(db).FaultEventsSince(time.Hour, sensor.FaultNone, false)
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)

	require.True(t, w.PutSample(sampleFixture("north-direct", 5, sensor.FaultSensorTimeout, base.Add(time.Minute))))
	require.Eventually(t, func() bool {
		events, err := NewReader(db).FaultEventsSince(time.Hour, sensor.FaultNone, false)
		return err == nil && len(events) == 1 && events[0].OccurrenceCount == 2
	}, time.Second, 10*time.Millisecond)
}

func TestDuplicateAddressesAcrossChannels(t *testing.T) {
	db := openTestDB(t)
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	w := NewWriter(db, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	now := time.Now()
	s1 := sampleFixture("north-direct", 1, sensor.FaultNone, now)
	s2 := sampleFixture("north-direct", 2, sensor.FaultNone, now)
	s1.TransmitterAddress = 0xAAAA
	s2.TransmitterAddress = 0xAAAA
	require.True(t, w.PutSample(s1))
	require.True(t, w.PutSample(s2))

	require.Eventually(t, func() bool {
		addrs, err := NewReader(db).DuplicateAddresses(time.Hour)
		return err == nil && len(addrs) == 1 && addrs[0] == 0xAAAA
	}, time.Second, 10*time.Millisecond)
}

func TestLinkAggregates(t *testing.T) {
	db := openTestDB(t)
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	w := NewWriter(db, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	now := time.Now()
	require.True(t, w.PutSample(sampleFixture("north-direct", 1, sensor.FaultNone, now)))
	require.True(t, w.PutSample(sampleFixture("north-direct", 2, sensor.FaultSensorTimeout, now)))

	require.Eventually(t, func() bool {
		aggs, err := NewReader(db).LinkAggregates(time.Hour)
		if err != nil || len(aggs) != 1 {
			return false
		}
		return aggs[0].PacketCount == 2 && aggs[0].DistinctChannels == 2 && aggs[0].FaultCount == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPutMatchAndDeleteOlderThan(t *testing.T) {
	db := openTestDB(t)
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	w := NewWriter(db, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	old := time.Now().Add(-48 * time.Hour)
	require.True(t, w.PutSample(sampleFixture("north-direct", 7, sensor.FaultNone, old)))
	require.True(t, w.PutMatch(Match{
		Channel:           7,
		DirectLinkID:      "north-direct",
		DirectTimestamp:   old,
		DirectReading:     1.0,
		RepeatedLinkID:    "north-primary",
		RepeatedTimestamp: old,
		RepeatedReading:   1.0,
		Latency:           50 * time.Millisecond,
	}))

	require.Eventually(t, func() bool {
		got, err := NewReader(db).RecentSamples(7, 10)
		return err == nil && len(got) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, NewReader(db).DeleteOlderThan(time.Now().Add(-24*time.Hour)))

	got, err := NewReader(db).RecentSamples(7, 10)
	require.NoError(t, err)
	require.Len(t, got, 0)
}
