// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so config files can write durations as
// Go duration strings ("1s", "10m") instead of raw nanosecond integers.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds configuration for the sample store. All fields have
// sensible defaults, so this configuration is optional.
type Config struct {
	// Driver is the sqlx/database-sql driver name. Only "sqlite3" is supported.
	Driver string `json:"driver"`

	// DSN is the database file path, e.g. "/var/lib/gateway/gateway.db".
	DSN string `json:"dsn"`

	// BatchWindow is the maximum time a write waits in the pending batch
	// before being flushed, regardless of BatchSize.
	// Default: 1 second.
	BatchWindow Duration `json:"batch_window"`

	// BatchSize is the maximum number of records held in the pending batch
	// before being flushed, regardless of BatchWindow.
	// Default: 256.
	BatchSize int `json:"batch_size"`

	// QueueCap bounds the in-memory queue feeding the batch writer. Once
	// full, the oldest record is dropped and a counter incremented.
	// Default: 10000.
	QueueCap int `json:"queue_cap"`

	// RetentionDays is how long samples, matches and fault events are kept
	// before the retention sweep deletes them. Zero disables the sweep.
	RetentionDays int `json:"retention_days"`

	// FaultCoalesceWindow is the width of the window within which repeat
	// occurrences of the same (link_id, channel, fault_code) extend an
	// existing fault event instead of creating a new one.
	// Default: 1 hour.
	FaultCoalesceWindow Duration `json:"fault_coalesce_window"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Driver:              "sqlite3",
		DSN:                 "gateway.db",
		BatchWindow:         Duration(time.Second),
		BatchSize:           256,
		QueueCap:            10000,
		RetentionDays:       30,
		FaultCoalesceWindow: Duration(time.Hour),
	}
}
