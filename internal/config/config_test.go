// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "links": [
    {"id": "north-direct", "device": "/dev/ttyUSB0", "baud": 115200, "role": "direct"},
    {"id": "north-primary", "device": "/dev/ttyUSB1", "baud": 115200, "role": "primary",
     "radio_profile": {"0x00": 5, "0x01": 1}}
  ],
  "correlator": {"match_window": "10s"},
  "store": {"dsn": "/tmp/gateway-test.db", "retention_days": 7}
}`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path, "")
	require.NoError(t, err)

	assert.Len(t, cfg.Links, 2)
	assert.Equal(t, RoleDirect, cfg.Links[0].Role)
	assert.Equal(t, RolePrimary, cfg.Links[1].Role)
	assert.Equal(t, 10*time.Second, cfg.Correlator.MatchWindow.Duration())
	assert.Equal(t, "/tmp/gateway-test.db", cfg.Store.DSN)
	assert.Equal(t, 7, cfg.Store.RetentionDays)
	assert.Equal(t, 5, cfg.Links[1].RadioProfile["0x00"])
}

func TestLoadRejectsTwoPrimaries(t *testing.T) {
	path := writeTempConfig(t, `{
  "links": [
    {"id": "a", "device": "/dev/ttyUSB0", "role": "primary"},
    {"id": "b", "device": "/dev/ttyUSB1", "role": "primary"}
  ]
}`)
	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most one primary")
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	path := writeTempConfig(t, `{
  "links": [
    {"id": "a", "device": "/dev/ttyUSB0", "role": "bogus"}
  ]
}`)
	_, err := Load(path, "")
	require.Error(t, err)
}

func TestLoadRejectsEmptyLinks(t *testing.T) {
	path := writeTempConfig(t, `{"links": []}`)
	_, err := Load(path, "")
	require.Error(t, err)
}

func TestDefaultsApplyWhenSectionsOmitted(t *testing.T) {
	path := writeTempConfig(t, `{"links": [{"id": "a", "device": "/dev/ttyUSB0", "role": "direct"}]}`)
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.Correlator.PendingCapacity)
	assert.Equal(t, ":9108", cfg.Health.ListenAddr)
}
