// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the gateway's configuration: one
// entry per radio link, the control-plane/correlator/store/publisher/
// health/schedule sections described in the top-level design notes.
// Configuration is loaded once at startup and passed by value to every
// task at construction — nothing in this package is read after Load
// returns.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"

	"github.com/gasmesh/gateway/internal/store"
	"github.com/gasmesh/gateway/pkg/log"
)

// Role is a radio link's position in the mesh: sensors either reach this
// receiver directly, or after one hop through a repeater onto the
// cluster's one primary link.
type Role string

const (
	RoleDirect  Role = "direct"
	RolePrimary Role = "primary"
)

// LinkConfig describes one radio network's serial port and role.
type LinkConfig struct {
	ID          string `json:"id"`
	Device      string `json:"device"`
	Baud        int    `json:"baud"`
	Role        Role   `json:"role"`
	MaxFrameLen int    `json:"max_frame_len"`

	// RadioProfile is a loosely-typed map of documented EEPROM byte
	// offsets to configured values, decoded with mapstructure since the
	// key set varies by deployment and firmware revision.
	RadioProfile map[string]int `json:"radio_profile"`
}

// ControlConfig governs command-mode session behavior shared by every
// link's arbiter.
type ControlConfig struct {
	SessionTimeout    store.Duration `json:"session_timeout"`
	FirmwareChunkSize int            `json:"firmware_chunk_size"`
}

// CorrelatorConfig governs the direct/primary matching pipeline.
type CorrelatorConfig struct {
	PendingCapacity int            `json:"pending_capacity"`
	MatchWindow     store.Duration `json:"match_window"`
}

// PublisherConfig selects and configures the outbound broker sinks.
type PublisherConfig struct {
	TopicPrefix string      `json:"topic_prefix"`
	NATS        *NATSConfig `json:"nats"`
	MQTT        *MQTTConfig `json:"mqtt"`
}

// NATSConfig configures the NATS publisher sink.
type NATSConfig struct {
	URL string `json:"url"`
}

// MQTTConfig configures the MQTT publisher sink.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// HealthConfig configures the Prometheus metrics endpoint.
type HealthConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// ScheduleConfig holds cron expressions for the periodic maintenance jobs.
type ScheduleConfig struct {
	DuplicateAddressSweepCron string `json:"duplicate_address_sweep_cron"`
	RetentionSweepCron        string `json:"retention_sweep_cron"`
	HealthSnapshotCron        string `json:"health_snapshot_cron"`
}

// GatewayConfig is the root configuration loaded from the config file.
type GatewayConfig struct {
	Links      []LinkConfig     `json:"links"`
	Control    ControlConfig    `json:"control"`
	Correlator CorrelatorConfig `json:"correlator"`
	Store      store.Config     `json:"store"`
	Publisher  PublisherConfig  `json:"publisher"`
	Health     HealthConfig     `json:"health"`
	Schedule   ScheduleConfig   `json:"schedule"`
}

// Default returns a GatewayConfig with every section's documented
// defaults, suitable as the decode target before Load overlays the
// config file and environment on top.
func Default() GatewayConfig {
	return GatewayConfig{
		Control: ControlConfig{
			SessionTimeout:    store.Duration(5 * time.Second),
			FirmwareChunkSize: 128,
		},
		Correlator: CorrelatorConfig{
			PendingCapacity: 4096,
			MatchWindow:     store.Duration(10 * time.Second),
		},
		Store: store.DefaultConfig(),
		Publisher: PublisherConfig{
			TopicPrefix: "gasmesh",
		},
		Health: HealthConfig{
			ListenAddr: ":9108",
		},
		Schedule: ScheduleConfig{
			DuplicateAddressSweepCron: "*/5 * * * *",
			RetentionSweepCron:        "0 4 * * *",
			HealthSnapshotCron:        "*/1 * * * *",
		},
	}
}

// Load reads envFile (if present) into the process environment, then
// reads and validates configFile against Schema, and decodes it over
// Default(). Per-link radio profile maps are decoded through
// mapstructure because their key set is deployment-specific.
func Load(configFile, envFile string) (GatewayConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return GatewayConfig{}, fmt.Errorf("config: loading env file: %w", err)
		}
	}

	raw, err := os.ReadFile(configFile)
	if err != nil {
		return GatewayConfig{}, fmt.Errorf("config: reading %s: %w", configFile, err)
	}

	if err := Validate(Schema, raw); err != nil {
		return GatewayConfig{}, fmt.Errorf("config: %w", err)
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return GatewayConfig{}, fmt.Errorf("config: unmarshalling: %w", err)
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&cfg); err != nil {
		return GatewayConfig{}, fmt.Errorf("config: decoding: %w", err)
	}

	if err := decodeRadioProfiles(generic, &cfg); err != nil {
		return GatewayConfig{}, fmt.Errorf("config: decoding radio profiles: %w", err)
	}

	if len(cfg.Links) == 0 {
		return GatewayConfig{}, fmt.Errorf("config: at least one link is required")
	}

	var primaries int
	ids := map[string]bool{}
	for _, l := range cfg.Links {
		if ids[l.ID] {
			return GatewayConfig{}, fmt.Errorf("config: duplicate link id %q", l.ID)
		}
		ids[l.ID] = true
		if l.Role == RolePrimary {
			primaries++
		}
	}
	if primaries > 1 {
		return GatewayConfig{}, fmt.Errorf("config: at most one primary link is allowed, got %d", primaries)
	}

	log.Infof("config: loaded %d links (%d primary)", len(cfg.Links), primaries)
	return cfg, nil
}

// decodeRadioProfiles re-decodes each link's radio_profile map using
// mapstructure's loose numeric coercion, since JSON numbers arrive as
// float64 and the profile is logically a map of small integers.
func decodeRadioProfiles(generic map[string]interface{}, cfg *GatewayConfig) error {
	links, _ := generic["links"].([]interface{})
	for i, raw := range links {
		if i >= len(cfg.Links) {
			break
		}
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		profile, ok := m["radio_profile"]
		if !ok {
			continue
		}
		var decoded map[string]int
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &decoded,
		})
		if err != nil {
			return fmt.Errorf("link %q: %w", cfg.Links[i].ID, err)
		}
		if err := decoder.Decode(profile); err != nil {
			return fmt.Errorf("link %q: %w", cfg.Links[i].ID, err)
		}
		cfg.Links[i].RadioProfile = decoded
	}
	return nil
}
