// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-backend.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

// Schema is the JSON Schema the gateway's config file is validated
// against before any hardware I/O is attempted.
var Schema = `
{
  "type": "object",
  "required": ["links"],
  "properties": {
    "links": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "device", "role"],
        "properties": {
          "id": { "type": "string", "minLength": 1 },
          "device": { "type": "string", "minLength": 1 },
          "baud": { "type": "integer", "minimum": 300 },
          "role": { "type": "string", "enum": ["direct", "primary"] },
          "max_frame_len": { "type": "integer", "minimum": 16 },
          "radio_profile": {
            "type": "object",
            "additionalProperties": { "type": "integer" }
          }
        }
      }
    },
    "control": {
      "type": "object",
      "properties": {
        "session_timeout": { "type": "string" },
        "firmware_chunk_size": { "type": "integer", "minimum": 1, "maximum": 255 }
      }
    },
    "correlator": {
      "type": "object",
      "properties": {
        "pending_capacity": { "type": "integer", "minimum": 1 },
        "match_window": { "type": "string" }
      }
    },
    "store": {
      "type": "object",
      "properties": {
        "driver": { "type": "string", "enum": ["sqlite3"] },
        "dsn": { "type": "string", "minLength": 1 },
        "batch_window": { "type": "string" },
        "batch_size": { "type": "integer", "minimum": 1 },
        "queue_cap": { "type": "integer", "minimum": 1 },
        "retention_days": { "type": "integer", "minimum": 0 },
        "fault_coalesce_window": { "type": "string" }
      }
    },
    "publisher": {
      "type": "object",
      "properties": {
        "topic_prefix": { "type": "string" },
        "nats": {
          "type": "object",
          "properties": { "url": { "type": "string" } }
        },
        "mqtt": {
          "type": "object",
          "properties": {
            "broker": { "type": "string" },
            "client_id": { "type": "string" },
            "username": { "type": "string" },
            "password": { "type": "string" }
          }
        }
      }
    },
    "health": {
      "type": "object",
      "properties": {
        "listen_addr": { "type": "string" }
      }
    },
    "schedule": {
      "type": "object",
      "properties": {
        "duplicate_address_sweep_cron": { "type": "string" },
        "retention_sweep_cron": { "type": "string" },
        "health_snapshot_cron": { "type": "string" }
      }
    }
  }
}
`
