// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package store

import (
	"time"

	"github.com/gasmesh/gateway/internal/sensor"
)

// Match is a correlated pair of a direct and a repeated observation of
// the same channel, produced by the correlator.
type Match struct {
	Channel           uint16
	DirectLinkID      string
	DirectTimestamp   time.Time
	DirectReading     float32
	RepeatedLinkID    string
	RepeatedTimestamp time.Time
	RepeatedReading   float32
	Latency           time.Duration
}

// FaultEvent is a coalesced run of one fault code on one link/channel:
// repeat occurrences within the store's configured coalescing window extend
// an existing row instead of inserting a new one.
type FaultEvent struct {
	ID              int64
	LinkID          string
	Channel         uint16
	FaultCode       sensor.FaultCode
	FirstSeen       time.Time
	LastSeen        time.Time
	OccurrenceCount int
}

// LinkAggregate summarizes one link's traffic over a window: the §4.7
// "per-link aggregates" query.
type LinkAggregate struct {
	LinkID           string
	PacketCount      int
	DistinctChannels int
	MeanRSSI         float64
	FaultCount       int
}

// DuplicateAddressHit is one (link, channel) observed recently carrying
// a transmitter address that also appears on another channel — a single
// witness of the F8 duplicate-address condition, not the fault event
// itself.
type DuplicateAddressHit struct {
	LinkID             string
	Channel            uint16
	TransmitterAddress uint16
}
