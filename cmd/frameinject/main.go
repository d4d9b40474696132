// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// frameinject is a bench-testing tool: it synthesizes Gen2 sensor
// frames with internal/sensor.Encode, wraps them in the 0x81 on-wire
// framing internal/frame expects, and writes them directly onto a
// serial port — letting a developer exercise a running gateway's
// receiver/correlator/store/publisher chain without real sensor
// hardware attached.
package main

import (
	"flag"
	"time"

	"github.com/gasmesh/gateway/internal/sensor"
	"github.com/gasmesh/gateway/internal/serialport"
	"github.com/gasmesh/gateway/pkg/log"
)

var (
	flagDevice   string
	flagBaud     int
	flagChannel  uint
	flagProtocol string
	flagReading  float64
	flagCount    int
	flagInterval time.Duration
	flagRepeated bool
)

func cliInit() {
	flag.StringVar(&flagDevice, "device", "/dev/ttyUSB0", "Serial `device` to write synthesized frames onto")
	flag.IntVar(&flagBaud, "baud", 9600, "Serial baud rate")
	flag.UintVar(&flagChannel, "channel", 1, "Sensor `channel` number to synthesize")
	flag.StringVar(&flagProtocol, "protocol", "full", "Gen2 protocol to emit: `full`, `alert`, or `maintenance`")
	flag.Float64Var(&flagReading, "reading", 42.0, "Reading value to encode")
	flag.IntVar(&flagCount, "count", 1, "Number of frames to send")
	flag.DurationVar(&flagInterval, "interval", time.Second, "Delay between frames when count > 1")
	flag.BoolVar(&flagRepeated, "repeated", false, "Set the repeated flag and append a synthetic sensor MAC/RSSI trailer")
	flag.Parse()
}

func main() {
	cliInit()

	port, err := serialport.Open(serialport.Config{Device: flagDevice, Baud: flagBaud})
	if err != nil {
		log.Fatalf("frameinject: opening %s: %s", flagDevice, err.Error())
	}
	defer port.Close()

	sample := buildSample(uint16(flagChannel), protocolFromFlag(flagProtocol), float32(flagReading))

	for i := 0; i < flagCount; i++ {
		wire, err := wireFrame(sample, flagRepeated)
		if err != nil {
			log.Fatalf("frameinject: encoding frame: %s", err.Error())
		}
		if err := port.WriteAll(wire); err != nil {
			log.Fatalf("frameinject: writing frame: %s", err.Error())
		}
		log.Infof("frameinject: sent %s frame on channel %d (%d bytes)", flagProtocol, flagChannel, len(wire))

		if i < flagCount-1 {
			time.Sleep(flagInterval)
		}
	}
}

func protocolFromFlag(name string) sensor.Protocol {
	switch name {
	case "alert":
		return sensor.ProtocolQuickAlert
	case "maintenance":
		return sensor.ProtocolMaintenance
	default:
		return sensor.ProtocolFullReading
	}
}

func buildSample(channel uint16, proto sensor.Protocol, reading float32) sensor.Sample {
	return sensor.Sample{
		Channel:        channel,
		Protocol:       proto,
		Reading:        reading,
		GasType:        sensor.GasH2S,
		SensorType:     sensor.SensorEC,
		SensorMode:     sensor.ModeNormal,
		BatteryVoltage: 3.6,
		FaultCode:      sensor.FaultNone,
		DaysSinceNull:  0,
		DaysSinceCal:   0,
	}
}

// wireFrame wraps sample's encoded Gen2 body in the 0x81 on-wire frame
// internal/frame's demultiplexer expects: a 3-byte header (marker,
// payload length, reserved), a payload of rssi/repeater-MAC/channel/
// protocol/body, and an optional repeated-flag trailer.
func wireFrame(sample sensor.Sample, repeated bool) ([]byte, error) {
	body, err := sensor.Encode(sample)
	if err != nil {
		return nil, err
	}

	protocolByte := byte(sample.Protocol)
	if repeated {
		protocolByte |= 0x80
	}

	payload := []byte{
		0x18, // RSSI byte, an arbitrary mid-range value
		0x00, 0x00, 0x00, // repeater MAC
		byte(sample.Channel >> 8), byte(sample.Channel),
		protocolByte,
	}
	payload = append(payload, body...)

	wire := []byte{0x81, byte(len(payload)), 0x00}
	wire = append(wire, payload...)

	if repeated {
		wire = append(wire, 0x01, 0x02, 0x03, 0xB0) // synthetic sensor MAC + RSSI
	}

	return wire, nil
}
