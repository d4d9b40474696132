package sensor

import "math"

// Encode serialises a Sample back into the body bytes that Decode would
// accept for the Sample's Protocol, appending a valid checksum. It exists
// for the bench test-packet emitter (cmd/frameinject) and the decode/
// encode round-trip law: Decode(s.Channel, byte(s.Protocol), Encode(s))
// must reproduce s.
func Encode(s Sample) ([]byte, error) {
	gen2 := []byte{byte(s.Channel >> 8), byte(s.Channel)}

	switch s.Protocol {
	case ProtocolFullReading:
		gen2 = encodeFullReading(gen2, s)
	case ProtocolQuickAlert:
		gen2 = encodeQuickAlert(gen2, s)
	case ProtocolMaintenance:
		gen2 = encodeMaintenance(gen2, s)
	default:
		return nil, &UnknownProtocolError{Value: byte(s.Protocol)}
	}

	gen2 = append(gen2, checksum(gen2))
	// The caller only wants the body (everything after the prepended
	// channel bytes and the protocol byte Decode re-derives from the
	// frame header), matching what internal/frame hands to Decode.
	return gen2[3:], nil
}

func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

func putBE32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func encodeFullReading(gen2 []byte, s Sample) []byte {
	gen2 = append(gen2, byte(ProtocolFullReading))
	gen2 = putBE32(gen2, math.Float32bits(s.Reading))

	modeType := byte(s.SensorMode&0x07) | byte(s.SensorType&0x1F)<<3
	gen2 = append(gen2, modeType)

	var battery byte
	var batteryScale byte
	if s.BatteryVoltage >= 0 && s.BatteryVoltage < 25.6 {
		battery = byte(s.BatteryVoltage*10 + 0.5)
		batteryScale = 0
	} else {
		battery = byte(s.BatteryVoltage)
		batteryScale = 1
	}
	gen2 = append(gen2, battery)

	gasScale := byte(s.GasType&0x7F) | batteryScale<<7
	gen2 = append(gen2, gasScale)

	hasText := byte(0)
	if s.Text != "" {
		hasText = 1
	}
	fpt := byte(s.FaultCode&0x0F)<<4 | byte(s.Precision&0x07)<<1 | hasText
	gen2 = append(gen2, fpt)

	if hasText == 1 {
		text := []byte(s.Text)
		gen2 = append(gen2, byte(len(text)))
		gen2 = append(gen2, text...)
	}
	return gen2
}

func encodeQuickAlert(gen2 []byte, s Sample) []byte {
	gen2 = append(gen2, byte(ProtocolQuickAlert))
	gen2 = putBE32(gen2, math.Float32bits(s.Reading))
	return gen2
}

func encodeMaintenance(gen2 []byte, s Sample) []byte {
	gen2 = append(gen2, byte(ProtocolMaintenance))
	gen2 = putBE32(gen2, math.Float32bits(s.Reading))
	gen2 = append(gen2, byte(s.DaysSinceNull>>8), byte(s.DaysSinceNull))
	gen2 = append(gen2, byte(s.DaysSinceCal>>8), byte(s.DaysSinceCal))
	gen2 = append(gen2, byte(s.SensorMode&0x07))
	return gen2
}
