// Package fieldbus documents the monitors' Modbus register layout as
// named constants. The fieldbus client itself is a standard request/
// response protocol with mature libraries available and is treated as
// an external collaborator — this package carries no transport code,
// only the register vocabulary, so anything correlating gateway
// Samples against fieldbus ground truth shares one source of truth for
// offsets instead of re-deriving them.
package fieldbus

import "strconv"

// Per-channel register bases. A channel's concrete register is
// ChannelRegister(base, channel); Float32 registers occupy two
// consecutive 16-bit words.
const (
	RadioAddressBase    = 0x01  // channels 1-32: configured radio address
	ReadingBase         = 0x21  // channels 1-32: reading, Float32
	ModeBase            = 0x61  // channels 1-32: mode code
	BatteryBase         = 0x81  // channels 1-32: battery voltage, Float32
	SecondsSinceMsgBase = 0xC1  // channels 1-32: seconds since last message
	SensorTypeBase      = 0xE1  // channels 1-32: sensor type code
	GasTypeBase         = 0x101 // channels 1-32: gas type code
	FaultBase           = 0x121 // channels 1-32: fault code
	Relay1EnableBase    = 0x161 // channels 1-32: relay 1 on/off
	Relay1SetpointBase  = 0x1A1 // channels 1-32: relay 1 setpoint, Float32
	WiredRadioSelectBase = 0x1A5 // channels 29-32: wired/radio select
	DaysSinceNullBase   = 0x3E1 // channels 1-32: days since last nulled
	DaysSinceCalBase    = 0x401 // channels 1-32: days since last calibrated
)

// Device-level (non-channel) registers.
const (
	ModbusAddress          = 0x1771
	ModbusBaudRate         = 0x1772
	DateMonth              = 0x1773
	DateDay                = 0x1774
	DateYear               = 0x1775
	SerialNumber           = 0x1777 // 32-bit, occupies two registers
	RestoreFactoryDefault  = 0x177B
	Relay3AsFault          = 0x177C
	Relay1Failsafe         = 0x177D
	Relay2Failsafe         = 0x177E
	Relay3Failsafe         = 0x177F
	FaultTerminalFailsafe  = 0x1781
	RadioTimeoutMinutes    = 0x1782
	NetworkChannel         = 0x1783
	PrimarySecondary       = 0x1784 // 0 = primary, 1 = secondary
	Relay1InAlarm          = 0x1785
	Relay2InAlarm          = 0x1786
	Relay3InAlarm          = 0x1787
)

// Diagnostic counters.
const (
	Reset          = 0x2704 // write 1 to reset the unit
	SerialRXGood   = 0x2705
	SerialRXError  = 0x2706
	SerialTXGood   = 0x2707
	SerialTXError  = 0x2708
	RadioRXGood    = 0x2709
	RadioRXError   = 0x270A
	RadioTXGood    = 0x270B
	RadioTXError   = 0x270C
	UptimeDays     = 0x270D
	UptimeHours    = 0x270E
	UptimeMinutes  = 0x270F
)

// ChannelRegister computes the register address for a channel-indexed
// base (channel is 1-32). float32Wide registers occupy two consecutive
// words per channel, so they advance by 2 instead of 1.
func ChannelRegister(base int, channel int, float32Wide bool) int {
	if float32Wide {
		return base + (channel-1)*2
	}
	return base + (channel - 1)
}

// ModeName renders a mode register value; unrecognized codes render as
// "<kind> <n> (unknown)" (e.g. "mode 99 (unknown)"), surfacing the raw
// value instead of failing.
func ModeName(code int) string {
	switch code {
	case 0:
		return "Off"
	case 1:
		return "Normal"
	case 2:
		return "Inhibit"
	case 3:
		return "Maintenance"
	case 4:
		return "Calibration"
	case 5:
		return "Null"
	default:
		return unknown("mode", code)
	}
}

// FaultName renders a fault register value.
func FaultName(code int) string {
	switch code {
	case 0:
		return "None"
	case 1:
		return "Sensor Timeout"
	case 2:
		return "Sensor reading below null"
	case 3:
		return "Replace sensor element"
	case 4:
		return "ADC not responding"
	case 5:
		return "Null Failed"
	case 6:
		return "Cal Failed"
	case 8:
		return "Two Sensors Same Address"
	case 9:
		return "Sensor Radio Timeout"
	case 10:
		return "No sensor connected (Wired)"
	case 11:
		return "Rapid temperature change"
	case 12:
		return "Sensor Element Restarting"
	case 13:
		return "Unspecified Error on sensor unit"
	case 14:
		return "No Primary Monitor at Sensor Head"
	default:
		return unknown("fault", code)
	}
}

func unknown(kind string, code int) string {
	return kind + " " + strconv.Itoa(code) + " (unknown)"
}
