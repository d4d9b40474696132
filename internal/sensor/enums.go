package sensor

import "fmt"

// GasType is the gas a sensor head is configured to measure, documented
// in the legacy monitor firmware's register map.
type GasType byte

const (
	GasH2S GasType = iota
	GasSO2
	GasO2
	GasCO
	GasCL2
	GasCO2
	GasLEL
	GasVOC
	GasFeet
	GasHCl
	GasNH3
)

var gasTypeNames = map[GasType]string{
	GasH2S:  "H2S",
	GasSO2:  "SO2",
	GasO2:   "O2",
	GasCO:   "CO",
	GasCL2:  "CL2",
	GasCO2:  "CO2",
	GasLEL:  "LEL",
	GasVOC:  "VOC",
	GasFeet: "FEET",
	GasHCl:  "HCL",
	GasNH3:  "NH3",
}

// String renders a known gas type by name, or "Unknown(n)" for values the
// decoder does not recognise; a checksum-valid sample with an unknown gas
// type is still decoded and surfaced, per the decode contract.
func (g GasType) String() string {
	if name, ok := gasTypeNames[g]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", byte(g))
}

// SensorType is the sensing element installed in the sensor head.
type SensorType byte

const (
	SensorEC SensorType = iota
	SensorIR
	SensorCB
	SensorMOS
	SensorPID
	SensorTankLevel
	SensorAnalog420
	SensorSwitch
)

const (
	SensorOIWF190 SensorType = 30
	SensorNone    SensorType = 31
)

var sensorTypeNames = map[SensorType]string{
	SensorEC:        "EC",
	SensorIR:        "IR",
	SensorCB:        "CB",
	SensorMOS:       "MOS",
	SensorPID:       "PID",
	SensorTankLevel: "TANK_LEVEL",
	SensorAnalog420: "ANALOG_4_20",
	SensorSwitch:    "SWITCH",
	SensorOIWF190:   "OI_WF190",
	SensorNone:      "NONE",
}

func (s SensorType) String() string {
	if name, ok := sensorTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", byte(s))
}

// SensorMode is the sensor head's current operating mode.
type SensorMode byte

const (
	ModeNormal SensorMode = iota
	ModeNull
	ModeCalibration
	ModeRelay
	ModeRadioAddress
	ModeDiagnostic
	ModeAdvancedMenu
	ModeAdminMenu
)

var sensorModeNames = map[SensorMode]string{
	ModeNormal:       "NORMAL",
	ModeNull:         "NULL",
	ModeCalibration:  "CALIBRATION",
	ModeRelay:        "RELAY",
	ModeRadioAddress: "RADIO_ADDRESS",
	ModeDiagnostic:   "DIAGNOSTIC",
	ModeAdvancedMenu: "ADVANCED_MENU",
	ModeAdminMenu:    "ADMIN_MENU",
}

func (m SensorMode) String() string {
	if name, ok := sensorModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", byte(m))
}

// FaultCode is the 0-15 fault enumeration carried in a FullReading
// sample. FaultDuplicateAddress (F8) is also raised directly by the
// duplicate-address sweep.
type FaultCode byte

const (
	FaultNone FaultCode = iota
	FaultSensorTimeout
	FaultBelowNull
	FaultReplaceElement
	FaultADCNotResponding
	FaultNullFailed
	FaultCalFailed
	FaultReserved7
	FaultDuplicateAddress // F8
	FaultSensorRadioTimeout
	FaultNoSensorConnected
	FaultRapidTempChange
	FaultElementRestarting
	FaultUnspecified
	FaultNoPrimaryMonitor // F14
)

var faultCodeNames = map[FaultCode]string{
	FaultNone:               "None",
	FaultSensorTimeout:      "Sensor Timeout",
	FaultBelowNull:          "Sensor reading below null",
	FaultReplaceElement:     "Replace sensor element",
	FaultADCNotResponding:   "ADC not responding",
	FaultNullFailed:         "Null Failed",
	FaultCalFailed:          "Cal Failed",
	FaultReserved7:          "Future Error",
	FaultDuplicateAddress:   "Two Sensors Same Address",
	FaultSensorRadioTimeout: "Sensor Radio Timeout",
	FaultNoSensorConnected:  "No sensor connected",
	FaultRapidTempChange:    "Rapid temperature change",
	FaultElementRestarting:  "Sensor Element Restarting",
	FaultUnspecified:        "Unspecified Error on sensor unit",
	FaultNoPrimaryMonitor:   "No Primary Monitor at Sensor Head",
}

func (f FaultCode) String() string {
	if name, ok := faultCodeNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", byte(f))
}
