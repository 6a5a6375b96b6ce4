// Package health implements fault reporting and periodic
// self-diagnosis for the backend.
package health

import "strings"

// Level is the severity of a fault code.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "ERROR"
	}
}

// ParseLevel maps a level name to its Level; unknown names map to
// LevelInfo so a misconfigured push gate pushes rather than silences.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "INFO":
		return LevelInfo
	case "WARNING":
		return LevelWarning
	case "ERROR":
		return LevelError
	case "CRITICAL":
		return LevelCritical
	default:
		return LevelInfo
	}
}

// FaultCode describes one entry of the fixed fault registry. PLCValue
// is the numeric code written to the PLC for HMI display.
type FaultCode struct {
	Code        string `json:"code"`
	PLCValue    int    `json:"plc_value"`
	Level       Level  `json:"level"`
	Description string `json:"description"`
}

// Fault mnemonics.
const (
	FaultPLCLink      = "F001"
	FaultModelLoad    = "F002"
	FaultSensorRange  = "F003" // reserved
	FaultLatency      = "F004"
	FaultDiskSpace    = "F005"
	FaultDBWrite      = "F006"
	FaultDBCapacity   = "F007"
	FaultPollerDead   = "F008"
	FaultFSMStuck     = "F009"
	FaultAlarmPush    = "F010"
)

// registry is the fixed fault table known at build time. Order matters:
// ties between equal severities resolve by registration order.
var registry = []FaultCode{
	{FaultPLCLink, 1, LevelCritical, "PLC connection lost"},
	{FaultModelLoad, 2, LevelCritical, "AI model load failure"},
	{FaultSensorRange, 3, LevelError, "sensor data out of plausible range"},
	{FaultLatency, 4, LevelWarning, "inference latency over limit"},
	{FaultDiskSpace, 5, LevelError, "disk space low"},
	{FaultDBWrite, 6, LevelError, "database write failure"},
	{FaultDBCapacity, 7, LevelWarning, "database size near limit"},
	{FaultPollerDead, 8, LevelError, "polling worker terminated unexpectedly"},
	{FaultFSMStuck, 9, LevelWarning, "cycle state machine stuck in COLLECTING"},
	{FaultAlarmPush, 10, LevelWarning, "alarm push failed"},
}

// Lookup returns the registry entry for a mnemonic. Unknown codes map
// to a generic ERROR entry with PLC value 99.
func Lookup(code string) FaultCode {
	for _, fc := range registry {
		if fc.Code == code {
			return fc
		}
	}
	return FaultCode{Code: code, PLCValue: 99, Level: LevelError, Description: "unknown fault " + code}
}

// registrationOrder returns the position of a code in the registry,
// used for severity tie-breaking. Unknown codes sort last.
func registrationOrder(code string) int {
	for i, fc := range registry {
		if fc.Code == code {
			return i
		}
	}
	return len(registry)
}
