// Package model defines the data types shared across the base station's
// stages: patch/patient identifiers, connect/disconnect intents, raw
// characteristic samples, and the derived datapoints the DSP stage emits.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PatchID is the patch's link-layer address (e.g. "AA:BB:CC:DD:EE:01").
// Externally assigned by the hardware; never mutated once seen.
type PatchID string

// PatientID is the opaque upstream identity a patch is currently bound to.
type PatientID string

// FirmwareVersion is the UTF-8 string read once from the version
// characteristic on connect.
type FirmwareVersion string

// IntentKind distinguishes a pending connect from a pending disconnect.
type IntentKind int

const (
	Connect IntentKind = iota
	Disconnect
)

func (k IntentKind) String() string {
	if k == Connect {
		return "connect"
	}
	return "disconnect"
}

// Intent is a connect/disconnect request awaiting action by a BLE worker,
// keyed by PatchID in the hub's intent mailbox.
type Intent struct {
	Kind IntentKind
}

// Characteristic identifies one of the patch's six notifying GATT
// characteristics plus the two non-notifying utility ones (version, config).
type Characteristic int

const (
	CharIMU Characteristic = iota
	CharPPG
	CharAudio
	CharVoltage
	CharCurrent
	CharTemperature
	CharVersion
	CharConfig
)

func (c Characteristic) String() string {
	switch c {
	case CharIMU:
		return "imu"
	case CharPPG:
		return "ppg"
	case CharAudio:
		return "audio"
	case CharVoltage:
		return "voltage"
	case CharCurrent:
		return "current"
	case CharTemperature:
		return "temperature"
	case CharVersion:
		return "version"
	case CharConfig:
		return "config"
	default:
		return "unknown"
	}
}

// MarshalJSON renders a Characteristic by name rather than its
// underlying int, matching pkg/device's BLEDevice.MarshalJSON convention.
func (c Characteristic) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// CharacteristicSpec describes the wire layout of one characteristic: its
// GATT handle, the byte width of one element, and whether elements are
// signed little-endian integers. Grounded on spec §6 / Ble.py's
// notify_handles + bytes_per_int tables.
type CharacteristicSpec struct {
	Handle int
	Name   Characteristic
	Width  int
	Signed bool
	Notify bool
}

// Handles is the fixed handle table for every smart patch, indexed by
// Characteristic. Audio is present on the wire but unused downstream.
var Handles = map[Characteristic]CharacteristicSpec{
	CharIMU:         {Handle: 2, Name: CharIMU, Width: 2, Signed: true, Notify: true},
	CharPPG:         {Handle: 6, Name: CharPPG, Width: 4, Signed: true, Notify: true},
	CharAudio:       {Handle: 25, Name: CharAudio, Width: 2, Signed: false, Notify: true},
	CharVoltage:     {Handle: 29, Name: CharVoltage, Width: 4, Signed: false, Notify: true},
	CharCurrent:     {Handle: 32, Name: CharCurrent, Width: 4, Signed: false, Notify: true},
	CharTemperature: {Handle: 41, Name: CharTemperature, Width: 4, Signed: false, Notify: true},
	CharVersion:     {Handle: 36, Name: CharVersion, Width: 0, Signed: false, Notify: false},
	CharConfig:      {Handle: 38, Name: CharConfig, Width: 1, Signed: false, Notify: false},
}

// NotifyCharacteristics returns the six characteristics a connected worker
// subscribes to, in a stable order (lowest handle first).
func NotifyCharacteristics() []Characteristic {
	return []Characteristic{CharIMU, CharPPG, CharAudio, CharVoltage, CharCurrent, CharTemperature}
}

// RawSample is one decoded notification: a wall-clock timestamp in
// milliseconds, the source characteristic, and its decoded element values.
type RawSample struct {
	TsMs   int64
	Char   Characteristic
	Values []float64
}

// Datapoint is one per-patch physiological summary emitted by the DSP
// stage, keyed by patch identity in the processed mailbox. When Raw is
// non-nil, this entry is a pass-through record: the raw sample it wraps
// is carried verbatim (spec §4.4 pass-through mode) and every other
// field is left zero — computation is bypassed entirely, not just
// abbreviated.
type Datapoint struct {
	TsMs               int64
	FirmwareVersion    FirmwareVersion
	BatteryPercentage  float64
	Temperature        float64
	HeartRate          float64
	RespirationRate     float64
	BloodOxygenation   float64
	ActivityLevel      int

	Raw *RawSample
}

// NormalizePatchID lowercases and trims a patch address so map lookups are
// stable regardless of the case the link layer or the control plane uses.
func NormalizePatchID(id PatchID) PatchID {
	return PatchID(strings.ToLower(strings.TrimSpace(string(id))))
}

func (p PatchID) String() string { return string(p) }

// Validate reports whether a PatchID looks like a colon-separated MAC
// address; used to reject obviously malformed control-plane payloads.
func (p PatchID) Validate() error {
	parts := strings.Split(string(p), ":")
	if len(parts) != 6 {
		return fmt.Errorf("patch id %q: expected 6 colon-separated octets, got %d", p, len(parts))
	}
	return nil
}
