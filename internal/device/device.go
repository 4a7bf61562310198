// Package device holds the connection-error vocabulary shared by the BLE
// supervisor and its go-ble-backed connector (internal/ble,
// internal/ble/goble). Trimmed from the teacher's internal/device, which
// also defined a full GATT discovery/inspection interface vocabulary
// (Device, Connection, Service, Characteristic, Descriptor, Property,
// ScanningDevice, Advertisement, ...) for its interactive CLI; none of
// that is reached by an automated gateway that only ever dials the six
// fixed handles of spec §6 (see DESIGN.md §9).
package device

import "fmt"

// ConnectionState represents the specific kind of connection state failure.
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem.
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State.
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states.
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)
