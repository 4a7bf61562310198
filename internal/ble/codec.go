// Package ble implements the BLE supervisor: M connection workers plus a
// janitor, each on its own goroutine, with every call into the go-ble
// client serialized on a single executor goroutine because that client is
// not reentrant (spec §4.3/§9; see executor.go).
package ble

import (
	"encoding/binary"
	"fmt"

	"github.com/srg/patchstation/internal/model"
)

// ErrBadPayloadLength is returned by Decode when the notification's byte
// length isn't an exact multiple of the characteristic's element width.
var ErrBadPayloadLength = fmt.Errorf("payload length not a multiple of element width")

// Decode converts one raw GATT notification into a RawSample, applying the
// little-endian fixed-width integer decoding spec §4.3/§6 and Ble.py's
// convert_data describe. ts is the wall-clock capture time in
// milliseconds.
func Decode(char model.Characteristic, data []byte, ts int64) (model.RawSample, error) {
	spec, ok := model.Handles[char]
	if !ok || spec.Width == 0 {
		return model.RawSample{}, fmt.Errorf("characteristic %v has no fixed-width decoding", char)
	}
	if len(data)%spec.Width != 0 {
		return model.RawSample{}, fmt.Errorf("%w: %d bytes, width %d", ErrBadPayloadLength, len(data), spec.Width)
	}

	n := len(data) / spec.Width
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		chunk := data[i*spec.Width : (i+1)*spec.Width]
		values[i] = decodeElement(chunk, spec.Signed)
	}

	return model.RawSample{TsMs: ts, Char: char, Values: values}, nil
}

func decodeElement(b []byte, signed bool) float64 {
	switch len(b) {
	case 2:
		u := binary.LittleEndian.Uint16(b)
		if signed {
			return float64(int16(u))
		}
		return float64(u)
	case 4:
		u := binary.LittleEndian.Uint32(b)
		if signed {
			return float64(int32(u))
		}
		return float64(u)
	default:
		// Width 1 (config) or any other width: byte-wise little-endian
		// fallback, sign-extended when signed.
		var acc uint64
		for i := len(b) - 1; i >= 0; i-- {
			acc = acc<<8 | uint64(b[i])
		}
		if signed && len(b) > 0 && b[len(b)-1]&0x80 != 0 {
			return float64(int64(acc) - (1 << (8 * uint(len(b)))))
		}
		return float64(acc)
	}
}

// CharacteristicByHandle looks up which Characteristic owns a GATT handle
// in model.Handles.
func CharacteristicByHandle(handle int) (model.Characteristic, bool) {
	for name, spec := range model.Handles {
		if spec.Handle == handle {
			return name, true
		}
	}
	return 0, false
}
