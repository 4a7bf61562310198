// Package goble adapts the teacher's Darwin-only interactive BLE
// connection layer (internal/device/go-ble) into a fixed-handle,
// Linux/BlueZ-backed connection suitable for an unattended basestation
// gateway: instead of discovering and exposing arbitrary services, it
// connects once, resolves the six known characteristic handles (spec §6),
// and exposes exactly the operations the BLE supervisor needs.
package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	blesup "github.com/srg/patchstation/internal/ble"
	"github.com/srg/patchstation/internal/device"
	"github.com/srg/patchstation/internal/model"
)

// DeviceFactory creates the ble.Device used to dial new connections.
// Overridable in tests, exactly as the teacher's connection.go does for
// its Darwin device.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// Connection is a live link to one patch: notification subscriptions on
// the six known characteristics plus read/write access to version and
// config.
type Connection struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	client  ble.Client
	chars   map[model.Characteristic]*ble.Characteristic
	connect bool
}

// New constructs an unconnected Connection.
func New(logger *logrus.Logger) *Connection {
	return &Connection{logger: logger, chars: make(map[model.Characteristic]*ble.Characteristic)}
}

// Connect dials addr, discovers its profile, and resolves the fixed
// handle table against whatever the device actually exposes. Mirrors the
// teacher's Connect: device-factory indirection for mockability, a
// connect timeout derived from the caller's context, full profile
// discovery once per connection.
func (c *Connection) Connect(ctx context.Context, addr string, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connect {
		return device.ErrAlreadyConnected
	}

	dev, err := DeviceFactory()
	if err != nil {
		return fmt.Errorf("creating ble device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ble.Dial(connCtx, ble.NewAddr(addr))
	if err != nil {
		return fmt.Errorf("dialing %s: %w", addr, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("discovering profile for %s: %w", addr, err)
	}

	chars := make(map[model.Characteristic]*ble.Characteristic, len(model.Handles))
	for _, svc := range profile.Services {
		for _, bc := range svc.Characteristics {
			for name, spec := range model.Handles {
				if int(bc.Handle) == spec.Handle {
					chars[name] = bc
				}
			}
		}
	}

	c.client = client
	c.chars = chars
	c.connect = true
	return nil
}

// Disconnect best-effort stops notifications on every subscribed
// characteristic, then closes the link. Errors during stop_notify are
// logged and otherwise ignored (spec §4.3's Disconnect flow / §7).
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	client := c.client
	chars := c.chars
	c.client = nil
	c.chars = nil
	c.connect = false
	c.mu.Unlock()

	if client == nil {
		return nil
	}

	for name, bc := range chars {
		if err := client.Unsubscribe(bc, false); err != nil {
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{"char": name, "error": err}).Debug("stop_notify failed, proceeding with disconnect")
			}
		}
	}
	return client.CancelConnection()
}

// ReadVersion reads the version characteristic (handle 36) once, used
// during the connect handshake.
func (c *Connection) ReadVersion() (model.FirmwareVersion, error) {
	c.mu.RLock()
	client, bc := c.client, c.chars[model.CharVersion]
	c.mu.RUnlock()

	if client == nil || bc == nil {
		return "", fmt.Errorf("version characteristic unavailable: %w", device.ErrNotConnected)
	}
	data, err := client.ReadCharacteristic(bc)
	if err != nil {
		return "", fmt.Errorf("reading firmware version: %w", err)
	}
	return model.FirmwareVersion(data), nil
}

// WriteConfig writes the one-byte pending config value with response
// (spec §6's handle 38 is write-with-response).
func (c *Connection) WriteConfig(value byte) error {
	c.mu.RLock()
	client, bc := c.client, c.chars[model.CharConfig]
	c.mu.RUnlock()

	if client == nil || bc == nil {
		return fmt.Errorf("config characteristic unavailable: %w", device.ErrNotConnected)
	}
	return client.WriteCharacteristic(bc, []byte{value}, false)
}

// SubscribeAll enables notifications on every notifying characteristic
// present in the discovered profile, decoding each payload via ble.Decode
// and invoking fn with the wall-clock capture time.
func (c *Connection) SubscribeAll(decode func(model.Characteristic, []byte, int64) (model.RawSample, error), fn blesup.NotifyHandler) error {
	c.mu.RLock()
	client := c.client
	chars := c.chars
	c.mu.RUnlock()

	if client == nil {
		return device.ErrNotConnected
	}

	for _, name := range model.NotifyCharacteristics() {
		bc, ok := chars[name]
		if !ok {
			continue
		}
		charName := name
		err := client.Subscribe(bc, false, func(data []byte) {
			ts := time.Now().UnixMilli()
			sample, err := decode(charName, data, ts)
			if err != nil {
				if c.logger != nil {
					c.logger.WithFields(logrus.Fields{"char": charName, "error": err}).Warn("dropping malformed notification")
				}
				return
			}
			fn(sample)
		})
		if err != nil {
			return fmt.Errorf("subscribing to %v: %w", name, err)
		}
	}
	return nil
}

// Connected reports whether the link is currently open.
func (c *Connection) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connect
}

// DialerFactory returns a blesup.DialerFactory that constructs a fresh
// Connection for each connect attempt, wired into the scheduler at
// startup (cmd/patchstation).
func DialerFactory(logger *logrus.Logger) blesup.DialerFactory {
	return func() blesup.Dialer {
		return New(logger)
	}
}
