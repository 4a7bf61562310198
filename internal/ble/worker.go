package ble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/device"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/model"
)

type workerState int

const (
	stateIdle workerState = iota
	stateConnecting
	stateStreaming
	stateDisconnecting
)

func (s workerState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateStreaming:
		return "streaming"
	case stateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// connectionWorker is one of the M identical state machines described in
// spec §4.3. At most one patch connection is owned by a worker at a
// time; all calls into the shared BLE adapter go through executor so no
// two workers ever touch go-ble concurrently.
type connectionWorker struct {
	id       int
	name     string
	hub      *hub.Hub
	cfg      *config.Settings
	logger   *logrus.Logger
	executor *adapterExecutor
	dialer   DialerFactory

	state          workerState
	patch          model.PatchID
	dialerInst     Dialer
	configValue    byte
	configDeadline time.Time
}

func newConnectionWorker(id int, h *hub.Hub, cfg *config.Settings, logger *logrus.Logger, executor *adapterExecutor, dialer DialerFactory) *connectionWorker {
	return &connectionWorker{
		id:       id,
		name:     fmt.Sprintf("ble-worker-%d", id),
		hub:      h,
		cfg:      cfg,
		logger:   logger,
		executor: executor,
		dialer:   dialer,
	}
}

func (w *connectionWorker) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		switch w.state {
		case stateIdle:
			w.runIdle(ctx)
		case stateConnecting:
			w.runConnecting(ctx)
		case stateStreaming:
			w.runStreaming(ctx)
		case stateDisconnecting:
			w.runDisconnecting(ctx)
		}
	}
}

// runIdle polls the intent mailbox every IdlePollInterval, claiming an
// arbitrary pending Connect atomically.
func (w *connectionWorker) runIdle(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.cfg.IdlePollInterval):
	}

	patch, ok := w.hub.TakeAnyConnectIntent()
	if !ok {
		return
	}
	w.patch = patch
	w.dialerInst = w.dialer()
	w.state = stateConnecting
}

// runConnecting opens the link with a 60s hard timeout; on success reads
// firmware version, marks the patch connected, and subscribes to all six
// notifying characteristics. Distinguishes transient bus errors (backoff
// + re-post intent) from terminal errors (log, go Idle, no re-post) per
// spec §4.3/§7.
func (w *connectionWorker) runConnecting(ctx context.Context) {
	log := w.logger.WithFields(logrus.Fields{"worker": w.name, "patch": w.patch})

	err := w.executor.submit(ctx, func() error {
		return w.dialerInst.Connect(ctx, string(w.patch), w.cfg.ConnectTimeout)
	})
	if err != nil {
		if isTransientBusError(err) {
			log.WithError(err).Warn("transient bus error on connect, will retry")
			select {
			case <-time.After(w.cfg.BusErrorBackoff):
			case <-ctx.Done():
				return
			}
			w.hub.SetIntent(w.patch, model.Intent{Kind: model.Connect})
		} else {
			log.WithError(err).Warn("connect failed, not retrying until control plane re-issues Connect")
		}
		w.resetToIdle()
		return
	}

	var fw model.FirmwareVersion
	err = w.executor.submit(ctx, func() error {
		var e error
		fw, e = w.dialerInst.ReadVersion()
		return e
	})
	if err != nil {
		log.WithError(err).Warn("failed reading firmware version, disconnecting")
		_ = w.executor.submit(ctx, func() error { return w.dialerInst.Disconnect() })
		w.resetToIdle()
		return
	}
	w.hub.MarkConnected(w.patch, fw)

	err = w.executor.submit(ctx, func() error {
		return w.dialerInst.SubscribeAll(Decode, func(sample model.RawSample) {
			w.hub.AppendRaw(w.patch, sample)
		})
	})
	if err != nil {
		log.WithError(err).Warn("failed enabling notifications, disconnecting")
		w.hub.MarkDisconnected(w.patch)
		_ = w.executor.submit(ctx, func() error { return w.dialerInst.Disconnect() })
		w.resetToIdle()
		return
	}

	log.Info("patch connected and streaming")
	w.state = stateStreaming
}

// runStreaming performs the per-second housekeeping described in spec
// §4.3: watch for a Disconnect intent or a dropped link, and propagate
// any pending config byte for up to a 30s window.
func (w *connectionWorker) runStreaming(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.cfg.HousekeepingTick):
	}

	if w.hub.HasDisconnectIntent(w.patch) {
		w.state = stateDisconnecting
		return
	}

	if !w.dialerInst.Connected() {
		w.logger.WithField("patch", w.patch).Warn("link lost while streaming")
		w.state = stateDisconnecting
		return
	}

	w.propagatePendingConfig(ctx)
}

func (w *connectionWorker) propagatePendingConfig(ctx context.Context) {
	pending := w.hub.PendingConfig()
	if pending == 0 {
		w.configValue = 0
		return
	}

	if pending != w.configValue {
		w.configValue = pending
		w.configDeadline = time.Now().Add(w.cfg.ConfigWindow)
	}

	if err := w.executor.submit(ctx, func() error {
		return w.dialerInst.WriteConfig(pending)
	}); err != nil {
		w.logger.WithFields(logrus.Fields{"patch": w.patch, "error": err}).Warn("failed writing pending config byte")
	}

	if !w.configDeadline.IsZero() && time.Now().After(w.configDeadline) {
		w.hub.ClearPendingConfig(pending)
		w.configValue = 0
		w.configDeadline = time.Time{}
	}
}

// runDisconnecting best-effort stops notifications, closes the link, and
// removes the patch's intent entry (spec §4.3's Disconnect flow).
func (w *connectionWorker) runDisconnecting(ctx context.Context) {
	if err := w.executor.submit(ctx, func() error { return w.dialerInst.Disconnect() }); err != nil {
		w.logger.WithFields(logrus.Fields{"patch": w.patch, "error": err}).Warn("disconnect reported error, proceeding anyway")
	}
	w.hub.MarkDisconnected(w.patch)
	w.hub.ClearIntent(w.patch)
	w.resetToIdle()
}

func (w *connectionWorker) resetToIdle() {
	w.patch = ""
	w.dialerInst = nil
	w.configValue = 0
	w.configDeadline = time.Time{}
	w.state = stateIdle
}

// isTransientBusError classifies connect-time errors the way Ble.py
// distinguishes BleakDBusError (retryable) from TimeoutError/BleakError
// (terminal): a context deadline exceeded, or any error the device layer
// reports as "not connected"/"not initialized", is terminal — the
// adapter or the peripheral is in a bad state that a 2s retry won't fix.
// Anything else surfacing from Dial/DiscoverProfile (bus contention,
// transient D-Bus/HCI failures) gets one re-post.
func isTransientBusError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, device.ErrNotConnected) || errors.Is(err, device.ErrNotInitialized) {
		return false
	}
	return true
}
