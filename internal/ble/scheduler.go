package ble

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/groutine"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/model"
)

// NotifyHandler receives one decoded raw sample from a subscribed patch.
type NotifyHandler func(model.RawSample)

// Dialer opens and drives a single patch connection. Implemented by
// goble.Connection; abstracted here so workers are testable with a fake
// (see fakeDialer in internal/ble/worker_test.go).
type Dialer interface {
	Connect(ctx context.Context, addr string, timeout time.Duration) error
	Disconnect() error
	ReadVersion() (model.FirmwareVersion, error)
	WriteConfig(value byte) error
	SubscribeAll(decode func(model.Characteristic, []byte, int64) (model.RawSample, error), fn NotifyHandler) error
	Connected() bool
}

// DialerFactory builds a fresh, unconnected Dialer for one connection
// attempt.
type DialerFactory func() Dialer

// Scheduler runs M connectionWorker state machines plus the janitor. The
// non-reentrant go-ble adapter is serialized behind a single executor
// goroutine (see executor.go); everything else — timer-driven polling,
// per-worker state — runs concurrently since it never touches the
// adapter directly. This is the cooperative runtime spec §4.3/§9 call
// for: concurrency among workers, never parallel access to the link.
type Scheduler struct {
	hub      *hub.Hub
	cfg      *config.Settings
	logger   *logrus.Logger
	dialer   DialerFactory
	executor *adapterExecutor

	workers []*connectionWorker
}

// NewScheduler constructs a Scheduler with cfg.DeviceMaximum workers.
func NewScheduler(h *hub.Hub, cfg *config.Settings, logger *logrus.Logger, dialerFactory DialerFactory) *Scheduler {
	s := &Scheduler{
		hub:      h,
		cfg:      cfg,
		logger:   logger,
		dialer:   dialerFactory,
		executor: newAdapterExecutor(),
	}
	s.workers = make([]*connectionWorker, cfg.DeviceMaximum)
	for i := range s.workers {
		s.workers[i] = newConnectionWorker(i, h, cfg, logger, s.executor, dialerFactory)
	}
	return s
}

// Run starts the adapter executor, the janitor, and every worker, then
// blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	groutine.Go(ctx, "ble-adapter-executor", func(ctx context.Context) {
		s.executor.run(ctx)
	})
	groutine.Go(ctx, "ble-janitor", func(ctx context.Context) {
		runJanitor(ctx, s.hub, s.cfg, s.logger)
	})
	for _, w := range s.workers {
		worker := w
		groutine.Go(ctx, worker.name, func(ctx context.Context) {
			worker.run(ctx)
		})
	}

	<-ctx.Done()
}
