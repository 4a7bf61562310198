package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/model"
	"github.com/srg/patchstation/internal/telemetry"
)

// publishDelay between per-datapoint publishes within one patch's batch,
// grounded on PublishingTelemetry.py's DataLogger.publish sleep(0.002).
const publishDelay = 2 * time.Millisecond

// Sink is the processed-data sink stage (spec §4.5). Its mode is fixed at
// construction from the two dynamic flags observed at startup, matching
// the original's "evaluated once at startup" rule — live toggles require a
// restart, same as the mapping controller's other config keys.
type Sink struct {
	hub    *hub.Hub
	cfg    *config.Settings
	mqtt   *telemetry.MQTTClient
	logger *logrus.Logger
}

// NewSink constructs a Sink; mqttClient may be nil in local or silent mode.
func NewSink(h *hub.Hub, cfg *config.Settings, mqttClient *telemetry.MQTTClient, logger *logrus.Logger) *Sink {
	return &Sink{hub: h, cfg: cfg, mqtt: mqttClient, logger: logger}
}

// Run dispatches to the mode spec §4.5 describes and blocks until ctx is
// cancelled.
func (s *Sink) Run(ctx context.Context) error {
	switch {
	case s.cfg.PublishToThingsboard:
		return s.runRemote(ctx)
	case s.cfg.LocalDataLogging:
		return s.runLocal(ctx)
	default:
		return s.runSilent(ctx)
	}
}

func (s *Sink) runRemote(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PublishingDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.publishTick()
		}
	}
}

func (s *Sink) publishTick() {
	if s.hub.ProcessedEmpty() {
		return
	}
	batch := s.hub.DrainProcessed()
	for patch, datapoints := range batch {
		patient, ok := s.hub.PatientFor(patch)
		if !ok {
			s.logger.WithField("patch", patch).Warn("sink: no patient bound, dropping batch")
			continue
		}
		topic := fmt.Sprintf("v1/devices/%s/telemetry", patient)
		for _, dp := range datapoints {
			if err := s.mqtt.PublishJSON(topic, telemetryPayload(dp)); err != nil {
				s.logger.WithError(err).WithField("patient", patient).Warn("sink: publish failed")
			}
			time.Sleep(publishDelay)
		}
	}
}

// telemetryPayload mirrors PublishingTelemetry.py's datapoint shape: a
// timestamp plus a flat value map, with firmwareVersion folded in as a
// trailing attribute the way the original appended a second record. A
// pass-through record (dp.Raw != nil) is published verbatim instead —
// no computed field is ever synthesized for it.
func telemetryPayload(dp model.Datapoint) map[string]any {
	if dp.Raw != nil {
		return map[string]any{
			"ts": dp.Raw.TsMs,
			"values": map[string]any{
				"characteristic": dp.Raw.Char.String(),
				"raw":            dp.Raw.Values,
			},
		}
	}
	return map[string]any{
		"ts": dp.TsMs,
		"values": map[string]any{
			"firmwareVersion":   string(dp.FirmwareVersion),
			"batteryPercentage": dp.BatteryPercentage,
			"temperature":       dp.Temperature,
			"heartRate":         dp.HeartRate,
			"respirationRate":   dp.RespirationRate,
			"bloodOxygenation":  dp.BloodOxygenation,
			"activityLevel":     dp.ActivityLevel,
		},
	}
}

func (s *Sink) runLocal(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PublishingDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.localTick()
		}
	}
}

func (s *Sink) localTick() {
	if s.hub.ProcessedEmpty() {
		return
	}
	batch := s.hub.DrainProcessed()
	for patch, datapoints := range batch {
		for _, dp := range datapoints {
			if err := appendDatapointRow(s.cfg.LogRoot, patch, dp); err != nil {
				s.logger.WithError(err).WithField("patch", patch).Warn("sink: local csv write failed")
			}
		}
	}
}

// runSilent implements spec §4.5's silent mode: neither publish flag is
// set, so datapoints are never drained from the hub. This is an accepted
// degraded mode in the original design (the processed mailbox grows
// without bound), surfaced with a loud startup warning rather than
// silently masked by an undocumented fallback.
func (s *Sink) runSilent(ctx context.Context) error {
	s.logger.Warn("sink: neither publishToThingsboard nor localDataLogging is set; " +
		"processed datapoints will accumulate in memory until the process is restarted")
	<-ctx.Done()
	return ctx.Err()
}
