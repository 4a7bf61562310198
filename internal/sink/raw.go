package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/telemetry"
)

// RawSink is the independent raw-passthrough worker (spec §4.5's "raw
// passthrough", saveRawData = true). It drains the hub's raw tap — a
// second ring buffer fed in parallel with the DSP stage's own raw mailbox
// (see hub.Hub.EnableRawTap) — rather than racing the DSP stage on one
// buffer, which is this implementation's resolution of the original's
// documented "reads but does not clear" duplication hazard.
type RawSink struct {
	hub    *hub.Hub
	cfg    *config.Settings
	mqtt   *telemetry.MQTTClient
	logger *logrus.Logger
}

// NewRawSink constructs a RawSink. Call hub.EnableRawTap() before starting
// BLE workers so no raw sample is missed by the tap.
func NewRawSink(h *hub.Hub, cfg *config.Settings, mqttClient *telemetry.MQTTClient, logger *logrus.Logger) *RawSink {
	return &RawSink{hub: h, cfg: cfg, mqtt: mqttClient, logger: logger}
}

// Run logs the caveat once, enables the tap, then drains it on the
// publishing cadence until ctx is cancelled.
func (s *RawSink) Run(ctx context.Context) error {
	s.logger.Warn("sink: raw passthrough enabled; duplicates against processed data are possible (spec-documented caveat)")
	s.hub.EnableRawTap()

	ticker := time.NewTicker(s.cfg.PublishingDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *RawSink) tick() {
	for _, patch := range s.hub.RawPatchIDs() {
		samples := s.hub.DrainRawTap(patch)
		if len(samples) == 0 {
			continue
		}

		if s.cfg.PublishRawData {
			patient, ok := s.hub.PatientFor(patch)
			if !ok {
				continue
			}
			topic := fmt.Sprintf("v1/devices/%s/raw-telemetry", patient)
			for _, sample := range samples {
				if err := s.mqtt.PublishJSON(topic, map[string]any{
					"ts":            sample.TsMs,
					"characteristic": sample.Char.String(),
					"values":        sample.Values,
				}); err != nil {
					s.logger.WithError(err).WithField("patient", patient).Warn("sink: raw publish failed")
				}
				time.Sleep(publishDelay)
			}
			continue
		}

		for _, sample := range samples {
			if err := appendRawRow(s.cfg.RawLogRoot, patch, sample); err != nil {
				s.logger.WithError(err).WithField("patch", patch).Warn("sink: raw csv write failed")
			}
		}
	}
}
