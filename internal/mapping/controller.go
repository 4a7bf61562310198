// Package mapping implements the mapping controller: the startup fetch of
// the patient/patch roster and the live control-plane subscription that
// keeps the hub's PatientMapping and Intent mailboxes current (spec §4.2).
package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/model"
	"github.com/srg/patchstation/internal/telemetry"
)

// disconnectedSentinel is the control plane's "this patch has no current
// mac address" value, grounded on Mapping.py's disconnect_update check.
const disconnectedSentinel = "disconnected"

// Controller owns the REST startup fetch and the MQTT live-update
// subscription, translating control-plane events into Hub mutations.
type Controller struct {
	hub    *hub.Hub
	cfg    *config.Settings
	rest   *telemetry.RESTClient
	mqtt   *telemetry.MQTTClient
	logger *logrus.Logger
}

// NewController wires a Controller to its transports; rest and mqtt may be
// constructed independently since the initial fetch and the live
// subscription use different protocols (spec §4.2).
func NewController(h *hub.Hub, cfg *config.Settings, rest *telemetry.RESTClient, mqttClient *telemetry.MQTTClient, logger *logrus.Logger) *Controller {
	return &Controller{hub: h, cfg: cfg, rest: rest, mqtt: mqttClient, logger: logger}
}

// InitialFetch implements spec §4.2's startup-only concern: reads the
// patient roster and existing patch bindings, seeding PatientMapping and a
// Connect intent for every bound patch. Grounded on Mapping.py's
// get_patient_mapping + configure_basestation.
func (c *Controller) InitialFetch(ctx context.Context) error {
	devices, err := c.rest.TenantDevices("Patient", c.cfg.MaxPatients)
	if err != nil {
		return fmt.Errorf("mapping: initial fetch failed: %w", err)
	}

	for _, d := range devices {
		value, ok, err := c.rest.Attribute(d.ID, "Mac-Address")
		if err != nil {
			c.logger.WithError(err).WithField("patient", d.Name).Warn("mapping: failed to fetch mac address")
			continue
		}
		if !ok || value == disconnectedSentinel {
			continue
		}
		patch := model.NormalizePatchID(model.PatchID(value))
		c.hub.SeedMapping(patch, model.PatientID(d.Name))
		c.hub.SetIntent(patch, model.Intent{Kind: model.Connect})
	}

	c.applyBaseStationConfig()
	c.logState("initial fetch")
	return nil
}

// applyBaseStationConfig fetches the five dynamic flags plus
// SmartPatchConfig from the backend, grounded on Mapping.py's get_config /
// set_new_config. Any attribute that isn't yet defined upstream is simply
// skipped — matching the original's "no custom configuration found" path.
func (c *Controller) applyBaseStationConfig() {
	for _, key := range config.BaseStationConfigKeys {
		value, ok, err := c.rest.Attribute(c.cfg.BasestationName, key)
		if err != nil || !ok {
			continue
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			c.logger.WithField("key", key).Warn("mapping: malformed base station config attribute, ignoring")
			continue
		}
		c.cfg.ApplyBaseStationKey(key, b)
	}

	value, ok, err := c.rest.Attribute(c.cfg.BasestationName, "SmartPatchConfig")
	if err == nil && ok {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 && n <= 255 {
			c.hub.SetPendingConfig(byte(n))
		}
	}
}

// Run subscribes to the Connected, Disconnected and SmartPatchConfig
// topics plus one topic per base-station config key, and blocks until ctx
// is cancelled. No other topic is subscribed. Grounded on Mapping.py's
// get_updates + on_update dispatch.
func (c *Controller) Run(ctx context.Context) error {
	c.mqtt.Subscribe("Connected", c.handleConnected)
	c.mqtt.Subscribe("Disconnected", c.handleDisconnected)
	c.mqtt.Subscribe("SmartPatchConfig", c.handleSmartPatchConfig)
	for _, key := range config.BaseStationConfigKeys {
		key := key
		c.mqtt.Subscribe(key, func(_ string, payload []byte) {
			c.handleBaseStationConfig(key, payload)
		})
	}

	<-ctx.Done()
	return ctx.Err()
}

// handleConnected implements spec §4.2's connect event flow via
// Hub.ConnectPatient, which already holds PatientMapping before Intents.
func (c *Controller) handleConnected(_ string, payload []byte) {
	patientID, patchValue, err := parseSingleEntry(payload)
	if err != nil {
		c.logger.WithError(err).Warn("mapping: malformed Connected payload, ignoring")
		return
	}
	patch := model.NormalizePatchID(model.PatchID(patchValue))
	evicted := c.hub.ConnectPatient(model.PatientID(patientID), patch)
	for _, old := range evicted {
		c.logger.WithFields(logrus.Fields{"patient": patientID, "evicted_patch": old}).
			Info("mapping: patient migrated to a new patch")
	}
	c.logState("Connected")
}

// handleDisconnected implements spec §4.2's Disconnected row.
func (c *Controller) handleDisconnected(_ string, payload []byte) {
	_, patchValue, err := parseSingleEntry(payload)
	if err != nil {
		c.logger.WithError(err).Warn("mapping: malformed Disconnected payload, ignoring")
		return
	}
	patch := model.NormalizePatchID(model.PatchID(patchValue))
	c.hub.DisconnectPatch(patch, patchValue == disconnectedSentinel)
	c.logState("Disconnected")
}

func (c *Controller) handleSmartPatchConfig(_ string, payload []byte) {
	var n int
	if err := json.Unmarshal(payload, &n); err != nil || n < 0 || n > 255 {
		c.logger.WithError(err).Warn("mapping: malformed SmartPatchConfig payload, ignoring")
		return
	}
	c.hub.SetPendingConfig(byte(n))
	c.logState("SmartPatchConfig")
}

func (c *Controller) handleBaseStationConfig(key string, payload []byte) {
	var value bool
	if err := json.Unmarshal(payload, &value); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("mapping: malformed base station config payload, ignoring")
		return
	}
	c.cfg.ApplyBaseStationKey(key, value)
	c.logger.WithFields(logrus.Fields{"key": key, "value": value}).
		Info("mapping: base station configuration updated, restart required to apply")
}

// parseSingleEntry decodes the control plane's {key: value} single-pair
// JSON object convention used by the Connected/Disconnected topics.
func parseSingleEntry(payload []byte) (key, value string, err error) {
	var m map[string]string
	if err := json.Unmarshal(payload, &m); err != nil {
		return "", "", fmt.Errorf("decoding payload: %w", err)
	}
	if len(m) != 1 {
		return "", "", fmt.Errorf("expected exactly one key-value pair, got %d", len(m))
	}
	for k, v := range m {
		return k, v, nil
	}
	return "", "", fmt.Errorf("unreachable")
}

// logState supplements original_source/Basestation/Output.py's show_state,
// logged structurally instead of printed.
func (c *Controller) logState(reason string) {
	c.logger.WithFields(logrus.Fields{
		"reason":        reason,
		"mapping_count": c.hub.MappingSize(),
	}).Info("mapping: state updated")
}
