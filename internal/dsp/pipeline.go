package dsp

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/model"
)

// sampleRateHz is the patch's fixed notification rate (spec glossary).
const sampleRateHz = 100.0

// temperatureScale converts the raw temperature characteristic's counts
// into degrees, grounded on original_source/Basestation/DataProcessing.py's
// division by 200.
const temperatureScale = 200.0

// Pipeline is the DSP stage: it owns the per-patch rolling windows and
// turns raw mailbox traffic into processed Datapoints (spec §4.4), or
// passes every raw sample straight through when processing is turned
// off via the control plane's processData flag.
type Pipeline struct {
	hub    *hub.Hub
	cfg    *config.Settings
	logger *logrus.Logger

	ppgFilter    *BandpassFilter
	pulseFilter  *BandpassFilter
	breathFilter *BandpassFilter

	windows map[model.PatchID]*PatchWindow
}

// NewPipeline constructs a Pipeline with its three fixed bandpass filters
// built once up front (spec §4.4a/§4.4b/§4.4e's [0.7,3.5], [0.05,3.5],
// [0.1,0.5] bands).
func NewPipeline(h *hub.Hub, cfg *config.Settings, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		hub:          h,
		cfg:          cfg,
		logger:       logger,
		ppgFilter:    NewBandpassFilter(3, 0.7, 3.5, sampleRateHz),
		pulseFilter:  NewBandpassFilter(3, 0.05, 3.5, sampleRateHz),
		breathFilter: NewBandpassFilter(3, 0.1, 0.5, sampleRateHz),
		windows:      make(map[model.PatchID]*PatchWindow),
	}
}

// Run drives the DSP stage until ctx is cancelled. When cfg.ProcessData is
// false it runs the lightweight pass-through loop instead of the full
// analysis pipeline (spec §4.4 "Pass-through mode").
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.cfg.ProcessData {
		return p.runPassThrough(ctx)
	}
	return p.runProcessing(ctx)
}

// runProcessing implements the 30s cold-start (spec §9) plus, per patch,
// a minimum-window-length guard: a patch whose PPG window hasn't yet
// reached SampleLength rows is skipped even after the global warmup has
// elapsed, since a freshly (re)connected patch starts its window from
// zero regardless of process uptime. This is the chosen resolution of
// spec §9's open question on per-patch vs. global warmup.
func (p *Pipeline) runProcessing(ctx context.Context) error {
	warmup := time.NewTimer(p.cfg.DSPWarmup)
	defer warmup.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-warmup.C:
	}

	ticker := time.NewTicker(p.cfg.DSPTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Pipeline) tick() {
	now := time.Now().UnixMilli()
	for _, patch := range p.hub.RawPatchIDs() {
		samples := p.hub.DrainRaw(patch)
		if len(samples) == 0 {
			continue
		}

		window := p.windows[patch]
		if window == nil {
			window = &PatchWindow{}
			p.windows[patch] = window
		}
		p.absorb(window, patch, samples)

		if len(window.PPG) < SampleLength {
			continue
		}

		dp, ok := p.analyze(window, patch, now)
		if !ok {
			continue
		}
		p.hub.AppendProcessed(patch, dp)
		window.Trim()
	}
}

// absorb appends each raw sample into the column matching its
// characteristic (spec §4.4a), logging and skipping anything unexpected.
func (p *Pipeline) absorb(window *PatchWindow, patch model.PatchID, samples []model.RawSample) {
	for _, s := range samples {
		switch s.Char {
		case model.CharPPG:
			if len(s.Values) != 3 {
				p.logger.WithField("patch", patch).Warn("dsp: malformed ppg sample, skipping")
				continue
			}
			window.PPG = append(window.PPG, [3]float64{s.Values[0], s.Values[1], s.Values[2]})
		case model.CharIMU:
			if len(s.Values) != 6 {
				p.logger.WithField("patch", patch).Warn("dsp: malformed imu sample, skipping")
				continue
			}
			var raw [6]float64
			copy(raw[:], s.Values)
			window.IMURaw = append(window.IMURaw, raw)
			window.IMUConverted = append(window.IMUConverted, ConvertIMURow(raw))
		case model.CharTemperature:
			if len(s.Values) == 0 {
				continue
			}
			window.Temperature = append(window.Temperature, s.Values[0]/temperatureScale)
		case model.CharVoltage:
			if len(s.Values) == 0 {
				continue
			}
			window.Voltage = append(window.Voltage, s.Values[0])
		case model.CharAudio, model.CharCurrent:
			// Carried on the wire but not consumed downstream (spec §6).
		default:
			p.logger.WithFields(logrus.Fields{"patch": patch, "char": s.Char}).
				Debug("dsp: unhandled characteristic, skipping")
		}
	}
}

// analyze runs the full per-patch metric set over the last SampleLength
// rows. A rejected pulse analysis (spec §4.4e) skips the whole iteration:
// no partial Datapoint is emitted.
func (p *Pipeline) analyze(window *PatchWindow, patch model.PatchID, nowMs int64) (model.Datapoint, bool) {
	ppgRows := lastN(window.PPG, SampleLength)
	ppg := AnalyzePPG(ppgRows, p.ppgFilter, float64(SampleLength)/sampleRateHz)

	green := make([]float64, len(ppgRows))
	for i, row := range ppgRows {
		green[i] = row[2]
	}
	pulse := AnalyzePulse(green, p.pulseFilter, p.breathFilter, sampleRateHz)
	if !pulse.Ok {
		p.logger.WithField("patch", patch).Warn("dsp: pulse signal rejected as unusable, skipping tick")
		return model.Datapoint{}, false
	}

	if len(window.IMUConverted) > 0 {
		window.Activity = append(window.Activity, ComputeActivity(window.IMUConverted))
	}
	activity := 0
	if len(window.Activity) > 0 {
		activity = window.Activity[len(window.Activity)-1]
	}

	// Heart rate and SpO2 are appended to their own per-patch histories
	// (spec §4.4b/§4.4g) and the Datapoint emits the latest entry, the
	// same way activity is tracked through window.Activity.
	window.HRHistory = append(window.HRHistory, ppg.HeartRateBPM)
	window.SpO2History = append(window.SpO2History, ppg.SpO2Percent)
	heartRate := window.HRHistory[len(window.HRHistory)-1]
	spo2 := window.SpO2History[len(window.SpO2History)-1]

	battery := DefaultBatteryPercentage
	if len(window.Voltage) > 0 {
		battery = BatteryPercentage(window.Voltage[len(window.Voltage)-1])
	}

	temperature := 0.0
	if len(window.Temperature) > 0 {
		temperature = window.Temperature[len(window.Temperature)-1]
	}

	fw, _ := p.hub.FirmwareVersion(patch)

	// Per-tick debug summary. The peak-detection BPM is logged next to the
	// published FFT heart rate for diagnostics only.
	p.logger.WithFields(logrus.Fields{
		"patch":          patch,
		"heartrate_fft":  heartRate,
		"heartrate_peak": pulse.BPM,
		"rmssd":          pulse.RMSSD,
		"respiration":    pulse.RespirationRate,
		"spo2":           spo2,
		"activity":       activity,
		"battery":        battery,
		"temperature":    temperature,
	}).Debug("dsp: per-tick summary")

	return model.Datapoint{
		TsMs:              nowMs,
		FirmwareVersion:   fw,
		BatteryPercentage: battery,
		Temperature:       temperature,
		HeartRate:         heartRate,
		RespirationRate:   pulse.RespirationRate,
		BloodOxygenation:  spo2,
		ActivityLevel:     activity,
	}, true
}

// runPassThrough implements spec §4.4's pass-through mode: "the DSP stage
// degenerates to: move the raw mailbox into the processed mailbox
// verbatim every tick ... bypasses all computation." Grounded on
// original_source/Basestation/DataProcessing.py's no_data_processing(),
// which does the Python equivalent of processed_data = current_data.
func (p *Pipeline) runPassThrough(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.ProcessingDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.passThroughTick()
		}
	}
}

// passThroughTick drains each patch's raw mailbox and re-appends every
// sample, in order and unmodified, to the processed mailbox as a
// Raw-wrapping Datapoint. No field is computed or rescaled: this is the
// round-trip law, not an abbreviated analysis.
func (p *Pipeline) passThroughTick() {
	for _, patch := range p.hub.RawPatchIDs() {
		samples := p.hub.DrainRaw(patch)
		for _, s := range samples {
			sample := s
			p.hub.AppendProcessed(patch, model.Datapoint{TsMs: sample.TsMs, Raw: &sample})
		}
	}
}
