package dsp

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/model"
)

func newTestPipeline() (*Pipeline, *hub.Hub) {
	h := hub.New()
	cfg := config.Default()
	logger := logrus.New()
	logger.SetOutput(logrusDiscard{})
	return NewPipeline(h, cfg, logger), h
}

type logrusDiscard struct{}

func (logrusDiscard) Write(p []byte) (int, error) { return len(p), nil }

func ppgSamples(n int, freqHz, sampleRate float64) []model.RawSample {
	out := make([]model.RawSample, n)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		v := math.Sin(2 * math.Pi * freqHz * t)
		out[i] = model.RawSample{TsMs: int64(i), Char: model.CharPPG, Values: []float64{v, v, v}}
	}
	return out
}

func TestPipeline_AbsorbAndAnalyze(t *testing.T) {
	p, h := newTestPipeline()
	patch := model.PatchID("aa:bb:cc:dd:ee:01")
	h.MarkConnected(patch, "1.0.0")

	window := &PatchWindow{}
	p.absorb(window, patch, ppgSamples(SampleLength, 1.2, sampleRateHz))
	p.absorb(window, patch, []model.RawSample{
		{Char: model.CharTemperature, Values: []float64{7000}},
		{Char: model.CharVoltage, Values: []float64{4150}},
	})

	require.Len(t, window.PPG, SampleLength)
	assert.InDelta(t, 35, window.Temperature[0], 0.01)

	dp, ok := p.analyze(window, patch, 1000)
	require.True(t, ok)
	assert.InDelta(t, 72, dp.HeartRate, 5)
	assert.Equal(t, 100.0, dp.BatteryPercentage)
	assert.Equal(t, model.FirmwareVersion("1.0.0"), dp.FirmwareVersion)
}

func TestPipeline_RejectsFlatPPGWindow(t *testing.T) {
	p, _ := newTestPipeline()
	patch := model.PatchID("aa:bb:cc:dd:ee:02")

	window := &PatchWindow{}
	flat := make([]model.RawSample, SampleLength)
	for i := range flat {
		flat[i] = model.RawSample{Char: model.CharPPG, Values: []float64{0, 0, 0}}
	}
	p.absorb(window, patch, flat)

	_, ok := p.analyze(window, patch, 1000)
	assert.False(t, ok)
}

func TestPipeline_UnknownCharacteristicIgnored(t *testing.T) {
	p, _ := newTestPipeline()
	window := &PatchWindow{}
	p.absorb(window, "patch", []model.RawSample{{Char: model.CharAudio, Values: []float64{1, 2}}})
	assert.Empty(t, window.PPG)
	assert.Empty(t, window.IMURaw)
}

func TestPipeline_PassThroughTick(t *testing.T) {
	p, h := newTestPipeline()
	patch := model.PatchID("aa:bb:cc:dd:ee:03")
	h.MarkConnected(patch, "2.0.0")
	h.AppendRaw(patch, model.RawSample{TsMs: 100, Char: model.CharTemperature, Values: []float64{7200}})
	h.AppendRaw(patch, model.RawSample{TsMs: 200, Char: model.CharVoltage, Values: []float64{3650}})

	p.passThroughTick()

	processed := h.DrainProcessed()
	require.Contains(t, processed, patch)
	require.Len(t, processed[patch], 2)

	first, second := processed[patch][0], processed[patch][1]
	require.NotNil(t, first.Raw)
	require.NotNil(t, second.Raw)
	assert.Equal(t, model.RawSample{TsMs: 100, Char: model.CharTemperature, Values: []float64{7200}}, *first.Raw)
	assert.Equal(t, model.RawSample{TsMs: 200, Char: model.CharVoltage, Values: []float64{3650}}, *second.Raw)
	assert.Zero(t, first.BatteryPercentage)
	assert.Zero(t, first.Temperature)
	assert.Zero(t, first.HeartRate)
}
