package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzePulse_HeartRateAndBreathing(t *testing.T) {
	const n = 2000
	const sampleRate = 100.0
	raw := make([]float64, n)
	for i := 0; i < n; i++ {
		tSec := float64(i) / sampleRate
		raw[i] = math.Sin(2*math.Pi*1.2*tSec) + 0.3*math.Sin(2*math.Pi*0.2*tSec)
	}

	pulseFilter := NewBandpassFilter(3, 0.7, 3.5, sampleRate)
	breathFilter := NewBandpassFilter(3, 0.1, 0.5, sampleRate)

	result := AnalyzePulse(raw, pulseFilter, breathFilter, sampleRate)

	assert.True(t, result.Ok)
	assert.InDelta(t, 72, result.BPM, 5)
	assert.InDelta(t, 12, result.RespirationRate, 4)
	assert.GreaterOrEqual(t, result.RMSSD, 0.0)
}

func TestAnalyzePulse_RejectsFlatSignal(t *testing.T) {
	raw := make([]float64, 500)
	pulseFilter := NewBandpassFilter(3, 0.7, 3.5, 100)
	breathFilter := NewBandpassFilter(3, 0.1, 0.5, 100)

	result := AnalyzePulse(raw, pulseFilter, breathFilter, 100)

	assert.False(t, result.Ok)
	assert.Zero(t, result.BPM)
}

func TestFindPeaks_Refractory(t *testing.T) {
	x := []float64{0, 5, 0, 0, 5, 0, 0, 5, 0}
	peaks := findPeaks(x, 100)
	// At 100Hz the refractory distance is 30 samples, so the peaks at
	// indices 4 and 7 fall inside the first peak's refractory window.
	assert.Len(t, peaks, 1)
}
