package dsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAnalyzePPG_HeartRate is scenario S3 from spec.md §8.
func TestAnalyzePPG_HeartRate(t *testing.T) {
	const n = 2000
	const sampleRate = 100.0
	rows := make([][3]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) / sampleRate
		green := math.Sin(2 * math.Pi * 1.2 * t)
		rows[i] = [3]float64{0, 0, green}
	}

	filter := NewBandpassFilter(3, 0.7, 3.5, sampleRate)
	result := AnalyzePPG(rows, filter, 20)

	assert.InDelta(t, 72, result.HeartRateBPM, 3)
}

// TestSpO2Formula_Clip is scenario S4: it checks the SpO2 polynomial and
// the clip to 100 that AnalyzePPG applies, computed here directly rather
// than through AnalyzePPG.
func TestSpO2Formula_Clip(t *testing.T) {
	r := 1.0
	spo2 := math.Round(1.5958422*r*r - 34.6596622*r + 112.6898759)
	assert.Equal(t, 80.0, spo2)

	// The polynomial exceeds 100 only for r below about 0.372.
	r = 0.3
	raw := 1.5958422*r*r - 34.6596622*r + 112.6898759
	assert.Greater(t, raw, 100.0)

	if raw > 100 {
		raw = 100
	}
	assert.Equal(t, 100.0, raw)
}

func TestDominantBin(t *testing.T) {
	mags := []float64{0, 1, 5, 2, 0, 9, 3}
	assert.Equal(t, 5, dominantBin(mags, 0, 6))
	assert.Equal(t, 2, dominantBin(mags, 0, 3))
}
