package dsp

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// magnitudes returns |FFT(x)| for each non-negative frequency bin,
// length len(x)/2+1, via gonum's real-input FFT.
func magnitudes(x []float64) []float64 {
	if len(x) == 0 {
		return nil
	}
	fft := fourier.NewFFT(len(x))
	coeffs := fft.Coefficients(nil, x)
	mags := make([]float64, len(coeffs))
	for i, c := range coeffs {
		mags[i] = math.Hypot(real(c), imag(c))
	}
	return mags
}

// dominantBin returns the index of the largest magnitude within
// [minBin, maxBin] (inclusive), clamped to the available range.
func dominantBin(mags []float64, minBin, maxBin int) int {
	if len(mags) == 0 {
		return 0
	}
	if minBin < 0 {
		minBin = 0
	}
	if maxBin >= len(mags) {
		maxBin = len(mags) - 1
	}
	best := minBin
	for i := minBin; i <= maxBin; i++ {
		if mags[i] > mags[best] {
			best = i
		}
	}
	return best
}

// PPGResult bundles the heart rate and SpO2 figures spec §4.4b computes
// together from one 20s PPG window.
type PPGResult struct {
	HeartRateBPM float64
	SpO2Percent  float64
}

// AnalyzePPG implements spec §4.4b. rows is the last SAMPLE_LENGTH raw PPG
// rows (red, ir, green columns); durationSec is T=20 in the spec's bin
// math (SAMPLE_LENGTH samples at 100Hz).
func AnalyzePPG(rows [][3]float64, filter *BandpassFilter, durationSec float64) PPGResult {
	red := make([]float64, len(rows))
	ir := make([]float64, len(rows))
	green := make([]float64, len(rows))
	for i, r := range rows {
		red[i], ir[i], green[i] = r[0], r[1], r[2]
	}

	filteredRed := filter.Filtfilt(red)
	filteredIR := filter.Filtfilt(ir)
	filteredGreen := filter.Filtfilt(green)

	greenMags := magnitudes(filteredGreen)
	minBin := int(0.75 * durationSec)
	maxBin := int(3.5 * durationSec)
	hrBin := dominantBin(greenMags, minBin, maxBin)
	freqHz := float64(hrBin) / durationSec
	hr := math.Round(60 * freqHz)

	redMags := magnitudes(filteredRed)
	irMags := magnitudes(filteredIR)
	acRed := valueAt(redMags, hrBin)
	acIR := valueAt(irMags, hrBin)
	dcRed := mean(red)
	dcIR := mean(ir)

	var spo2 float64
	if dcRed != 0 && acIR != 0 && dcIR != 0 {
		r := (acRed / dcRed) / (acIR / dcIR)
		spo2 = math.Round(1.5958422*r*r - 34.6596622*r + 112.6898759)
		if spo2 > 100 {
			spo2 = 100
		}
	}

	return PPGResult{HeartRateBPM: hr, SpO2Percent: spo2}
}

func valueAt(s []float64, i int) float64 {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}
