package dsp

import "math"

// PulseResult is the secondary pulse-processing figure set spec §4.4e
// describes (the "heartpy" stand-in): a peak-detection pass over the
// bandpassed green channel yields BPM, RMSSD, and a respiration-rate
// estimate. No peak-detection/HRV library appears anywhere in the
// retrieved example pack (see DESIGN.md), so this is a stdlib
// adaptive-threshold detector instead.
type PulseResult struct {
	BPM             float64
	RMSSD           float64
	RespirationRate float64
	Ok              bool
}

// MinPeaksForPulse is the minimum peak count a window must yield before
// BPM/RMSSD are trusted; fewer than this and spec §4.4e's "signal
// rejected as unusable" path applies.
const MinPeaksForPulse = 3

// findPeaks locates local maxima above mean+stddev, enforcing a
// refractory distance (in samples) so a single wide peak isn't counted
// twice — the minimum distance corresponds to a 200 BPM upper bound.
func findPeaks(x []float64, sampleRate float64) []int {
	if len(x) < 3 {
		return nil
	}
	m := mean(x)
	sd := stddev(x, m)
	threshold := m + sd
	refractory := int(sampleRate * 60 / 200)
	if refractory < 1 {
		refractory = 1
	}

	var peaks []int
	last := -refractory
	for i := 1; i < len(x)-1; i++ {
		if x[i] <= threshold {
			continue
		}
		if x[i] <= x[i-1] || x[i] < x[i+1] {
			continue
		}
		if i-last < refractory {
			continue
		}
		peaks = append(peaks, i)
		last = i
	}
	return peaks
}

func stddev(x []float64, m float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(x)))
}

// AnalyzePulse implements spec §4.4e. raw is the unfiltered green
// channel over the last SAMPLE_LENGTH rows; pulseFilter bandpasses
// [0.05, 3.5]Hz for beat detection, breathFilter bandpasses a respiration
// band for the breathing-rate estimate.
func AnalyzePulse(raw []float64, pulseFilter, breathFilter *BandpassFilter, sampleRate float64) PulseResult {
	if len(raw) == 0 {
		return PulseResult{}
	}

	pulseSignal := pulseFilter.Filtfilt(raw)
	peaks := findPeaks(pulseSignal, sampleRate)
	if len(peaks) < MinPeaksForPulse {
		return PulseResult{Ok: false}
	}

	ibisMs := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		ibisMs = append(ibisMs, float64(peaks[i]-peaks[i-1])/sampleRate*1000)
	}

	bpm := 60000 / mean(ibisMs)

	var rmssdSum float64
	for i := 1; i < len(ibisMs); i++ {
		d := ibisMs[i] - ibisMs[i-1]
		rmssdSum += d * d
	}
	var rmssd float64
	if len(ibisMs) > 1 {
		rmssd = math.Sqrt(rmssdSum / float64(len(ibisMs)-1))
	}

	breathSignal := breathFilter.Filtfilt(raw)
	breathPeaks := findPeaks(breathSignal, sampleRate)
	durationSec := float64(len(raw)) / sampleRate
	respirationRate := float64(len(breathPeaks)) / durationSec * 60

	return PulseResult{BPM: bpm, RMSSD: rmssd, RespirationRate: respirationRate, Ok: true}
}
