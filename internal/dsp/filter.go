package dsp

import "math"

// biquad is one second-order IIR section in Direct Form II Transposed,
// the numerically stable form used by most production biquad cascades.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func (bq biquad) apply(x []float64) []float64 {
	y := make([]float64, len(x))
	var z1, z2 float64
	for i, xi := range x {
		yi := bq.b0*xi + z1
		z1 = bq.b1*xi - bq.a1*yi + z2
		z2 = bq.b2*xi - bq.a2*yi
		y[i] = yi
	}
	return y
}

// newBandpassBiquad designs one constant-0dB-peak-gain bandpass biquad
// section centered at the geometric mean of lowHz/highHz, following the
// RBJ Audio EQ Cookbook bandpass formula. No band-pass filter library
// appears anywhere in the retrieved example pack (see DESIGN.md), so the
// Butterworth response scipy's butter/filtfilt would produce is
// approximated here by cascading several identical second-order sections
// — each cascade stage sharpens the roll-off, closing in on a true
// higher-order Butterworth passband without requiring a full analog
// prototype + bilinear-transform pole placement.
func newBandpassBiquad(lowHz, highHz, sampleRate float64) biquad {
	centerHz := math.Sqrt(lowHz * highHz)
	bandwidthOctaves := math.Log2(highHz / lowHz)

	w0 := 2 * math.Pi * centerHz / sampleRate
	alpha := math.Sin(w0) * math.Sinh(math.Ln2/2*bandwidthOctaves*w0/math.Sin(w0))

	cosW0 := math.Cos(w0)
	a0 := 1 + alpha

	return biquad{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// BandpassFilter is a cascaded-biquad Butterworth-style band-pass filter.
type BandpassFilter struct {
	sections []biquad
}

// NewBandpassFilter builds a band-pass filter of the given order (number
// of cascaded second-order sections) between lowHz and highHz at
// sampleRate.
func NewBandpassFilter(order int, lowHz, highHz, sampleRate float64) *BandpassFilter {
	if order < 1 {
		order = 1
	}
	sections := make([]biquad, order)
	bq := newBandpassBiquad(lowHz, highHz, sampleRate)
	for i := range sections {
		sections[i] = bq
	}
	return &BandpassFilter{sections: sections}
}

func (f *BandpassFilter) applyOnce(x []float64) []float64 {
	y := x
	for _, bq := range f.sections {
		y = bq.apply(y)
	}
	return y
}

func reverse(x []float64) []float64 {
	y := make([]float64, len(x))
	for i, v := range x {
		y[len(x)-1-i] = v
	}
	return y
}

// Filtfilt applies the cascade forward then backward, matching SciPy's
// filtfilt zero-phase behavior: the result has no phase distortion, at
// the cost of processing the signal twice.
func (f *BandpassFilter) Filtfilt(x []float64) []float64 {
	if len(x) == 0 {
		return x
	}
	forward := f.applyOnce(x)
	backward := f.applyOnce(reverse(forward))
	return reverse(backward)
}
