package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestBatteryPercentage is scenario S5 from spec.md §8.
func TestBatteryPercentage(t *testing.T) {
	cases := []struct {
		name     string
		mv       float64
		expected float64
	}{
		{"above knee", 4150, 100},
		{"at knee", 3650, 12},
		{"below knee", 3500, -5.13},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, BatteryPercentage(tc.mv), 0.01)
		})
	}
}
