package dsp

import "math"

// imuScale is the diagonal conversion matrix from raw IMU counts to
// physical units: gyro in milli-degrees-per-second, accel in milli-g
// (spec §4.4c).
var imuScale = [6]float64{0.0175, 0.0175, 0.0175, 0.000598, 0.000598, 0.000598}

// ConvertIMURow scales one raw IMU row into physical units.
func ConvertIMURow(raw [6]float64) [6]float64 {
	var out [6]float64
	for i := range raw {
		out[i] = raw[i] * imuScale[i]
	}
	return out
}

// ActivityWindow is the number of most-recent converted IMU rows
// examined for the activity-level decision (spec §4.4c).
const ActivityWindow = 120

// ActivityThresholdG is the accelerometer-magnitude threshold (in
// milli-g, matching the converted accel columns) above which the patch
// is considered active.
const ActivityThresholdG = 12.0

// ComputeActivity implements spec §4.4c / invariant 6: activity is 1 if
// any accelerometer magnitude over the last ActivityWindow converted rows
// exceeds ActivityThresholdG, else 0.
func ComputeActivity(converted [][6]float64) int {
	window := lastN(converted, ActivityWindow)
	for _, row := range window {
		ax, ay, az := row[3], row[4], row[5]
		mag := math.Sqrt(ax*ax + ay*ay + az*az)
		if mag > ActivityThresholdG {
			return 1
		}
	}
	return 0
}
