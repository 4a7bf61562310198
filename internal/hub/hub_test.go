package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/patchstation/internal/model"
)

// TestConnectDisconnectRoundTrip is scenario S1 from spec.md §8.
func TestConnectDisconnectRoundTrip(t *testing.T) {
	h := New()

	h.ConnectPatient("p1", "aa:bb:cc:dd:ee:01")

	patient, ok := h.PatientFor("aa:bb:cc:dd:ee:01")
	require.True(t, ok)
	assert.Equal(t, model.PatientID("p1"), patient)

	patch, ok := h.TakeAnyConnectIntent()
	require.True(t, ok)
	assert.Equal(t, model.PatchID("aa:bb:cc:dd:ee:01"), patch)

	h.DisconnectPatch("aa:bb:cc:dd:ee:01", false)

	_, ok = h.PatientFor("aa:bb:cc:dd:ee:01")
	assert.False(t, ok)
	assert.True(t, h.HasDisconnectIntent("aa:bb:cc:dd:ee:01"))
}

// TestPatientMigration is scenario S2.
func TestPatientMigration(t *testing.T) {
	h := New()
	h.SeedMapping("aa:bb:cc:dd:ee:01", "p1")

	evicted := h.ConnectPatient("p1", "bb:bb:cc:dd:ee:02")

	assert.Equal(t, []model.PatchID{"aa:bb:cc:dd:ee:01"}, evicted)

	patient, ok := h.PatientFor("bb:bb:cc:dd:ee:02")
	require.True(t, ok)
	assert.Equal(t, model.PatientID("p1"), patient)

	_, ok = h.PatientFor("aa:bb:cc:dd:ee:01")
	assert.False(t, ok)
	assert.True(t, h.HasDisconnectIntent("aa:bb:cc:dd:ee:01"))

	patch, ok := h.TakeAnyConnectIntent()
	require.True(t, ok)
	assert.Equal(t, model.PatchID("bb:bb:cc:dd:ee:02"), patch)
}

func TestRawMailboxDrainsAndResets(t *testing.T) {
	h := New()
	s1 := model.RawSample{TsMs: 1, Char: model.CharIMU, Values: []float64{1, 2, 3}}
	s2 := model.RawSample{TsMs: 2, Char: model.CharIMU, Values: []float64{4, 5, 6}}

	h.AppendRaw("patch1", s1)
	h.AppendRaw("patch1", s2)

	drained := h.DrainRaw("patch1")
	assert.Equal(t, []model.RawSample{s1, s2}, drained)

	// Invariant 1: drains atomically and resets.
	assert.Empty(t, h.DrainRaw("patch1"))
}

func TestPendingConfigClearedOnce(t *testing.T) {
	h := New()
	assert.Equal(t, byte(0), h.PendingConfig())

	h.SetPendingConfig(42)
	assert.Equal(t, byte(42), h.PendingConfig())

	// A clear for the wrong (stale) value must not succeed.
	h.ClearPendingConfig(7)
	assert.Equal(t, byte(42), h.PendingConfig())

	h.ClearPendingConfig(42)
	assert.Equal(t, byte(0), h.PendingConfig())
}

func TestStaleDisconnectIntents(t *testing.T) {
	h := New()
	h.SetIntent("aa:bb:cc:dd:ee:01", model.Intent{Kind: model.Disconnect})
	h.MarkConnected("aa:bb:cc:dd:ee:02", "1.0")
	h.SetIntent("aa:bb:cc:dd:ee:02", model.Intent{Kind: model.Disconnect})

	stale := h.StaleDisconnectIntents()
	assert.Equal(t, []model.PatchID{"aa:bb:cc:dd:ee:01"}, stale)
}

func TestRawTapFanOut(t *testing.T) {
	h := New()
	h.EnableRawTap()

	sample := model.RawSample{TsMs: 1, Char: model.CharPPG, Values: []float64{1, 2, 3}}
	h.AppendRaw("patch1", sample)

	// DSP drains the primary mailbox...
	assert.Equal(t, []model.RawSample{sample}, h.DrainRaw("patch1"))
	// ...while the raw sink's independent tap still has its own copy.
	assert.Equal(t, []model.RawSample{sample}, h.DrainRawTap("patch1"))
}

func TestDrainProcessedSwapsAndResets(t *testing.T) {
	h := New()
	dp := model.Datapoint{TsMs: 100, HeartRate: 72}
	h.AppendProcessed("patch1", dp)

	assert.False(t, h.ProcessedEmpty())

	drained := h.DrainProcessed()
	assert.Equal(t, []model.Datapoint{dp}, drained["patch1"])
	assert.True(t, h.ProcessedEmpty())
}
