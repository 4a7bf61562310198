package mapping

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/patchstation/internal/config"
	"github.com/srg/patchstation/internal/hub"
	"github.com/srg/patchstation/internal/model"
	"github.com/srg/patchstation/internal/telemetry"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nullWriter{})
	return l
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestController_InitialFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/api/tenant/devices":
			_, _ = w.Write([]byte(`{"data":[{"id":"dev-1","name":"alice"}]}`))
		case r.URL.Path == "/api/plugins/telemetry/DEVICE/dev-1/values/attributes":
			_, _ = w.Write([]byte(`[{"key":"Mac-Address","value":"AA:BB:CC:DD:EE:01"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	h := hub.New()
	cfg := config.Default()
	rest := telemetry.NewRESTClient(srv.URL, "user", "pass")
	c := NewController(h, cfg, rest, nil, testLogger())

	require.NoError(t, c.InitialFetch(t.Context()))

	patient, ok := h.PatientFor(model.PatchID("aa:bb:cc:dd:ee:01"))
	require.True(t, ok)
	assert.Equal(t, model.PatientID("alice"), patient)

	patchID, connectPending := h.TakeAnyConnectIntent()
	assert.True(t, connectPending)
	assert.Equal(t, model.PatchID("aa:bb:cc:dd:ee:01"), patchID)
}

func TestController_HandleConnectedMigratesPatient(t *testing.T) {
	h := hub.New()
	cfg := config.Default()
	c := NewController(h, cfg, nil, nil, testLogger())

	c.handleConnected("Connected", []byte(`{"alice":"aa:bb:cc:dd:ee:01"}`))
	c.handleConnected("Connected", []byte(`{"alice":"aa:bb:cc:dd:ee:02"}`))

	_, ok := h.PatientFor("aa:bb:cc:dd:ee:01")
	assert.False(t, ok)
	patient, ok := h.PatientFor("aa:bb:cc:dd:ee:02")
	require.True(t, ok)
	assert.Equal(t, model.PatientID("alice"), patient)
}

func TestController_HandleDisconnected(t *testing.T) {
	h := hub.New()
	cfg := config.Default()
	c := NewController(h, cfg, nil, nil, testLogger())

	h.SeedMapping("aa:bb:cc:dd:ee:01", "alice")
	c.handleDisconnected("Disconnected", []byte(`{"alice":"aa:bb:cc:dd:ee:01"}`))

	_, ok := h.PatientFor("aa:bb:cc:dd:ee:01")
	assert.False(t, ok)
	assert.True(t, h.HasDisconnectIntent("aa:bb:cc:dd:ee:01"))
}

func TestController_HandleSmartPatchConfig(t *testing.T) {
	h := hub.New()
	cfg := config.Default()
	c := NewController(h, cfg, nil, nil, testLogger())

	c.handleSmartPatchConfig("SmartPatchConfig", []byte(`5`))
	assert.Equal(t, byte(5), h.PendingConfig())
}

func TestController_HandleBaseStationConfig(t *testing.T) {
	h := hub.New()
	cfg := config.Default()
	c := NewController(h, cfg, nil, nil, testLogger())

	cfg.ProcessData = true
	c.handleBaseStationConfig("processData", []byte(`false`))
	assert.False(t, cfg.ProcessData)
}
