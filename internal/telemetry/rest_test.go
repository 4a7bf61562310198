package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTClient_TenantDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tenant/devices", r.URL.Path)
		assert.Equal(t, "Patient", r.URL.Query().Get("type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"id":"dev-1","name":"alice"}]}`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "user", "pass")
	devices, err := c.TenantDevices("Patient", 100)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "alice", devices[0].Name)
}

func TestRESTClient_Attribute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Mac-Address", r.URL.Query().Get("keys"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"key":"Mac-Address","value":"aa:bb:cc:dd:ee:01"}]`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "user", "pass")
	value, ok, err := c.Attribute("dev-1", "Mac-Address")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", value)
}

func TestRESTClient_AttributeMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewRESTClient(srv.URL, "user", "pass")
	_, ok, err := c.Attribute("dev-1", "Mac-Address")
	require.NoError(t, err)
	assert.False(t, ok)
}
