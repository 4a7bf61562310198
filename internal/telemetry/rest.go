// Package telemetry wraps the two transports the mapping and sink stages
// share with the upstream backend: a REST client for request/response
// lookups and an MQTT client for the control-plane subscription and
// telemetry publish. Grounded on original_source/Basestation/Mapping.py's
// tb_rest_client usage and PublishToThingsboard.py's paho MQTT usage.
package telemetry

import (
	"fmt"

	"github.com/go-resty/resty/v2"
)

// RESTClient is a thin wrapper over resty scoped to the backend's device
// and attribute endpoints (spec §4.2's "initial fetch over REST").
type RESTClient struct {
	client *resty.Client
}

// NewRESTClient builds a RESTClient against baseURL, authenticating with
// username/password on every request the way the original's
// RestClientCE.login did per-session.
func NewRESTClient(baseURL, username, password string) *RESTClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetBasicAuth(username, password)
	return &RESTClient{client: client}
}

// Device is the subset of a Thingsboard-style device record the mapping
// controller needs: its id and display name.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TenantDevices fetches up to pageSize devices of the given type (e.g.
// "Patient"), mirroring get_patient_mapping's get_tenant_devices call.
func (c *RESTClient) TenantDevices(deviceType string, pageSize int) ([]Device, error) {
	var result struct {
		Data []Device `json:"data"`
	}
	resp, err := c.client.R().
		SetQueryParams(map[string]string{
			"type":     deviceType,
			"pageSize": fmt.Sprintf("%d", pageSize),
			"page":     "0",
		}).
		SetResult(&result).
		Get("/api/tenant/devices")
	if err != nil {
		return nil, fmt.Errorf("fetching tenant devices: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetching tenant devices: %s", resp.Status())
	}
	return result.Data, nil
}

// Attribute fetches a single named attribute for an entity, mirroring
// get_attributes(entity_type='DEVICE', ..., keys=...).
func (c *RESTClient) Attribute(entityID, key string) (string, bool, error) {
	var result []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	resp, err := c.client.R().
		SetQueryParams(map[string]string{"keys": key}).
		SetResult(&result).
		Get(fmt.Sprintf("/api/plugins/telemetry/DEVICE/%s/values/attributes", entityID))
	if err != nil {
		return "", false, fmt.Errorf("fetching attribute %q for %q: %w", key, entityID, err)
	}
	if resp.IsError() {
		return "", false, fmt.Errorf("fetching attribute %q for %q: %s", key, entityID, resp.Status())
	}
	if len(result) == 0 {
		return "", false, nil
	}
	return result[0].Value, true, nil
}
