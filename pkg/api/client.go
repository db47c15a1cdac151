package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/newtron-network/newtflow/pkg/controller"
)

// Client reads controller state from a running serve process.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for addr ("host:port" or a full URL).
func NewClient(addr string) *Client {
	base := addr
	if strings.HasPrefix(base, ":") {
		base = "127.0.0.1" + base
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("querying controller: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", path, e.Error)
		}
		return fmt.Errorf("%s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Devices lists connected devices.
func (c *Client) Devices(ctx context.Context) ([]DeviceView, error) {
	var out []DeviceView
	if err := c.get(ctx, "/api/v1/devices", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MACs returns the learned addresses of a device.
func (c *Client) MACs(ctx context.Context, dpid string) ([]MACEntry, error) {
	var out []MACEntry
	if err := c.get(ctx, "/api/v1/devices/"+dpid+"/macs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Flows returns the shadow flow table of a device.
func (c *Client) Flows(ctx context.Context, dpid string) ([]controller.Rule, error) {
	var out []controller.Rule
	if err := c.get(ctx, "/api/v1/devices/"+dpid+"/flows", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ports returns the port records of a device.
func (c *Client) Ports(ctx context.Context, dpid string) ([]PortView, error) {
	var out []PortView
	if err := c.get(ctx, "/api/v1/devices/"+dpid+"/ports", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Path returns the path-switch state.
func (c *Client) Path(ctx context.Context) (*PathView, error) {
	var out PathView
	if err := c.get(ctx, "/api/v1/path", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PortSync returns the mirror binding states.
func (c *Client) PortSync(ctx context.Context) ([]controller.BindingState, error) {
	var out []controller.BindingState
	if err := c.get(ctx, "/api/v1/portsync", &out); err != nil {
		return nil, err
	}
	return out, nil
}
