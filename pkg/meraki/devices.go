package meraki

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Device is a device as listed in a network or organization.
type Device struct {
	Serial    string `json:"serial"`
	Name      string `json:"name,omitempty"`
	Model     string `json:"model,omitempty"`
	NetworkID string `json:"networkId,omitempty"`
	LanIP     string `json:"lanIp,omitempty"`
	Wan1IP    string `json:"wan1Ip,omitempty"`
	Firmware  string `json:"firmware,omitempty"`
}

// DisplayName returns the device name, or its serial when unnamed.
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Serial
}

// ProductType maps a model prefix to the dashboard product type.
func (d Device) ProductType() string {
	return ProductTypeForModel(d.Model)
}

// ProductTypeForModel maps MX/MR/MS model prefixes to product types.
func ProductTypeForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "MX"):
		return "appliance"
	case strings.HasPrefix(model, "MR"):
		return "wireless"
	case strings.HasPrefix(model, "MS"):
		return "switch"
	}
	return ""
}

// DeviceStatus is one entry of /organizations/{id}/devices/statuses.
type DeviceStatus struct {
	Name           string     `json:"name"`
	Serial         string     `json:"serial"`
	Model          string     `json:"model"`
	NetworkID      string     `json:"networkId"`
	Status         string     `json:"status"`
	LastReportedAt *time.Time `json:"lastReportedAt"`
	LanIP          string     `json:"lanIp,omitempty"`
	PublicIP       string     `json:"publicIp,omitempty"`
}

// OrganizationDevices lists every device claimed in the organization.
func (c *Client) OrganizationDevices(ctx context.Context, orgID string) ([]Device, error) {
	var out []Device
	err := c.Get(ctx, "/organizations/"+url.PathEscape(orgID)+"/devices", nil, &out)
	return out, err
}

// NetworkDevices lists the devices in a network.
func (c *Client) NetworkDevices(ctx context.Context, networkID string) ([]Device, error) {
	var out []Device
	err := c.Get(ctx, "/networks/"+url.PathEscape(networkID)+"/devices", nil, &out)
	return out, err
}

// Device fetches one device by serial.
func (c *Client) Device(ctx context.Context, serial string) (*Device, error) {
	var out Device
	if err := c.Get(ctx, "/devices/"+url.PathEscape(serial), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RenameDevice sets a device's name.
func (c *Client) RenameDevice(ctx context.Context, serial, name string) error {
	return c.Put(ctx, "/devices/"+url.PathEscape(serial), map[string]string{"name": name}, nil)
}

// ClaimDevices claims serials into a network.
func (c *Client) ClaimDevices(ctx context.Context, networkID string, serials []string) error {
	body := map[string][]string{"serials": serials}
	return c.Post(ctx, "/networks/"+url.PathEscape(networkID)+"/devices/claim", body, nil)
}

// DeviceStatuses lists the organization's device statuses.
func (c *Client) DeviceStatuses(ctx context.Context, orgID string) ([]DeviceStatus, error) {
	var out []DeviceStatus
	err := c.Get(ctx, "/organizations/"+url.PathEscape(orgID)+"/devices/statuses", nil, &out)
	return out, err
}
