package meraki

import (
	"context"
	"net/url"
)

// VLAN is the subset of an appliance VLAN used by views and manual
// creation. Reconciliation works on the raw document instead.
type VLAN struct {
	ID          ID     `json:"id"`
	Name        string `json:"name"`
	Subnet      string `json:"subnet"`
	ApplianceIP string `json:"applianceIp"`
}

// VLANsPath is the appliance VLAN collection of a network.
func VLANsPath(networkID string) string {
	return "/networks/" + url.PathEscape(networkID) + "/appliance/vlans"
}

// VLANPath is one appliance VLAN.
func VLANPath(networkID, vlanID string) string {
	return VLANsPath(networkID) + "/" + url.PathEscape(vlanID)
}

// VLANs lists a network's appliance VLANs.
func (c *Client) VLANs(ctx context.Context, networkID string) ([]VLAN, error) {
	var out []VLAN
	err := c.Get(ctx, VLANsPath(networkID), nil, &out)
	return out, err
}

// CreateVLAN adds one appliance VLAN.
func (c *Client) CreateVLAN(ctx context.Context, networkID string, v VLAN) error {
	return c.Post(ctx, VLANsPath(networkID), v, nil)
}

// FirmwareUpgrade is one entry of /organizations/{id}/firmware/upgrades.
type FirmwareUpgrade struct {
	Network struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"network"`
	ProductTypes string `json:"productTypes"`
	ToVersion    struct {
		ShortName string `json:"shortName"`
	} `json:"toVersion"`
}

// FirmwareUpgrades lists the organization's firmware upgrades.
func (c *Client) FirmwareUpgrades(ctx context.Context, orgID string) ([]FirmwareUpgrade, error) {
	var out []FirmwareUpgrade
	err := c.Get(ctx, "/organizations/"+url.PathEscape(orgID)+"/firmware/upgrades", nil, &out)
	return out, err
}
