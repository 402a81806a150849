package meraki

import (
	"context"
	"net/url"
)

// ThirdPartyPeer is a non-Meraki site-to-site VPN peer.
type ThirdPartyPeer struct {
	Name            string   `json:"name"`
	PublicIP        string   `json:"publicIp,omitempty"`
	RemoteID        string   `json:"remoteId,omitempty"`
	IkeVersion      string   `json:"ikeVersion,omitempty"`
	Secret          string   `json:"secret,omitempty"`
	PrivateSubnets  []string `json:"privateSubnets"`
	PriorityInGroup *int     `json:"priorityInGroup,omitempty"`
}

// SiteToSiteVPN is a network's AutoVPN settings.
type SiteToSiteVPN struct {
	Mode string `json:"mode"`
	Hubs []struct {
		HubID           string `json:"hubId"`
		UseDefaultRoute bool   `json:"useDefaultRoute"`
	} `json:"hubs,omitempty"`
	Subnets []struct {
		LocalSubnet string `json:"localSubnet"`
		UseVpn      bool   `json:"useVpn"`
	} `json:"subnets,omitempty"`
}

// ThirdPartyPeers lists the organization's third-party VPN peers.
func (c *Client) ThirdPartyPeers(ctx context.Context, orgID string) ([]ThirdPartyPeer, error) {
	var out struct {
		Peers []ThirdPartyPeer `json:"peers"`
	}
	err := c.Get(ctx, "/organizations/"+url.PathEscape(orgID)+"/appliance/vpn/thirdPartyVPNPeers", nil, &out)
	return out.Peers, err
}

// SiteToSiteVPN fetches a network's site-to-site VPN settings.
func (c *Client) SiteToSiteVPN(ctx context.Context, networkID string) (*SiteToSiteVPN, error) {
	var out SiteToSiteVPN
	if err := c.Get(ctx, "/networks/"+url.PathEscape(networkID)+"/appliance/vpn/siteToSiteVpn", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NetworkExclusions is one network's entry in the organization-wide VPN
// exclusion listing.
type NetworkExclusions struct {
	NetworkID         string           `json:"networkId"`
	NetworkName       string           `json:"networkName"`
	Custom            []map[string]any `json:"custom"`
	MajorApplications []map[string]any `json:"majorApplications"`
}

// VpnExclusionsByNetwork lists the VPN exclusions of every appliance
// network in an organization.
func (c *Client) VpnExclusionsByNetwork(ctx context.Context, orgID string) ([]NetworkExclusions, error) {
	var out struct {
		Items []NetworkExclusions `json:"items"`
	}
	err := c.Get(ctx, "/organizations/"+url.PathEscape(orgID)+"/appliance/trafficShaping/vpnExclusions/byNetwork", nil, &out)
	return out.Items, err
}
