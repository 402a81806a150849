package meraki

import (
	"context"
	"net/url"
)

// Organization is a dashboard organization.
type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Network is a dashboard network.
type Network struct {
	ID             string   `json:"id"`
	OrganizationID string   `json:"organizationId,omitempty"`
	Name           string   `json:"name"`
	ProductTypes   []string `json:"productTypes,omitempty"`
	TimeZone       string   `json:"timeZone,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

// CreateNetworkRequest is the body of POST /organizations/{id}/networks.
type CreateNetworkRequest struct {
	Name         string   `json:"name"`
	ProductTypes []string `json:"productTypes"`
	TimeZone     string   `json:"timeZone,omitempty"`
	Tags         []string `json:"tags"`
}

// DefaultTimeZone is used for new networks when none is given.
const DefaultTimeZone = "Asia/Kolkata"

// Organizations lists the organizations the key can see.
func (c *Client) Organizations(ctx context.Context) ([]Organization, error) {
	var out []Organization
	err := c.Get(ctx, "/organizations", nil, &out)
	return out, err
}

// Networks lists an organization's networks.
func (c *Client) Networks(ctx context.Context, orgID string) ([]Network, error) {
	var out []Network
	err := c.Get(ctx, "/organizations/"+url.PathEscape(orgID)+"/networks", nil, &out)
	return out, err
}

// CreateNetwork creates a network and returns it.
func (c *Client) CreateNetwork(ctx context.Context, orgID string, req CreateNetworkRequest) (*Network, error) {
	if req.TimeZone == "" {
		req.TimeZone = DefaultTimeZone
	}
	if req.Tags == nil {
		req.Tags = []string{}
	}
	var out Network
	if err := c.Post(ctx, "/organizations/"+url.PathEscape(orgID)+"/networks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
