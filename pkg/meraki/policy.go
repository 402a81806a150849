package meraki

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"github.com/merakimate/merakimate/pkg/util"
)

// PolicyObject is an organization-wide network object.
type PolicyObject struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Type     string   `json:"type"`
	CIDR     string   `json:"cidr,omitempty"`
	FQDN     string   `json:"fqdn,omitempty"`
	GroupIDs []string `json:"groupIds,omitempty"`
}

// PolicyObjectGroup groups policy objects by id.
type PolicyObjectGroup struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Category  string   `json:"category,omitempty"`
	ObjectIDs []string `json:"objectIds"`
}

// MaxObjectsPerGroup is the largest group the dashboard accepts.
const MaxObjectsPerGroup = 149

// NewCIDRObject returns a network/cidr policy object.
func NewCIDRObject(name, cidr string) PolicyObject {
	return PolicyObject{Name: name, Category: "network", Type: "cidr", CIDR: cidr}
}

func policyObjectsPath(orgID string) string {
	return "/organizations/" + url.PathEscape(orgID) + "/policyObjects"
}

// PolicyObjects lists the organization's policy objects.
func (c *Client) PolicyObjects(ctx context.Context, orgID string) ([]PolicyObject, error) {
	var out []PolicyObject
	err := c.Get(ctx, policyObjectsPath(orgID), nil, &out)
	return out, err
}

// CreatePolicyObject creates obj and returns the stored object.
func (c *Client) CreatePolicyObject(ctx context.Context, orgID string, obj PolicyObject) (*PolicyObject, error) {
	var out PolicyObject
	if err := c.Post(ctx, policyObjectsPath(orgID), obj, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePolicyObject deletes one object.
func (c *Client) DeletePolicyObject(ctx context.Context, orgID, id string) error {
	return c.Delete(ctx, policyObjectsPath(orgID)+"/"+url.PathEscape(id))
}

// PolicyObjectGroups lists the organization's object groups.
func (c *Client) PolicyObjectGroups(ctx context.Context, orgID string) ([]PolicyObjectGroup, error) {
	var out []PolicyObjectGroup
	err := c.Get(ctx, policyObjectsPath(orgID)+"/groups", nil, &out)
	return out, err
}

// CreatePolicyObjectGroup creates a group.
func (c *Client) CreatePolicyObjectGroup(ctx context.Context, orgID string, group PolicyObjectGroup) (*PolicyObjectGroup, error) {
	var out PolicyObjectGroup
	if err := c.Post(ctx, policyObjectsPath(orgID)+"/groups", group, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePolicyObjectGroup deletes a group.
func (c *Client) DeletePolicyObjectGroup(ctx context.Context, orgID, id string) error {
	return c.Delete(ctx, policyObjectsPath(orgID)+"/groups/"+url.PathEscape(id))
}

// writeCheckCIDR is in TEST-NET-1 and never routed.
const writeCheckCIDR = "192.0.2.1/32"

// WriteCheckPrefix starts the name of every throwaway object created by
// HasWriteAccess.
const WriteCheckPrefix = "merakimate-write-check-"

// HasWriteAccess reports whether the key may write to orgID by creating
// and immediately deleting a throwaway policy object. Each call uses a
// fresh name so an object left by a failed cleanup never blocks the next
// check. Any failure to create reports false; a failed cleanup is
// returned as an error.
func (c *Client) HasWriteAccess(ctx context.Context, orgID string) (bool, error) {
	name := WriteCheckPrefix + uuid.NewString()[:8]
	obj, err := c.CreatePolicyObject(ctx, orgID, NewCIDRObject(name, writeCheckCIDR))
	if err != nil || obj.ID == "" {
		return false, nil
	}
	if err := c.DeletePolicyObject(ctx, orgID, obj.ID); err != nil {
		return true, err
	}
	return true, nil
}

// GroupName is the name of the n-th (1-based) group made from objects
// sharing baseName.
func GroupName(baseName string, n int) string {
	return fmt.Sprintf("%s_Group_%d", baseName, n)
}

// GroupPolicyObjects puts ids into groups of at most MaxObjectsPerGroup,
// named by GroupName. It stops at the first failure and returns the
// groups created so far.
func (c *Client) GroupPolicyObjects(ctx context.Context, orgID, baseName string, ids []string) ([]PolicyObjectGroup, error) {
	var out []PolicyObjectGroup
	for i, chunk := range util.Chunk(ids, MaxObjectsPerGroup) {
		name := GroupName(baseName, i+1)
		g, err := c.CreatePolicyObjectGroup(ctx, orgID, PolicyObjectGroup{Name: name, ObjectIDs: chunk})
		if err != nil {
			return out, fmt.Errorf("creating group %s: %w", name, err)
		}
		out = append(out, *g)
	}
	return out, nil
}
