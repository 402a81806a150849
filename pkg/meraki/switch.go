package meraki

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/merakimate/merakimate/pkg/util"
)

// SwitchPort is a switch port document. It is kept as a map so a PUT can
// send back every fetched field with only the changed ones replaced.
type SwitchPort map[string]any

// PortID returns the port's "portId" field.
func (p SwitchPort) PortID() string {
	id, _ := p["portId"].(string)
	return id
}

// L3Interface is a switch routed interface.
type L3Interface struct {
	InterfaceID string `json:"interfaceId"`
	Name        string `json:"name"`
	Subnet      string `json:"subnet"`
	InterfaceIP string `json:"interfaceIp"`
	VlanID      int    `json:"vlanId"`
}

// SwitchPorts lists a switch's ports.
func (c *Client) SwitchPorts(ctx context.Context, serial string) ([]SwitchPort, error) {
	var out []SwitchPort
	err := c.Get(ctx, "/devices/"+url.PathEscape(serial)+"/switch/ports", nil, &out)
	return out, err
}

// UpdateSwitchPort PUTs a full port document.
func (c *Client) UpdateSwitchPort(ctx context.Context, serial string, port SwitchPort) error {
	path := "/devices/" + url.PathEscape(serial) + "/switch/ports/" + url.PathEscape(port.PortID())
	return c.Put(ctx, path, port, nil)
}

// L3Interfaces lists a switch's routed interfaces.
func (c *Client) L3Interfaces(ctx context.Context, serial string) ([]L3Interface, error) {
	var out []L3Interface
	err := c.Get(ctx, "/devices/"+url.PathEscape(serial)+"/switch/routing/interfaces", nil, &out)
	return out, err
}

// Trunk is the VLAN layout of a trunk port.
type Trunk struct {
	Native  int    `json:"native"`
	Allowed string `json:"allowed"`
}

// PortPlan maps port ids to the access VLAN or trunk layout they should
// carry. A plan built for one switch can be replayed on the next.
type PortPlan struct {
	Access map[string]int   `json:"access,omitempty"`
	Trunk  map[string]Trunk `json:"trunk,omitempty"`
}

// SetAccess assigns vlan to every port in spec ("1-3,5").
func (p *PortPlan) SetAccess(spec string, vlan int) error {
	ports, err := util.ExpandRange(spec)
	if err != nil {
		return fmt.Errorf("access ports %q: %w", spec, err)
	}
	if p.Access == nil {
		p.Access = map[string]int{}
	}
	for _, n := range ports {
		p.Access[strconv.Itoa(n)] = vlan
	}
	return nil
}

// SetTrunk assigns t to every port in spec.
func (p *PortPlan) SetTrunk(spec string, t Trunk) error {
	ports, err := util.ExpandRange(spec)
	if err != nil {
		return fmt.Errorf("trunk ports %q: %w", spec, err)
	}
	if p.Trunk == nil {
		p.Trunk = map[string]Trunk{}
	}
	for _, n := range ports {
		p.Trunk[strconv.Itoa(n)] = t
	}
	return nil
}

// Empty reports whether the plan touches no port.
func (p PortPlan) Empty() bool { return len(p.Access) == 0 && len(p.Trunk) == 0 }

// Apply returns port with the plan's fields laid over it, and false when
// the plan does not mention the port. An access assignment wins over a
// trunk for the same port.
func (p PortPlan) Apply(port SwitchPort) (SwitchPort, bool) {
	id := port.PortID()
	out := make(SwitchPort, len(port)+4)
	for k, v := range port {
		out[k] = v
	}
	if vlan, ok := p.Access[id]; ok {
		out["type"] = "access"
		out["portMode"] = "access"
		out["vlan"] = vlan
		return out, true
	}
	if t, ok := p.Trunk[id]; ok {
		out["type"] = "trunk"
		out["portMode"] = "trunk"
		out["vlan"] = t.Native
		out["nativeVlan"] = t.Native
		out["allowedVlans"] = t.Allowed
		return out, true
	}
	return nil, false
}
