package troubleshoot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/merakimate/merakimate/pkg/meraki"
	"github.com/merakimate/merakimate/pkg/util"
)

// DefaultKnowledgePath is where the knowledge base lives unless configured.
const DefaultKnowledgePath = "data/meraki_offline_knowledge.yaml"

// Entry is the advice for one keyword.
type Entry struct {
	Recommendation string `yaml:"recommendation"`
}

// KnowledgeBase maps a keyword to advice. A keyword matches when it occurs
// anywhere in the lowercased JSON of the events.
type KnowledgeBase map[string]Entry

// DefaultKnowledge returns the built-in entries written on first use.
func DefaultKnowledge() KnowledgeBase {
	return KnowledgeBase{
		"cf_block":       {Recommendation: "Review content filter settings and consider whitelisting trusted URLs."},
		"dhcp_lease":     {Recommendation: "Check for short lease times, IP pool exhaustion, or duplicate IPs."},
		"dhcp_problem":   {Recommendation: "Investigate VLAN misconfigurations or DHCP scope depletion."},
		"dhcp_release":   {Recommendation: "Frequent releases may indicate DHCP flapping; inspect client or switchport stability."},
		"martian_vlan":   {Recommendation: "Check VLAN routing, trunk/access port settings, and misconfigured interfaces."},
		"non_meraki_vpn": {Recommendation: "Ensure correct IPsec settings and that remote peer is reachable."},
	}
}

// LoadKnowledge reads the knowledge base at path, writing the defaults there
// first when the file does not exist. created reports whether it did.
func LoadKnowledge(path string) (kb KnowledgeBase, created bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := SaveKnowledge(path, DefaultKnowledge()); err != nil {
			return nil, false, err
		}
		util.WithField("path", path).Info("Created default offline knowledge base")
		return DefaultKnowledge(), true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading knowledge base: %w", err)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, false, fmt.Errorf("parsing knowledge base %s: %w", path, err)
	}
	if len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
		return nil, false, fmt.Errorf("knowledge base %s: %w", path, util.NewValidationError("top level must be a mapping of keyword to recommendation"))
	}
	if err := node.Decode(&kb); err != nil {
		return nil, false, fmt.Errorf("parsing knowledge base %s: %w", path, err)
	}
	return kb, false, nil
}

// SaveKnowledge writes kb as YAML, creating parent directories.
func SaveKnowledge(path string, kb KnowledgeBase) error {
	data, err := yaml.Marshal(kb)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating knowledge base directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Keywords returns the keywords in match order.
func (kb KnowledgeBase) Keywords() []string {
	keys := make([]string, 0, len(kb))
	for k := range kb {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Match returns the first keyword, in sorted order, found in events.
func (kb KnowledgeBase) Match(events []meraki.Event) (string, Entry, bool) {
	haystack := text(events)
	for _, k := range kb.Keywords() {
		if k != "" && strings.Contains(haystack, strings.ToLower(k)) {
			return k, kb[k], true
		}
	}
	return "", Entry{}, false
}
