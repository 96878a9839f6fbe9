package config

import (
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport hints accepted in a backend's "type" field. An empty hint
// means auto-detect (streamable HTTP first, legacy SSE fallback) for
// URL backends and stdio for command backends.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
)

const defaultIdleTimeoutMinutes = 5

// backendNameRE restricts backend names to identifier characters so the
// "::" namespace separator can never occur inside one.
var backendNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidBackendName reports whether name may be used as a backend key.
func ValidBackendName(name string) bool {
	return backendNameRE.MatchString(name)
}

// ToolEntry is the persisted policy record for a single backend-local
// tool. Enabled belongs to the user; discovery only touches Stale and
// Description.
type ToolEntry struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Stale       bool   `yaml:"stale" json:"stale"`
	Description string `yaml:"description" json:"description"`
}

// EnvMap decodes a YAML mapping of environment variables, coercing
// every scalar value to its literal string form so numeric or boolean
// values in hand-edited documents don't fail to decode.
type EnvMap map[string]string

func (e *EnvMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("env: expected a mapping, got %s", value.ShortTag())
	}
	out := make(EnvMap, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		out[value.Content[i].Value] = value.Content[i+1].Value
	}
	*e = out
	return nil
}

// BackendConfig declares one upstream MCP server. Exactly one of
// Command or URL must be set.
type BackendConfig struct {
	Command string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
	Env     EnvMap   `yaml:"env,omitempty" json:"env,omitempty"`

	URL  string `yaml:"url,omitempty" json:"url,omitempty"`
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	AlwaysOn           bool `yaml:"always_on" json:"always_on"`
	IdleTimeoutMinutes int  `yaml:"idle_timeout_minutes" json:"idle_timeout_minutes,omitempty"`

	Tools map[string]*ToolEntry `yaml:"tools" json:"tools,omitempty"`

	// Triggers are keywords that, when seen in an incoming tool call,
	// cause this backend to be opened even though the call addresses a
	// different backend.
	Triggers []string `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// IdleTimeout returns the effective idle timeout, applying the default
// when the document omits the field.
func (c *BackendConfig) IdleTimeout() time.Duration {
	minutes := c.IdleTimeoutMinutes
	if minutes <= 0 {
		minutes = defaultIdleTimeoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// Validate checks the pairing rules for one backend entry.
func (c *BackendConfig) Validate(name string) error {
	if !ValidBackendName(name) {
		return fmt.Errorf("backend name %q must start with a letter or digit and use only [A-Za-z0-9_-]", name)
	}
	if c.Command != "" && c.URL != "" {
		return fmt.Errorf("backend %q sets both command and url", name)
	}
	if c.Command == "" && c.URL == "" {
		return fmt.Errorf("backend %q sets neither command nor url", name)
	}
	switch c.Type {
	case "", TransportStdio, TransportStreamableHTTP, TransportSSE,
		// Accepted legacy spellings kept for hand-written documents.
		"http", "streamablehttp":
	default:
		return fmt.Errorf("backend %q has unknown transport type %q", name, c.Type)
	}
	return nil
}

// RetrievalSettings configure the optional tool retrieval pipeline.
type RetrievalSettings struct {
	Enabled              bool     `yaml:"enabled" json:"enabled"`
	TopK                 int      `yaml:"top_k,omitempty" json:"top_k,omitempty"`
	FullDescriptionCount int      `yaml:"full_description_count,omitempty" json:"full_description_count,omitempty"`
	AnchorTools          []string `yaml:"anchor_tools,omitempty" json:"anchor_tools,omitempty"`
}

// Document is the unified declarative document. Backend insertion
// order is preserved across load/save cycles so listings are
// deterministic and human diffs stay small.
type Document struct {
	Servers   map[string]*BackendConfig
	Retrieval RetrievalSettings

	// Sources are extra paths scanned for MCP JSON config files when
	// looking for backends that are not yet declared here.
	Sources []string

	order []string
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Servers: make(map[string]*BackendConfig)}
}

// ServerNames returns the backend names in insertion order.
func (d *Document) ServerNames() []string {
	names := make([]string, 0, len(d.order))
	for _, name := range d.order {
		if _, ok := d.Servers[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Server returns the config for name, or nil.
func (d *Document) Server(name string) *BackendConfig {
	return d.Servers[name]
}

// AddServer inserts or replaces a backend entry, preserving the
// position of an existing entry.
func (d *Document) AddServer(name string, cfg *BackendConfig) {
	if d.Servers == nil {
		d.Servers = make(map[string]*BackendConfig)
	}
	if _, ok := d.Servers[name]; !ok {
		d.order = append(d.order, name)
	}
	if cfg.Tools == nil {
		cfg.Tools = make(map[string]*ToolEntry)
	}
	d.Servers[name] = cfg
}

// RemoveServer deletes a backend entry. It reports whether the entry
// existed.
func (d *Document) RemoveServer(name string) bool {
	if _, ok := d.Servers[name]; !ok {
		return false
	}
	delete(d.Servers, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

func (d *Document) validate() error {
	for name, cfg := range d.Servers {
		if err := cfg.Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalYAML decodes the document while recording the order in which
// backends appear. Unknown top-level keys are ignored so newer
// documents keep loading on older builds.
func (d *Document) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("document: expected a mapping, got %s", value.ShortTag())
	}
	d.Servers = make(map[string]*BackendConfig)
	d.order = nil
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		switch key.Value {
		case "servers":
			if val.Kind != yaml.MappingNode {
				if val.Tag == "!!null" {
					continue
				}
				return fmt.Errorf("document: servers must be a mapping, got %s", val.ShortTag())
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				name := val.Content[j].Value
				cfg := &BackendConfig{}
				if err := val.Content[j+1].Decode(cfg); err != nil {
					return fmt.Errorf("document: backend %q: %w", name, err)
				}
				if cfg.Tools == nil {
					cfg.Tools = make(map[string]*ToolEntry)
				}
				d.Servers[name] = cfg
				d.order = append(d.order, name)
			}
		case "retrieval":
			if err := val.Decode(&d.Retrieval); err != nil {
				return fmt.Errorf("document: retrieval: %w", err)
			}
		case "sources":
			if err := val.Decode(&d.Sources); err != nil {
				return fmt.Errorf("document: sources: %w", err)
			}
		}
	}
	return nil
}

// MarshalYAML emits backends in insertion order. Tool maps come out
// sorted by name (the yaml encoder sorts map keys), which keeps diffs
// of hand-edited documents stable.
func (d *Document) MarshalYAML() (any, error) {
	serversNode := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range d.ServerNames() {
		keyNode := &yaml.Node{}
		if err := keyNode.Encode(name); err != nil {
			return nil, err
		}
		valNode := &yaml.Node{}
		if err := valNode.Encode(d.Servers[name]); err != nil {
			return nil, err
		}
		serversNode.Content = append(serversNode.Content, keyNode, valNode)
	}

	root := &yaml.Node{Kind: yaml.MappingNode}
	appendKey := func(key string, val *yaml.Node) {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
		root.Content = append(root.Content, keyNode, val)
	}
	appendKey("servers", serversNode)
	if len(d.Sources) > 0 {
		node := &yaml.Node{}
		if err := node.Encode(d.Sources); err != nil {
			return nil, err
		}
		appendKey("sources", node)
	}
	if d.Retrieval.Enabled || d.Retrieval.TopK != 0 || d.Retrieval.FullDescriptionCount != 0 || len(d.Retrieval.AnchorTools) > 0 {
		node := &yaml.Node{}
		if err := node.Encode(d.Retrieval); err != nil {
			return nil, err
		}
		appendKey("retrieval", node)
	}
	return root, nil
}
