package config

import (
	"encoding/json"
	"fmt"
	"sort"
)

// rawServer mirrors the JSON shapes used by MCP-aware tools. Command
// may be a string or a ["cmd", "arg", ...] list; unknown keys are
// dropped.
type rawServer struct {
	Command            json.RawMessage   `json:"command"`
	Args               []string          `json:"args"`
	Env                map[string]string `json:"env"`
	URL                string            `json:"url"`
	Type               string            `json:"type"`
	AlwaysOn           bool              `json:"always_on"`
	IdleTimeoutMinutes int               `json:"idle_timeout_minutes"`
	Triggers           []string          `json:"triggers"`
}

// ExtractServers pulls backend declarations out of an MCP JSON config
// document. The following container shapes are recognized:
//
//	{ "mcpServers": { ... } }   Claude Desktop, Copilot CLI, OpenCode
//	{ "servers": { ... } }      VS Code
//	{ "mcp": { ... } }          Gemini / OpenCode alternate
//	{ "<name>": { ... }, ... }  bare plugin .mcp.json
//
// Entries with a command given as a list are normalized to
// command + args. Names come back sorted for deterministic insertion.
func ExtractServers(data []byte) (map[string]*BackendConfig, []string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, fmt.Errorf("config: parse json config: %w", err)
	}

	for _, key := range []string{"mcpServers", "servers", "mcp"} {
		if section, ok := top[key]; ok {
			return decodeServerSection(section)
		}
	}

	// Bare format: every top-level key is a server name. Only accept it
	// when at least one entry carries a server-shaped field.
	bare, names, err := decodeServerSection(data)
	if err != nil || len(bare) == 0 {
		return nil, nil, nil
	}
	return bare, names, nil
}

func decodeServerSection(section json.RawMessage) (map[string]*BackendConfig, []string, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(section, &entries); err != nil {
		return nil, nil, nil
	}
	out := make(map[string]*BackendConfig)
	for name, rawEntry := range entries {
		var raw rawServer
		if err := json.Unmarshal(rawEntry, &raw); err != nil {
			continue
		}
		cfg := &BackendConfig{
			Args:               raw.Args,
			Env:                EnvMap(raw.Env),
			URL:                raw.URL,
			Type:               raw.Type,
			AlwaysOn:           raw.AlwaysOn,
			IdleTimeoutMinutes: raw.IdleTimeoutMinutes,
			Triggers:           raw.Triggers,
			Tools:              make(map[string]*ToolEntry),
		}
		if len(raw.Command) > 0 {
			var cmd string
			if err := json.Unmarshal(raw.Command, &cmd); err == nil {
				cfg.Command = cmd
			} else {
				var list []string
				if err := json.Unmarshal(raw.Command, &list); err != nil || len(list) == 0 {
					continue
				}
				cfg.Command = list[0]
				cfg.Args = append(list[1:], cfg.Args...)
			}
		}
		if cfg.Command == "" && cfg.URL == "" {
			continue
		}
		out[name] = cfg
	}
	names := make([]string, 0, len(out))
	for name := range out {
		names = append(names, name)
	}
	sort.Strings(names)
	return out, names, nil
}
