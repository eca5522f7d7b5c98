package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stellarlinkco/hookflow/pkg/core/events"
	"github.com/stellarlinkco/hookflow/pkg/core/hooks"
)

// Decode parses settings bytes. YAML extensions take the YAML path, anything
// else is treated as JSON.
func Decode(data []byte, ext string) (*Settings, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		jsonData, err := yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("settings: invalid YAML: %w", err)
		}
		data = jsonData
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return &s, nil
}

// yamlToJSON round-trips YAML through the generic representation so the JSON
// decoders (including HookMap's dual-format handling) stay the single source
// of truth for field semantics.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return json.Marshal(raw)
}

// UnmarshalJSON accepts two shapes per event kind:
//  1. canonical array form: [{"matcher": "pattern", "hooks": [...]}]
//  2. legacy map form: {"<matcher>": "<command>"}
//
// Unknown kind names are rejected so typos fail at load rather than silently
// registering nothing.
func (h *HookMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("hooks: invalid JSON: %w", err)
	}

	out := make(HookMap, len(raw))
	for name, section := range raw {
		kind, err := events.ParseKind(name)
		if err != nil {
			return fmt.Errorf("hooks: %w", err)
		}
		entries, err := parseHookSection(section)
		if err != nil {
			return fmt.Errorf("hooks: %s: %w", name, err)
		}
		if len(entries) > 0 {
			out[kind] = entries
		}
	}

	*h = out
	return nil
}

// parseHookSection handles both array and map formats for one kind.
func parseHookSection(data json.RawMessage) ([]MatcherEntry, error) {
	var arrFormat []MatcherEntry
	if err := json.Unmarshal(data, &arrFormat); err == nil {
		for i := range arrFormat {
			for j := range arrFormat[i].Hooks {
				if arrFormat[i].Hooks[j].Type == "" {
					arrFormat[i].Hooks[j].Type = string(hooks.TypeCommand)
				}
			}
		}
		return arrFormat, nil
	}

	var mapFormat map[string]string
	if err := json.Unmarshal(data, &mapFormat); err == nil {
		return convertLegacyMapFormat(mapFormat), nil
	}

	return nil, fmt.Errorf("invalid format: expected array or map")
}

// convertLegacyMapFormat expands {"matcher": "command"} pairs into canonical
// entries. Matchers are sorted so registration order is reproducible.
func convertLegacyMapFormat(m map[string]string) []MatcherEntry {
	if len(m) == 0 {
		return nil
	}
	matchers := make([]string, 0, len(m))
	for matcher := range m {
		matchers = append(matchers, matcher)
	}
	sort.Strings(matchers)

	entries := make([]MatcherEntry, 0, len(m))
	for _, matcher := range matchers {
		command := m[matcher]
		if command == "" {
			continue
		}
		entries = append(entries, MatcherEntry{
			Matcher: matcher,
			Hooks: []HandlerDef{{
				Type:    string(hooks.TypeCommand),
				Command: command,
			}},
		})
	}
	if len(entries) == 0 {
		return nil
	}
	return entries
}
