// Package model defines the value types shared by the diff engine, the
// validation framework, the rollback manager, and the orchestrator.
package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtdeploy/pkg/util"
)

// MetadataKey is the reserved non-device entry in a configuration mapping.
const MetadataKey = "_metadata"

// ConfigSet is a per-device ordered command list, plus the logical service
// name carried by the metadata entry.
type ConfigSet struct {
	Devices     map[string][]string `json:"devices"`
	ServiceName string              `json:"service_name,omitempty"`
}

// NewConfigSet creates an empty ConfigSet.
func NewConfigSet() *ConfigSet {
	return &ConfigSet{Devices: make(map[string][]string)}
}

// DeviceIDs returns the device identifiers in sorted order.
func (c *ConfigSet) DeviceIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Devices))
	for id := range c.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Commands returns the command list for a device (nil if absent).
func (c *ConfigSet) Commands(deviceID string) []string {
	if c == nil {
		return nil
	}
	return c.Devices[deviceID]
}

// Has reports whether the device has an entry.
func (c *ConfigSet) Has(deviceID string) bool {
	if c == nil {
		return false
	}
	_, ok := c.Devices[deviceID]
	return ok
}

// ParseConfigSet converts a decoded mapping into a ConfigSet. Each device
// entry must be a list of strings or an object with a "commands" list.
func ParseConfigSet(raw map[string]any) (*ConfigSet, error) {
	cs := NewConfigSet()
	for key, value := range raw {
		if key == MetadataKey {
			meta, ok := value.(map[string]any)
			if !ok {
				return nil, util.NewMalformedInputError(key, "metadata must be an object")
			}
			if name, ok := meta["service_name"].(string); ok {
				cs.ServiceName = name
			}
			continue
		}

		cmds, err := commandList(key, value)
		if err != nil {
			return nil, err
		}
		cs.Devices[key] = cmds
	}
	return cs, nil
}

func commandList(key string, value any) ([]string, error) {
	switch v := value.(type) {
	case []any:
		return stringList(key, v)
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case map[string]any:
		inner, ok := v["commands"]
		if !ok {
			return nil, util.NewMalformedInputError(key, "object entry has no 'commands' list")
		}
		list, ok := inner.([]any)
		if !ok {
			if strs, ok := inner.([]string); ok {
				return commandList(key, strs)
			}
			return nil, util.NewMalformedInputError(key, "'commands' must be a list")
		}
		return stringList(key, list)
	default:
		return nil, util.NewMalformedInputError(key, fmt.Sprintf("expected command list or {commands: [...]}, got %T", value))
	}
}

func stringList(key string, items []any) ([]string, error) {
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, util.NewMalformedInputError(key, fmt.Sprintf("command %d is %T, not a string", i, item))
		}
		out = append(out, s)
	}
	return out, nil
}

// UnmarshalJSON accepts the mapping form used on disk.
func (c *ConfigSet) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseConfigSet(raw)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

// MarshalJSON writes the mapping form, so files round-trip.
func (c ConfigSet) MarshalJSON() ([]byte, error) {
	raw := make(map[string]any, len(c.Devices)+1)
	for id, cmds := range c.Devices {
		raw[id] = cmds
	}
	if c.ServiceName != "" {
		raw[MetadataKey] = map[string]string{"service_name": c.ServiceName}
	}
	return json.Marshal(raw)
}

// LoadConfigSet reads a configuration file. Files ending in .yaml or .yml are
// decoded as YAML, everything else as JSON.
func LoadConfigSet(path string) (*ConfigSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing config YAML %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing config JSON %s: %w", path, err)
		}
	}

	if raw == nil {
		return NewConfigSet(), nil
	}
	cs, err := ParseConfigSet(raw)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	return cs, nil
}
