package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// PermissionEntry mirrors bridge.PermissionMatch's shape without importing
// the bridge package, so config stays a leaf dependency of the module. It
// decodes from a permissions YAML file at BridgeConfig.PermissionsPath and
// is converted to bridge.PermissionMatch by whoever builds bridge.Config.
type PermissionEntry struct {
	Address      *string        `yaml:"address"`
	AddressRegex *string        `yaml:"addressRegex"`
	Match        map[string]any `yaml:"match"`
	RequiresAuth bool           `yaml:"requiresAuth"`
}

// PermissionsFile is the shape of the YAML file named by
// BridgeConfig.PermissionsPath, listing the inbound and outbound
// permission lists a bridge is built with.
type PermissionsFile struct {
	InboundPermitted  []PermissionEntry `yaml:"inboundPermitted"`
	OutboundPermitted []PermissionEntry `yaml:"outboundPermitted"`
}

// LoadPermissions reads and decodes a PermissionsFile from path. Callers
// should treat a missing path as "no permissions configured" rather than
// an error; BridgeConfig.PermissionsPath is optional.
func LoadPermissions(path string) (*PermissionsFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pf PermissionsFile
	if err := yaml.NewDecoder(f).Decode(&pf); err != nil {
		return nil, err
	}

	for i := range pf.InboundPermitted {
		pf.InboundPermitted[i].Match = normalizeYAMLMatch(pf.InboundPermitted[i].Match)
	}
	for i := range pf.OutboundPermitted {
		pf.OutboundPermitted[i].Match = normalizeYAMLMatch(pf.OutboundPermitted[i].Match)
	}

	return &pf, nil
}

// normalizeYAMLMatch recursively converts a map decoded by gopkg.in/yaml.v2
// into the same shape encoding/json.Unmarshal would have produced, so
// bridge.MatchEngine's reflect.DeepEqual comparison against a client's
// JSON body sees matching concrete types on both sides. yaml.v2 decodes
// integers to int/int64 (json: always float64) and nested mappings to
// map[interface{}]interface{} (json: always map[string]interface{});
// left unnormalized, any numeric or nested-object match constraint would
// never equal a same-valued JSON body.
func normalizeYAMLMatch(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLValue(vv)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = normalizeYAMLValue(vv)
		}
		return out
	case []interface{}:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = normalizeYAMLValue(vv)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	default:
		return v
	}
}
