package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/bridge/internal/bridge"
	"github.com/ocx/bridge/internal/config"
)

// TestBuildBridgeConfigNumericAndNestedMatchEndToEnd guards against a
// yaml.v2/encoding/json type mismatch: YAML decodes integers to int and
// nested mappings to map[interface{}]interface{}, while every body the
// bridge evaluates comes from encoding/json.Unmarshal (float64, nested
// map[string]interface{}). Loading a real permissions file with a
// numeric or nested match constraint must still match a same-valued JSON
// body once it reaches the MatchEngine.
func TestBuildBridgeConfigNumericAndNestedMatchEndToEnd(t *testing.T) {
	yamlContent := `
inboundPermitted:
  - address: "orders.create"
    match:
      x: 1
      nested:
        y: 2
    requiresAuth: false
`
	f, err := os.CreateTemp(t.TempDir(), "permissions-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString(yamlContent)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	bridgeCfg := buildBridgeConfig(config.BridgeConfig{
		AuthAddress:     "test.auth",
		ReplyTimeoutSec: 5,
		PermissionsPath: f.Name(),
	})
	require.Len(t, bridgeCfg.InboundPermitted, 1)

	engine := bridge.NewMatchEngine(bridgeCfg.InboundPermitted, nil, bridge.NewReplyAddressRegistry(time.Second))

	// A body shaped exactly as encoding/json.Unmarshal would produce it
	// from a client's JSON frame: float64 leaves, map[string]interface{}
	// nesting.
	jsonShapedBody := map[string]any{
		"x":      float64(1),
		"nested": map[string]any{"y": float64(2)},
	}
	result := engine.Match(bridge.Inbound, "orders.create", jsonShapedBody)
	assert.True(t, result.DoesMatch, "numeric and nested match constraints loaded from YAML must match a same-valued JSON body")

	mismatchedBody := map[string]any{
		"x":      float64(1),
		"nested": map[string]any{"y": float64(3)},
	}
	result = engine.Match(bridge.Inbound, "orders.create", mismatchedBody)
	assert.False(t, result.DoesMatch)
}

func TestBuildBridgeConfigMissingPermissionsPathDeniesAll(t *testing.T) {
	bridgeCfg := buildBridgeConfig(config.BridgeConfig{AuthAddress: "test.auth", ReplyTimeoutSec: 5})
	assert.Empty(t, bridgeCfg.InboundPermitted)
	assert.Empty(t, bridgeCfg.OutboundPermitted)
}
