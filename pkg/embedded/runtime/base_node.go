package runtime

import (
	"encoding/json"
)

// BaseNode provides common functionality for embedded nodes.
// Embed this in your custom node implementations.
type BaseNode struct {
	nodeId     string
	pluginType string
	label      string
	config     map[string]interface{}
	rawConfig  json.RawMessage
}

// NewBaseNode creates a new base node from configuration.
func NewBaseNode(config EmbeddedNodeConfig) BaseNode {
	parsedConfig, err := config.NodeConfig.Parameters()
	if err != nil {
		parsedConfig = make(map[string]interface{})
	}

	return BaseNode{
		nodeId:     config.NodeId,
		pluginType: config.PluginType,
		label:      config.Label,
		config:     parsedConfig,
		rawConfig:  config.NodeConfig.Config,
	}
}

// NodeId returns the node ID.
func (n *BaseNode) NodeId() string {
	return n.nodeId
}

// PluginType returns the plugin type.
func (n *BaseNode) PluginType() string {
	return n.pluginType
}

// Label returns the node label.
func (n *BaseNode) Label() string {
	return n.label
}

// Config returns the parsed configuration map.
func (n *BaseNode) Config() map[string]interface{} {
	return n.config
}

// RawConfig returns the raw JSON configuration.
func (n *BaseNode) RawConfig() json.RawMessage {
	return n.rawConfig
}

// GetConfigString returns a config value as string.
func (n *BaseNode) GetConfigString(key string) string {
	if v, ok := n.config[key].(string); ok {
		return v
	}
	return ""
}

// GetConfigStringWithDefault returns a config value as string with default.
func (n *BaseNode) GetConfigStringWithDefault(key, defaultVal string) string {
	if v, ok := n.config[key].(string); ok && v != "" {
		return v
	}
	return defaultVal
}

// HasConfig checks if a config key exists.
func (n *BaseNode) HasConfig(key string) bool {
	_, ok := n.config[key]
	return ok
}
