package runtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// EmbeddedNodeConfig represents the configuration for an embedded node.
type EmbeddedNodeConfig struct {
	// NodeId is the unique identifier for this node
	NodeId string `json:"nodeId"`
	// Label is the human-readable name for this node
	Label string `json:"label"`
	// PluginType identifies which processor handles this node
	PluginType string `json:"pluginType"`
	// ContinueOnFail turns per-item failures into error items
	ContinueOnFail bool `json:"continueOnFail,omitempty"`
	// NodeConfig contains the node-specific configuration
	NodeConfig NodeConfig `json:"nodeConfig"`
}

// NodeConfig contains the detailed configuration for a node.
type NodeConfig struct {
	// NodeId is the unique identifier (matches parent EmbeddedNodeConfig.NodeId)
	NodeId string `json:"node_id"`
	// WorkflowId is the ID of the workflow this node belongs to
	WorkflowId string `json:"workflow_id"`
	// NodeSchemaId is the ID of the schema defining this node's structure
	NodeSchemaId string `json:"node_schema_id"`
	// Config contains the node parameters as raw JSON
	Config json.RawMessage `json:"config"`
	// CreatedAt is the creation timestamp
	CreatedAt string `json:"created_at,omitempty"`
	// UpdatedAt is the last update timestamp
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Parameters decodes Config into a parameter map. Empty config yields an
// empty map.
func (c NodeConfig) Parameters() (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if len(c.Config) == 0 || string(c.Config) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(c.Config, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return params, nil
}

// Item is a unit of data flowing between nodes.
type Item struct {
	JSON       map[string]interface{} `json:"json"`
	Binary     map[string]*BinaryData `json:"binary,omitempty"`
	PairedItem *PairedItem            `json:"pairedItem,omitempty"`
}

// PairedItem links an output item to the input item it came from.
type PairedItem struct {
	Item int `json:"item"`
}

// NewItem creates an item with the given JSON payload.
func NewItem(data map[string]interface{}) Item {
	if data == nil {
		data = make(map[string]interface{})
	}
	return Item{JSON: data}
}

// ErrorItem creates the item emitted for a failed input when continue on
// fail is enabled.
func ErrorItem(message string, itemIndex int) Item {
	return Item{
		JSON:       map[string]interface{}{"error": message},
		PairedItem: &PairedItem{Item: itemIndex},
	}
}

// BinaryData describes a binary payload attached to an item. The payload is
// either inline (Data, base64) or stored by reference (ID).
type BinaryData struct {
	Data          string `json:"data,omitempty"`
	ID            string `json:"id,omitempty"`
	MimeType      string `json:"mimeType,omitempty"`
	FileName      string `json:"fileName,omitempty"`
	FileExtension string `json:"fileExtension,omitempty"`
	FileSize      int64  `json:"fileSize,omitempty"`
}

// NewBinaryData creates an inline binary payload.
func NewBinaryData(data []byte, fileName, mimeType string) *BinaryData {
	return &BinaryData{
		Data:          base64.StdEncoding.EncodeToString(data),
		MimeType:      mimeType,
		FileName:      fileName,
		FileExtension: strings.TrimPrefix(filepath.Ext(fileName), "."),
		FileSize:      int64(len(data)),
	}
}

// Inline reports whether the payload bytes are carried in the item.
func (b *BinaryData) Inline() bool {
	return b.Data != ""
}

// Decode returns the inline payload bytes.
func (b *BinaryData) Decode() ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(b.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 binary data: %w", err)
	}
	return out, nil
}
