package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/processors/uploadthing"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
)

func TestNewProcessorRegistry(t *testing.T) {
	factory := NewProcessorRegistry()
	assert.Equal(t, []string{uploadthing.PluginType}, factory.RegisteredTypes())

	node, err := factory.Create(runtime.EmbeddedNodeConfig{NodeId: "n1", PluginType: uploadthing.PluginType})
	require.NoError(t, err)
	assert.Equal(t, "n1", node.NodeId())

	_, ok := node.(runtime.Describer)
	assert.True(t, ok)
}
