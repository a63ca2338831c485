package processors

import (
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/processors/uploadthing"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	ut "github.com/wehubfusion/uploadthing-node/pkg/uploadthing"
)

// NewProcessorRegistry creates and configures a new processor registry
// with all available processors registered.
func NewProcessorRegistry() runtime.EmbeddedNodeFactory {
	return NewProcessorRegistryWithClient(uploadthing.DefaultClientFactory(ut.DefaultConfig()))
}

// NewProcessorRegistryWithClient registers the processors with a custom
// UploadThing client factory.
func NewProcessorRegistryWithClient(clients uploadthing.ClientFactory) runtime.EmbeddedNodeFactory {
	factory := runtime.NewDefaultNodeFactory()

	factory.Register(uploadthing.PluginType, uploadthing.NewCreator(clients))

	return factory
}
