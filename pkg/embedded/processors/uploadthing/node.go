// Package uploadthing implements the UploadThing node: it uploads binary
// payloads of incoming items, or files fetched from URLs, to UploadThing and
// emits one item per uploaded file.
package uploadthing

import (
	"encoding/json"
	"fmt"

	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	"github.com/wehubfusion/uploadthing-node/pkg/schema"
	ut "github.com/wehubfusion/uploadthing-node/pkg/uploadthing"
	"go.uber.org/zap"
)

// ClientFactory builds an uploader from an API token.
type ClientFactory func(token string) (ut.Uploader, error)

// DefaultClientFactory returns a factory building real API clients.
func DefaultClientFactory(cfg ut.Config) ClientFactory {
	return func(token string) (ut.Uploader, error) {
		return ut.NewClient(token, cfg)
	}
}

// Node is the UploadThing embedded node.
type Node struct {
	runtime.BaseNode
	newClient ClientFactory
}

var (
	_ runtime.EmbeddedNode = (*Node)(nil)
	_ runtime.Describer    = (*Node)(nil)
)

// NewNode creates a node that talks to the production API.
func NewNode(config runtime.EmbeddedNodeConfig) (runtime.EmbeddedNode, error) {
	return NewCreator(DefaultClientFactory(ut.DefaultConfig()))(config)
}

// NewCreator returns a node creator using factory to build clients.
func NewCreator(factory ClientFactory) runtime.NodeCreator {
	return func(config runtime.EmbeddedNodeConfig) (runtime.EmbeddedNode, error) {
		if factory == nil {
			return nil, fmt.Errorf("%w: client factory is required", runtime.ErrInvalidConfig)
		}
		return &Node{
			BaseNode:  runtime.NewBaseNode(config),
			newClient: factory,
		}, nil
	}
}

// Description returns the node description.
func (n *Node) Description() *schema.NodeDescription {
	return Description()
}

// Execute uploads every input item in order. One client is built per run.
// A failing item either becomes an error item (continue on fail) or aborts
// the run, leaving later items unprocessed. A client that cannot be built
// fails each item rather than the run.
func (n *Node) Execute(fns runtime.ExecuteFunctions) ([]runtime.Item, error) {
	items := fns.InputData()
	logger := fns.Logger()

	operation, err := runtime.StringParameter(fns, ParamOperation, 0, OperationUploadBinary)
	if err != nil && len(items) > 0 {
		return nil, err
	}

	token, err := n.token(fns)
	if err != nil {
		return nil, err
	}
	client, clientErr := n.newClient(token)
	if clientErr != nil {
		clientErr = fmt.Errorf("failed to create UploadThing client: %w", clientErr)
	}

	out := make([]runtime.Item, 0, len(items))
	for i := range items {
		if err := fns.Context().Err(); err != nil {
			return nil, err
		}

		produced, err := n.processItem(fns, client, clientErr, operation, i)
		if err != nil {
			if fns.ContinueOnFail() {
				logger.Warn("item failed", zap.Int("item_index", i), zap.Error(err))
				out = append(out, runtime.ErrorItem(runtime.ErrorMessage(err), i))
				continue
			}
			return nil, err
		}
		out = append(out, produced...)
	}
	return out, nil
}

// token resolves the API token. A missing credential fails the whole run.
func (n *Node) token(fns runtime.ExecuteFunctions) (string, error) {
	creds, err := fns.Credentials(CredentialName)
	if err != nil {
		return "", err
	}
	if v, ok := creds["token"]; ok && v != nil {
		return fmt.Sprint(v), nil
	}
	return "", nil
}

func (n *Node) processItem(fns runtime.ExecuteFunctions, client ut.Uploader, clientErr error, operation string, itemIndex int) ([]runtime.Item, error) {
	if clientErr != nil {
		return nil, clientErr
	}
	results, err := n.executeItem(fns, client, operation, itemIndex)
	if err != nil {
		return nil, err
	}
	produced := make([]runtime.Item, 0, len(results))
	for _, r := range results {
		item, err := normalizeResult(r, itemIndex)
		if err != nil {
			return nil, err
		}
		produced = append(produced, item)
	}
	return produced, nil
}

func (n *Node) executeItem(fns runtime.ExecuteFunctions, client ut.Uploader, operation string, itemIndex int) ([]ut.UploadFileResult, error) {
	switch operation {
	case OperationUploadBinary:
		file, err := binaryFile(fns, itemIndex)
		if err != nil {
			return nil, err
		}
		opts, err := uploadOptions(fns, itemIndex)
		if err != nil {
			return nil, err
		}
		return client.UploadFiles(fns.Context(), []ut.File{file}, opts)

	case OperationUploadFromURL:
		input, err := urlInput(fns, itemIndex)
		if err != nil {
			return nil, err
		}
		opts, err := uploadOptions(fns, itemIndex)
		if err != nil {
			return nil, err
		}
		return client.UploadFilesFromURL(fns.Context(), input, opts)

	default:
		return nil, runtime.NewNodeOperationError(fns.Node(), itemIndex,
			fmt.Sprintf("The operation %q is not supported", operation), runtime.ErrInvalidConfig)
	}
}

// normalizeResult turns an SDK result into an output item: the uploaded file
// data when present, else the raw result.
func normalizeResult(r ut.UploadFileResult, itemIndex int) (runtime.Item, error) {
	var payload interface{} = r
	if r.Data != nil {
		payload = r.Data
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return runtime.Item{}, fmt.Errorf("failed to encode upload result: %w", err)
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return runtime.Item{}, fmt.Errorf("failed to decode upload result: %w", err)
	}
	return runtime.Item{
		JSON:       data,
		PairedItem: &runtime.PairedItem{Item: itemIndex},
	}, nil
}
