package embedded_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/processors"
	utnode "github.com/wehubfusion/uploadthing-node/pkg/embedded/processors/uploadthing"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	sdkerrors "github.com/wehubfusion/uploadthing-node/pkg/errors"
	"github.com/wehubfusion/uploadthing-node/pkg/message"
	ut "github.com/wehubfusion/uploadthing-node/pkg/uploadthing"
)

type fakeUploader struct {
	mu     sync.Mutex
	tokens []string
	urls   []ut.URLInput
}

func (f *fakeUploader) UploadFiles(ctx context.Context, files []ut.File, opts ut.UploadOptions) ([]ut.UploadFileResult, error) {
	out := make([]ut.UploadFileResult, len(files))
	for i, file := range files {
		out[i] = ut.UploadFileResult{Data: &ut.UploadedFileData{Key: "key-" + file.Name, Name: file.Name, Size: int64(len(file.Data))}}
	}
	return out, nil
}

func (f *fakeUploader) UploadFilesFromURL(ctx context.Context, input ut.URLInput, opts ut.UploadOptions) ([]ut.UploadFileResult, error) {
	f.mu.Lock()
	f.urls = append(f.urls, input)
	f.mu.Unlock()
	var out []ut.UploadFileResult
	for _, src := range ut.Sources(input) {
		out = append(out, ut.UploadFileResult{Data: &ut.UploadedFileData{Key: "key", URL: src.URL}})
	}
	return out, nil
}

func (f *fakeUploader) factory() utnode.ClientFactory {
	return func(token string) (ut.Uploader, error) {
		f.mu.Lock()
		f.tokens = append(f.tokens, token)
		f.mu.Unlock()
		return f, nil
	}
}

type blobItems map[string][]byte

func (b blobItems) UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	b[blobPath] = data
	return blobPath, nil
}

func (b blobItems) DownloadResult(ctx context.Context, ref string) ([]byte, error) {
	data, ok := b[ref]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func uploadNode(t *testing.T, params map[string]interface{}) runtime.EmbeddedNodeConfig {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	return runtime.EmbeddedNodeConfig{
		NodeId:     "node-1",
		Label:      "Upload",
		PluginType: utnode.PluginType,
		NodeConfig: runtime.NodeConfig{NodeId: "node-1", Config: raw},
	}
}

func TestProcessorRunsNodeFromMessage(t *testing.T) {
	fake := &fakeUploader{}
	workerCreds := runtime.NewStaticCredentialStore(map[string]map[string]interface{}{
		utnode.CredentialName: {"token": "worker-token"},
	})
	p := embedded.NewProcessor(processors.NewProcessorRegistryWithClient(fake.factory()), embedded.ProcessorConfig{
		Credentials: workerCreds,
	})

	node := uploadNode(t, map[string]interface{}{"operation": "uploadFromUrl", "url": "https://a.example/x.png, https://b.example/y.png"})
	msg := message.NewMessage(node, []runtime.Item{runtime.NewItem(nil)})

	out, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "https://a.example/x.png", out[0].JSON["url"])
	assert.Equal(t, "https://b.example/y.png", out[1].JSON["url"])
	assert.Equal(t, []string{"worker-token"}, fake.tokens)

	metrics := p.Metrics()
	assert.Equal(t, int64(1), metrics.TotalRuns)
}

func TestProcessorPrefersMessageCredentials(t *testing.T) {
	fake := &fakeUploader{}
	p := embedded.NewProcessor(processors.NewProcessorRegistryWithClient(fake.factory()), embedded.ProcessorConfig{
		Credentials: runtime.NewStaticCredentialStore(map[string]map[string]interface{}{
			utnode.CredentialName: {"token": "worker-token"},
		}),
	})

	node := uploadNode(t, map[string]interface{}{"operation": "uploadFromUrl", "url": "https://a.example/x.png"})
	msg := message.NewMessage(node, []runtime.Item{runtime.NewItem(nil)}).
		WithCredentials(utnode.CredentialName, map[string]interface{}{"token": "request-token"})

	_, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []string{"request-token"}, fake.tokens)
}

func TestProcessorLoadsItemsByReference(t *testing.T) {
	fake := &fakeUploader{}
	blobs := blobItems{}
	items := []runtime.Item{
		{JSON: map[string]interface{}{}, Binary: map[string]*runtime.BinaryData{"data": runtime.NewBinaryData([]byte("hello"), "hello.txt", "text/plain")}},
	}
	raw, err := json.Marshal(items)
	require.NoError(t, err)
	blobs["items/exec-1.json"] = raw

	p := embedded.NewProcessor(processors.NewProcessorRegistryWithClient(fake.factory()), embedded.ProcessorConfig{
		Blobs: blobs,
		Credentials: runtime.NewStaticCredentialStore(map[string]map[string]interface{}{
			utnode.CredentialName: {"token": "worker-token"},
		}),
	})

	msg := message.NewMessage(uploadNode(t, map[string]interface{}{"operation": "uploadBinary"}), nil).
		WithItemsRef(&message.BlobReference{URL: "items/exec-1.json"})

	out, err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "key-hello.txt", out[0].JSON["key"])
	assert.EqualValues(t, 5, out[0].JSON["size"])

	missing := message.NewMessage(uploadNode(t, map[string]interface{}{"operation": "uploadBinary"}), nil).
		WithItemsRef(&message.BlobReference{URL: "items/missing.json"})
	_, err = p.Process(context.Background(), missing)
	require.Error(t, err)
	assert.True(t, sdkerrors.IsRetryable(err))
}

func TestProcessorItemsByReferenceWithoutBlobStorage(t *testing.T) {
	p := embedded.NewProcessor(processors.NewProcessorRegistryWithClient((&fakeUploader{}).factory()), embedded.ProcessorConfig{})

	msg := message.NewMessage(uploadNode(t, nil), nil).WithItemsRef(&message.BlobReference{URL: "items/x.json"})
	_, err := p.Process(context.Background(), msg)
	require.Error(t, err)
	assert.False(t, sdkerrors.IsRetryable(err))
}

func TestProcessorUnknownPluginType(t *testing.T) {
	p := embedded.NewProcessor(processors.NewProcessorRegistryWithClient((&fakeUploader{}).factory()), embedded.ProcessorConfig{})

	node := uploadNode(t, nil)
	node.PluginType = "plugin-unknown"
	_, err := p.Process(context.Background(), message.NewMessage(node, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, runtime.ErrNoExecutor)
}

func TestProcessorRejectsInvalidParameters(t *testing.T) {
	p := embedded.NewProcessor(processors.NewProcessorRegistryWithClient((&fakeUploader{}).factory()), embedded.ProcessorConfig{})

	node := uploadNode(t, map[string]interface{}{"operation": "uploadBinary", "concurrency": 40})
	_, err := p.Process(context.Background(), message.NewMessage(node, []runtime.Item{runtime.NewItem(nil)}))
	require.Error(t, err)
	assert.ErrorIs(t, err, runtime.ErrInvalidConfig)
}

func TestProcessorMissingCredentials(t *testing.T) {
	p := embedded.NewProcessor(processors.NewProcessorRegistryWithClient((&fakeUploader{}).factory()), embedded.ProcessorConfig{})

	node := uploadNode(t, map[string]interface{}{"operation": "uploadFromUrl", "url": "https://a.example/x.png"})
	_, err := p.Process(context.Background(), message.NewMessage(node, []runtime.Item{runtime.NewItem(nil)}))
	require.Error(t, err)
	assert.ErrorIs(t, err, runtime.ErrCredentialsNotFound)
}
