package message

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	sdkerrors "github.com/wehubfusion/uploadthing-node/pkg/errors"
	"go.uber.org/zap"
)

type published struct {
	subject string
	data    []byte
}

type mockJS struct {
	mu         sync.Mutex
	published  []published
	failures   int // publish calls to fail before succeeding
	streams    map[string]*nats.StreamConfig
	consumers  map[string]*nats.ConsumerConfig
	fetched    []*nats.Msg
	fetchErr   error
	subscribed []string
}

func newMockJS() *mockJS {
	return &mockJS{
		streams:   make(map[string]*nats.StreamConfig),
		consumers: make(map[string]*nats.ConsumerConfig),
	}
}

func (m *mockJS) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("nats: publish failed")
	}
	m.published = append(m.published, published{subject: subj, data: data})
	return &nats.PubAck{Stream: "RESULTS"}, nil
}

func (m *mockJS) PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, durable)
	return &mockSub{js: m}, nil
}

func (m *mockJS) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.streams[stream]
	if !ok {
		return nil, nats.ErrStreamNotFound
	}
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (m *mockJS) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[cfg.Name] = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (m *mockJS) ConsumerInfo(stream, consumer string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.consumers[stream+"/"+consumer]; !ok {
		return nil, nats.ErrConsumerNotFound
	}
	return &nats.ConsumerInfo{Stream: stream, Name: consumer}, nil
}

func (m *mockJS) AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[stream+"/"+cfg.Durable] = cfg
	return &nats.ConsumerInfo{Stream: stream, Name: cfg.Durable}, nil
}

func (m *mockJS) results(t *testing.T) []*ResultMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ResultMessage
	for _, p := range m.published {
		if p.subject != "result" {
			continue
		}
		r, err := ResultMessageFromBytes(p.data)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

type mockSub struct {
	js *mockJS
}

func (s *mockSub) Unsubscribe() error { return nil }

func (s *mockSub) Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error) {
	s.js.mu.Lock()
	defer s.js.mu.Unlock()
	if s.js.fetchErr != nil {
		return nil, s.js.fetchErr
	}
	if len(s.js.fetched) == 0 {
		return nil, nats.ErrTimeout
	}
	n := min(batch, len(s.js.fetched))
	out := s.js.fetched[:n]
	s.js.fetched = s.js.fetched[n:]
	return out, nil
}

type memoryBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
	err   error
}

func (b *memoryBlobs) UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.blobs == nil {
		b.blobs = make(map[string][]byte)
	}
	b.blobs[blobPath] = data
	return "https://blobs.example.com/results/" + blobPath, nil
}

func (b *memoryBlobs) DownloadResult(ctx context.Context, blobURL string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[blobURL]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func newTestService(t *testing.T, js *mockJS) *MessageService {
	t.Helper()
	svc, err := NewMessageService(js, 0, 0, "", "")
	require.NoError(t, err)
	svc.SetLogger(zap.NewNop())
	svc.retryDelay = time.Millisecond
	return svc
}

func testMessage() *Message {
	node := runtime.EmbeddedNodeConfig{NodeId: "node-1", PluginType: "plugin-uploadthing", Label: "Upload"}
	items := []runtime.Item{runtime.NewItem(map[string]interface{}{"a": 1})}
	return NewMessage(node, items).
		WithExecutionID("exec-1").
		WithWorkflow("wf-1", "run-1").
		WithCorrelationID("corr-1")
}

func TestNewMessageServiceDefaults(t *testing.T) {
	_, err := NewMessageService(nil, 0, 0, "", "")
	require.Error(t, err)

	svc, err := NewMessageService(newMockJS(), 0, 0, "", "")
	require.NoError(t, err)
	assert.Equal(t, 5, svc.maxDeliver)
	assert.Equal(t, 3, svc.publishMaxRetries)
	assert.Equal(t, "RESULTS", svc.resultStream)
	assert.Equal(t, "result", svc.resultSubject)
}

func TestEnsureStreamAndConsumer(t *testing.T) {
	js := newMockJS()
	svc := newTestService(t, js)

	require.NoError(t, svc.EnsureStream("UPLOADS"))
	require.NoError(t, svc.EnsureStream("UPLOADS"))
	require.Contains(t, js.streams, "UPLOADS")
	assert.Equal(t, []string{"UPLOADS.>"}, js.streams["UPLOADS"].Subjects)

	require.NoError(t, svc.EnsureConsumer("UPLOADS", "workers"))
	cfg := js.consumers["UPLOADS/workers"]
	require.NotNil(t, cfg)
	assert.Equal(t, nats.AckExplicitPolicy, cfg.AckPolicy)
	assert.Equal(t, 5, cfg.MaxDeliver)
}

func TestPublish(t *testing.T) {
	js := newMockJS()
	svc := newTestService(t, js)
	msg := testMessage()

	require.NoError(t, svc.Publish(context.Background(), "UPLOADS.requests", msg))
	require.Len(t, js.published, 1)
	assert.Equal(t, "UPLOADS.requests", js.published[0].subject)
	assert.Contains(t, js.streams, "UPLOADS")

	decoded, err := FromBytes(js.published[0].data)
	require.NoError(t, err)
	assert.Equal(t, "exec-1", decoded.ExecutionID)
	assert.Equal(t, "node-1", decoded.Node.NodeId)
	require.Len(t, decoded.Items, 1)

	err = svc.Publish(context.Background(), "", msg)
	var appErr *sdkerrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, sdkerrors.ValidationFailed, appErr.Type)
	assert.ErrorIs(t, err, sdkerrors.ErrInvalidSubject)

	bad := testMessage()
	bad.Node.PluginType = ""
	assert.Error(t, svc.Publish(context.Background(), "UPLOADS.requests", bad))
}

func TestPullMessages(t *testing.T) {
	js := newMockJS()
	svc := newTestService(t, js)

	good, err := testMessage().ToBytes()
	require.NoError(t, err)
	js.fetched = []*nats.Msg{
		{Subject: "UPLOADS.requests", Data: good},
		{Subject: "UPLOADS.requests", Data: []byte(`{"executionId":"exec-bad","workflow":{"workflowId":"wf-1","runId":"run-1"},"node":{"nodeId":"n"},"items":"oops"}`)},
		{Subject: "UPLOADS.requests", Data: []byte(`{"executionId":"exec-incomplete","node":{"nodeId":"n"}}`)},
	}

	msgs, err := svc.PullMessages(context.Background(), "UPLOADS", "workers", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "exec-1", msgs[0].ExecutionID)
	assert.NotNil(t, msgs[0].GetNATSMsg())
	assert.Equal(t, []string{"workers"}, js.subscribed)

	results := js.results(t)
	require.Len(t, results, 2)
	assert.Equal(t, "exec-bad", results[0].ExecutionID)
	assert.Equal(t, "wf-1", results[0].WorkflowID)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Equal(t, "INVALID_MESSAGE", results[0].Error.Code)
	assert.False(t, results[0].Error.Retryable)
	assert.Equal(t, "exec-incomplete", results[1].ExecutionID)

	msgs, err = svc.PullMessages(context.Background(), "UPLOADS", "workers", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	js.fetchErr = errors.New("boom")
	_, err = svc.PullMessages(context.Background(), "UPLOADS", "workers", 10)
	assert.Error(t, err)

	_, err = svc.PullMessages(context.Background(), "", "workers", 10)
	assert.Error(t, err)
}

func TestPublishResultRetries(t *testing.T) {
	js := newMockJS()
	js.failures = 2
	svc := newTestService(t, js)

	require.NoError(t, svc.PublishResult(context.Background(), NewResultMessage("e", "w", "r", "n", StatusSuccess)))
	assert.Len(t, js.results(t), 1)
	assert.Contains(t, js.streams, "RESULTS")

	js.failures = 3
	err := svc.PublishResult(context.Background(), NewResultMessage("e", "w", "r", "n", StatusSuccess))
	require.Error(t, err)
	assert.ErrorIs(t, err, sdkerrors.ErrPublishFailed)
	assert.True(t, sdkerrors.IsRetryable(err))
}

func TestReportSuccessInline(t *testing.T) {
	js := newMockJS()
	svc := newTestService(t, js)
	msg := testMessage()

	items := []runtime.Item{
		runtime.NewItem(map[string]interface{}{"key": "abc", "url": "https://utfs.io/f/abc"}),
		runtime.ErrorItem("upload failed", 1),
	}
	require.NoError(t, svc.ReportSuccess(context.Background(), msg, items, 42*time.Millisecond))

	results := js.results(t)
	require.Len(t, results, 1)
	r := results[0]
	assert.True(t, r.IsSuccess())
	assert.Equal(t, "exec-1", r.ExecutionID)
	assert.Equal(t, "wf-1", r.WorkflowID)
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, "node-1", r.NodeID)
	assert.Equal(t, "corr-1", r.CorrelationID)
	assert.Equal(t, "plugin-uploadthing", r.PluginType)
	assert.Equal(t, 2, r.OutputItems)
	assert.Equal(t, 1, r.ErrorItems)
	assert.Equal(t, int64(42), r.ExecutionTimeMs)
	require.True(t, r.HasInlineResult())
	assert.False(t, r.HasBlobReference())

	var decoded []runtime.Item
	require.NoError(t, json.Unmarshal(r.InlineResult, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "abc", decoded[0].JSON["key"])
}

func TestReportSuccessOffloadsLargeResults(t *testing.T) {
	js := newMockJS()
	svc := newTestService(t, js)
	blobs := &memoryBlobs{}
	svc.SetBlobStorage(blobs)

	big := strings.Repeat("x", 2*1024*1024)
	items := []runtime.Item{runtime.NewItem(map[string]interface{}{"blob": big})}
	require.NoError(t, svc.ReportSuccess(context.Background(), testMessage(), items, time.Second))

	results := js.results(t)
	require.Len(t, results, 1)
	r := results[0]
	require.True(t, r.HasBlobReference())
	assert.False(t, r.HasInlineResult())
	assert.Equal(t, "https://blobs.example.com/results/results/wf-1/run-1/exec-1.json", r.BlobReference.URL)
	assert.Greater(t, r.BlobReference.SizeBytes, 2*1024*1024)
	assert.Contains(t, blobs.blobs, "results/wf-1/run-1/exec-1.json")
}

func TestReportSuccessWithoutBlobStorage(t *testing.T) {
	js := newMockJS()
	svc := newTestService(t, js)

	big := strings.Repeat("x", 2*1024*1024)
	items := []runtime.Item{runtime.NewItem(map[string]interface{}{"blob": big})}
	err := svc.ReportSuccess(context.Background(), testMessage(), items, time.Second)
	require.Error(t, err)
	assert.True(t, sdkerrors.IsRetryable(err))
	assert.Empty(t, js.results(t))
}

func TestReportError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		errType   string
		retryable bool
	}{
		{
			name:      "internal app error is retried",
			err:       sdkerrors.NewInternalError("blob upload failed", "BLOB_UPLOAD_FAILED", nil),
			code:      "BLOB_UPLOAD_FAILED",
			errType:   "internal",
			retryable: true,
		},
		{
			name:    "validation app error is permanent",
			err:     sdkerrors.NewValidationError("invalid message", "INVALID_MESSAGE", nil),
			code:    "INVALID_MESSAGE",
			errType: "validation_failed",
		},
		{
			name:    "invalid node config is permanent",
			err:     runtime.ErrInvalidConfig,
			code:    "CONFIGURATION_ERROR",
			errType: "bad_request",
		},
		{
			name:      "timeout is retried",
			err:       context.DeadlineExceeded,
			code:      "TIMEOUT_ERROR",
			errType:   "internal",
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js := newMockJS()
			svc := newTestService(t, js)

			require.NoError(t, svc.ReportError(context.Background(), testMessage(), tt.err))

			results := js.results(t)
			require.Len(t, results, 1)
			r := results[0]
			assert.Equal(t, StatusFailed, r.Status)
			require.NotNil(t, r.Error)
			assert.Equal(t, tt.code, r.Error.Code)
			assert.Equal(t, tt.errType, r.Error.Type)
			assert.Equal(t, tt.retryable, r.IsRetryable())
			assert.Equal(t, tt.err.Error(), r.Error.Message)
		})
	}
}

func TestReportErrorPublishFailure(t *testing.T) {
	js := newMockJS()
	js.failures = 10
	svc := newTestService(t, js)

	err := svc.ReportError(context.Background(), testMessage(), errors.New("boom"))
	assert.Error(t, err)
}

func TestPeekIdentifiers(t *testing.T) {
	ids := PeekIdentifiers([]byte(`{"executionId":"e","correlationId":"c","workflow":{"workflowId":"w","runId":"r"},"node":{"nodeId":"n"},"items":7}`))
	assert.Equal(t, Identifiers{ExecutionID: "e", CorrelationID: "c", WorkflowID: "w", RunID: "r", NodeID: "n"}, ids)

	assert.Equal(t, Identifiers{}, PeekIdentifiers([]byte("not json")))
}
