package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	"github.com/wehubfusion/uploadthing-node/pkg/message"
	"go.uber.org/zap"
)

type report struct {
	executionID string
	items       []runtime.Item
	err         error
}

type fakeMessages struct {
	mu       sync.Mutex
	queue    []*message.Message
	pullErrs int
	pulls    int
	reports  []report
	streams  []string
	done     chan struct{}
	expected int
}

func newFakeMessages(msgs ...*message.Message) *fakeMessages {
	return &fakeMessages{queue: msgs, done: make(chan struct{}), expected: len(msgs)}
}

func (f *fakeMessages) PullMessages(ctx context.Context, stream, consumer string, batchSize int) ([]*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if f.pullErrs > 0 {
		f.pullErrs--
		return nil, errors.New("nats: connection closed")
	}
	n := min(batchSize, len(f.queue))
	batch := f.queue[:n]
	f.queue = f.queue[n:]
	return batch, nil
}

func (f *fakeMessages) record(r report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	if len(f.reports) == f.expected {
		close(f.done)
	}
}

func (f *fakeMessages) ReportSuccess(ctx context.Context, msg *message.Message, items []runtime.Item, elapsed time.Duration) error {
	f.record(report{executionID: msg.ExecutionID, items: items})
	return nil
}

func (f *fakeMessages) ReportError(ctx context.Context, msg *message.Message, err error) error {
	f.record(report{executionID: msg.ExecutionID, err: err})
	return nil
}

func (f *fakeMessages) EnsureStream(stream string) error {
	f.streams = append(f.streams, stream)
	return nil
}

func (f *fakeMessages) EnsureConsumer(stream, consumer string) error {
	f.streams = append(f.streams, stream+"/"+consumer)
	return nil
}

func (f *fakeMessages) byExecution() map[string]report {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]report, len(f.reports))
	for _, r := range f.reports {
		out[r.executionID] = r
	}
	return out
}

type processorFunc func(ctx context.Context, msg *message.Message) ([]runtime.Item, error)

func (f processorFunc) Process(ctx context.Context, msg *message.Message) ([]runtime.Item, error) {
	return f(ctx, msg)
}

func echoProcessor() processorFunc {
	return func(ctx context.Context, msg *message.Message) ([]runtime.Item, error) {
		return []runtime.Item{runtime.NewItem(map[string]interface{}{"execution": msg.ExecutionID})}, nil
	}
}

func testMessage(id string) *message.Message {
	node := runtime.EmbeddedNodeConfig{NodeId: "node-1", PluginType: "plugin-uploadthing"}
	return message.NewMessage(node, []runtime.Item{runtime.NewItem(nil)}).WithExecutionID(id)
}

func testConfig() Config {
	cfg := DefaultConfig("EXECUTIONS", "uploadthing")
	cfg.Workers = 3
	cfg.BatchSize = 2
	cfg.ProcessTimeout = time.Second
	return cfg
}

// runUntilReported runs r until every queued message is reported.
func runUntilReported(t *testing.T, r *Runner, f *fakeMessages) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case <-f.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for results")
	}
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "no stream", modify: func(c *Config) { c.Stream = "" }, errMsg: "stream name"},
		{name: "no consumer", modify: func(c *Config) { c.Consumer = "" }, errMsg: "consumer name"},
		{name: "zero batch", modify: func(c *Config) { c.BatchSize = 0 }, errMsg: "batchSize"},
		{name: "zero workers", modify: func(c *Config) { c.Workers = 0 }, errMsg: "workers"},
		{name: "zero timeout", modify: func(c *Config) { c.ProcessTimeout = 0 }, errMsg: "processTimeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestNewRunner(t *testing.T) {
	f := newFakeMessages()

	_, err := NewRunner(nil, echoProcessor(), testConfig(), zap.NewNop())
	assert.Error(t, err)
	_, err = NewRunner(f, nil, testConfig(), zap.NewNop())
	assert.Error(t, err)
	_, err = NewRunner(f, echoProcessor(), testConfig(), nil)
	assert.Error(t, err)

	r, err := NewRunner(f, echoProcessor(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"EXECUTIONS", "EXECUTIONS/uploadthing"}, f.streams)
	assert.NoError(t, r.Close())
}

func TestRunnerReportsEveryMessage(t *testing.T) {
	msgs := make([]*message.Message, 7)
	for i := range msgs {
		msgs[i] = testMessage(string(rune('a' + i)))
	}
	f := newFakeMessages(msgs...)

	r, err := NewRunner(f, echoProcessor(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	runUntilReported(t, r, f)

	reports := f.byExecution()
	require.Len(t, reports, 7)
	for _, msg := range msgs {
		rep := reports[msg.ExecutionID]
		require.NoError(t, rep.err)
		require.Len(t, rep.items, 1)
		assert.Equal(t, msg.ExecutionID, rep.items[0].JSON["execution"])
	}
}

func TestRunnerReportsFailures(t *testing.T) {
	f := newFakeMessages(testMessage("ok"), testMessage("bad"), testMessage("panic"))

	var hooked []string
	var hookMu sync.Mutex
	cfg := testConfig()
	cfg.ErrorHook = func(ctx context.Context, msg *message.Message, err error) {
		hookMu.Lock()
		hooked = append(hooked, msg.ExecutionID)
		hookMu.Unlock()
	}

	processor := processorFunc(func(ctx context.Context, msg *message.Message) ([]runtime.Item, error) {
		switch msg.ExecutionID {
		case "bad":
			return nil, runtime.ErrInvalidConfig
		case "panic":
			panic("boom")
		}
		return nil, nil
	})

	r, err := NewRunner(f, processor, cfg, zap.NewNop())
	require.NoError(t, err)
	runUntilReported(t, r, f)

	reports := f.byExecution()
	assert.NoError(t, reports["ok"].err)
	assert.ErrorIs(t, reports["bad"].err, runtime.ErrInvalidConfig)
	require.Error(t, reports["panic"].err)
	assert.Contains(t, reports["panic"].err.Error(), "panic recovered")
	assert.ElementsMatch(t, []string{"bad", "panic"}, hooked)
}

func TestRunnerRejectsInvalidMessages(t *testing.T) {
	invalid := testMessage("no-plugin")
	invalid.Node.PluginType = ""
	f := newFakeMessages(invalid)

	called := false
	processor := processorFunc(func(ctx context.Context, msg *message.Message) ([]runtime.Item, error) {
		called = true
		return nil, nil
	})

	r, err := NewRunner(f, processor, testConfig(), zap.NewNop())
	require.NoError(t, err)
	runUntilReported(t, r, f)

	assert.False(t, called)
	assert.Error(t, f.byExecution()["no-plugin"].err)
}

func TestRunnerProcessTimeout(t *testing.T) {
	f := newFakeMessages(testMessage("slow"))
	cfg := testConfig()
	cfg.ProcessTimeout = 20 * time.Millisecond

	processor := processorFunc(func(ctx context.Context, msg *message.Message) ([]runtime.Item, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	r, err := NewRunner(f, processor, cfg, zap.NewNop())
	require.NoError(t, err)
	runUntilReported(t, r, f)

	assert.ErrorIs(t, f.byExecution()["slow"].err, context.DeadlineExceeded)
}

func TestRunnerRetriesPullErrors(t *testing.T) {
	f := newFakeMessages(testMessage("after-errors"))
	f.pullErrs = 2

	r, err := NewRunner(f, echoProcessor(), testConfig(), zap.NewNop())
	require.NoError(t, err)
	runUntilReported(t, r, f)

	assert.NoError(t, f.byExecution()["after-errors"].err)
	f.mu.Lock()
	assert.GreaterOrEqual(t, f.pulls, 3)
	f.mu.Unlock()
}

func TestRunnerMiddleware(t *testing.T) {
	f := newFakeMessages(testMessage("tagged"))
	cfg := testConfig()
	cfg.Middleware = []message.Middleware{
		func(next message.Handler) message.Handler {
			return func(ctx context.Context, msg *message.Message) error {
				msg.WithMetadata("seen", "true")
				return next(ctx, msg)
			}
		},
	}

	processor := processorFunc(func(ctx context.Context, msg *message.Message) ([]runtime.Item, error) {
		return []runtime.Item{runtime.NewItem(map[string]interface{}{"seen": msg.Metadata["seen"]})}, nil
	})

	r, err := NewRunner(f, processor, cfg, zap.NewNop())
	require.NoError(t, err)
	runUntilReported(t, r, f)

	assert.Equal(t, "true", f.byExecution()["tagged"].items[0].JSON["seen"])
}
