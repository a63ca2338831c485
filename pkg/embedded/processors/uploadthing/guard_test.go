package uploadthing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/uploadthing-node/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/uploadthing-node/pkg/errors"
	ut "github.com/wehubfusion/uploadthing-node/pkg/uploadthing"
)

func guarded(t *testing.T, m *mockUploader, threshold int64) (ut.Uploader, *concurrency.Limiter) {
	t.Helper()
	limiter := concurrency.NewLimiter(2, concurrency.NewCircuitBreaker("uploadthing", threshold, time.Hour, nil))
	factory := Guard(func(token string) (ut.Uploader, error) { return m, nil }, limiter)
	u, err := factory("tok")
	require.NoError(t, err)
	return u, limiter
}

func TestGuardPassesResultsThrough(t *testing.T) {
	m := &mockUploader{}
	u, limiter := guarded(t, m, 2)

	res, err := u.UploadFilesFromURL(context.Background(), ut.URLString("https://a.example/x.png"), ut.UploadOptions{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "k-https://a.example/x.png", res[0].Data.Key)
	assert.Equal(t, int64(1), limiter.Metrics().TotalAcquired)
}

func TestGuardOpensOnServerErrors(t *testing.T) {
	m := &mockUploader{results: []ut.UploadFileResult{{Error: &ut.Error{Code: ut.CodeInternal, Status: 503, Message: "down"}}}}
	u, limiter := guarded(t, m, 2)
	file := []ut.File{{Name: "a.txt", Data: []byte("a")}}

	for i := 0; i < 2; i++ {
		res, err := u.UploadFiles(context.Background(), file, ut.UploadOptions{})
		require.NoError(t, err)
		require.NotNil(t, res[0].Error)
	}
	assert.Equal(t, concurrency.StateOpen, limiter.BreakerState())

	_, err := u.UploadFiles(context.Background(), file, ut.UploadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, concurrency.ErrCircuitOpen)
	assert.True(t, sdkerrors.IsRetryable(err))
	assert.Equal(t, 2, m.calls)
}

func TestGuardIgnoresClientErrors(t *testing.T) {
	m := &mockUploader{
		results: []ut.UploadFileResult{{Error: &ut.Error{Code: ut.CodeTooLarge, Status: 413, Message: "too large"}}},
		failOn:  map[int]error{3: context.Canceled},
	}
	u, limiter := guarded(t, m, 1)
	file := []ut.File{{Name: "a.txt", Data: []byte("a")}}

	for i := 0; i < 3; i++ {
		_, _ = u.UploadFiles(context.Background(), file, ut.UploadOptions{})
	}
	assert.Equal(t, concurrency.StateClosed, limiter.BreakerState())
}

func TestGuardWithoutLimiter(t *testing.T) {
	m := &mockUploader{}
	factory := Guard(func(token string) (ut.Uploader, error) { return m, nil }, nil)
	u, err := factory("tok")
	require.NoError(t, err)
	assert.Same(t, m, u)

	failing := Guard(func(token string) (ut.Uploader, error) { return nil, errors.New("bad token") },
		concurrency.NewLimiter(1, nil))
	_, err = failing("tok")
	assert.Error(t, err)
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	assert.False(t, unavailable(ctx, nil, nil))
	assert.True(t, unavailable(ctx, nil, errors.New("dial tcp: connection refused")))
	assert.False(t, unavailable(ctx, nil, context.DeadlineExceeded))
	assert.True(t, unavailable(ctx, []ut.UploadFileResult{{Error: &ut.Error{Status: 502}}}, nil))
	assert.False(t, unavailable(ctx, []ut.UploadFileResult{{Error: &ut.Error{Code: ut.CodeBadRequest, Status: 400}}}, nil))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, unavailable(cancelled, nil, errors.New("boom")))
}
