package uploadthing

import (
	"context"
	"errors"
	"net/http"

	"github.com/wehubfusion/uploadthing-node/pkg/concurrency"
	sdkerrors "github.com/wehubfusion/uploadthing-node/pkg/errors"
	ut "github.com/wehubfusion/uploadthing-node/pkg/uploadthing"
)

// errUnavailable marks a call the circuit breaker counts as a failure.
var errUnavailable = errors.New("uploadthing unavailable")

// Guard makes every uploader built by factory share limiter, so one worker
// process never has more than the limiter's slots in flight against the API
// and stops calling it while its circuit is open.
func Guard(factory ClientFactory, limiter *concurrency.Limiter) ClientFactory {
	if limiter == nil {
		return factory
	}
	return func(token string) (ut.Uploader, error) {
		next, err := factory(token)
		if err != nil {
			return nil, err
		}
		return &guardedUploader{next: next, limiter: limiter}, nil
	}
}

type guardedUploader struct {
	next    ut.Uploader
	limiter *concurrency.Limiter
}

func (g *guardedUploader) UploadFiles(ctx context.Context, files []ut.File, opts ut.UploadOptions) ([]ut.UploadFileResult, error) {
	return g.call(ctx, func() ([]ut.UploadFileResult, error) {
		return g.next.UploadFiles(ctx, files, opts)
	})
}

func (g *guardedUploader) UploadFilesFromURL(ctx context.Context, input ut.URLInput, opts ut.UploadOptions) ([]ut.UploadFileResult, error) {
	return g.call(ctx, func() ([]ut.UploadFileResult, error) {
		return g.next.UploadFilesFromURL(ctx, input, opts)
	})
}

func (g *guardedUploader) call(ctx context.Context, fn func() ([]ut.UploadFileResult, error)) ([]ut.UploadFileResult, error) {
	var (
		results []ut.UploadFileResult
		callErr error
		ran     bool
	)
	err := g.limiter.Do(ctx, func() error {
		ran = true
		results, callErr = fn()
		if unavailable(ctx, results, callErr) {
			return errUnavailable
		}
		return nil
	})
	if !ran {
		if errors.Is(err, concurrency.ErrCircuitOpen) {
			return nil, sdkerrors.NewInternalError("UploadThing is failing, calls are paused", "UPLOADTHING_UNAVAILABLE", err)
		}
		return nil, err
	}
	return results, callErr
}

// unavailable reports whether a call failed because of the service rather
// than its input. Cancellation never counts.
func unavailable(ctx context.Context, results []ut.UploadFileResult, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	for _, r := range results {
		if r.Error != nil && (r.Error.Status >= http.StatusInternalServerError || r.Error.Code == ut.CodeInternal) {
			return true
		}
	}
	return false
}
