package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	rterrors "github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime/errors"
	sdkerrors "github.com/wehubfusion/uploadthing-node/pkg/errors"
	"go.uber.org/zap"
)

const (
	maxInlineResultSize = 1.5 * 1024 * 1024 // 1.5MB - threshold for inline vs blob storage

	defaultFetchWait = 3 * time.Second
)

// BlobStorageClient stores large results and loads offloaded items.
type BlobStorageClient interface {
	UploadResult(ctx context.Context, blobPath string, data []byte, metadata map[string]string) (string, error)
	DownloadResult(ctx context.Context, blobURL string) ([]byte, error)
}

// MessageService publishes execution requests, pulls them for workers and
// reports execution results over JetStream.
type MessageService struct {
	js                JSContext
	logger            *zap.Logger
	maxDeliver        int
	publishMaxRetries int
	retryDelay        time.Duration
	resultStream      string
	resultSubject     string
	blobStorage       BlobStorageClient
}

// NewMessageService creates a message service over js. Zero values select
// the defaults: 5 deliveries, 3 publish attempts, stream RESULTS and subject
// result.
func NewMessageService(js JSContext, maxDeliver int, publishMaxRetries int, resultStream string, resultSubject string) (*MessageService, error) {
	if js == nil {
		return nil, fmt.Errorf("JetStream context cannot be nil")
	}
	if maxDeliver == 0 {
		maxDeliver = 5
	}
	if publishMaxRetries <= 0 {
		publishMaxRetries = 3
	}
	if resultStream == "" {
		resultStream = "RESULTS"
	}
	if resultSubject == "" {
		resultSubject = "result"
	}

	logger, _ := zap.NewProduction()
	return &MessageService{
		js:                js,
		logger:            logger,
		maxDeliver:        maxDeliver,
		publishMaxRetries: publishMaxRetries,
		retryDelay:        time.Second,
		resultStream:      resultStream,
		resultSubject:     resultSubject,
	}, nil
}

// SetLogger sets a custom zap logger for the message service
func (s *MessageService) SetLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetBlobStorage sets the blob storage used for large results and items.
func (s *MessageService) SetBlobStorage(bs BlobStorageClient) {
	s.blobStorage = bs
}

// BlobStorage returns the configured blob storage, nil when unset.
func (s *MessageService) BlobStorage() BlobStorageClient {
	return s.blobStorage
}

// ResultStream returns the stream results are published to.
func (s *MessageService) ResultStream() string {
	return s.resultStream
}

// ResultSubject returns the subject results are published on.
func (s *MessageService) ResultSubject() string {
	return s.resultSubject
}

// EnsureStream creates the stream with subjects "<name>.>" when it does not
// exist.
func (s *MessageService) EnsureStream(streamName string) error {
	return s.ensureStream(streamName, streamName+".>")
}

func (s *MessageService) ensureStream(streamName, subjectPattern string) error {
	info, err := s.js.StreamInfo(streamName)
	if err == nil {
		s.logger.Debug("JetStream stream already exists",
			zap.String("stream", streamName),
			zap.Uint64("messages", info.State.Msgs))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for '%s': %w", streamName, err)
	}

	cfg := &nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPattern},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
		MaxMsgs:  100000,
		Replicas: 1,
	}
	if _, err := s.js.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", streamName, err)
	}
	s.logger.Info("Created JetStream stream",
		zap.String("stream", streamName),
		zap.String("subject_pattern", subjectPattern))
	return nil
}

// EnsureConsumer creates the durable pull consumer when it does not exist.
func (s *MessageService) EnsureConsumer(streamName, consumerName string) error {
	info, err := s.js.ConsumerInfo(streamName, consumerName)
	if err == nil {
		s.logger.Debug("JetStream consumer already exists",
			zap.String("stream", streamName),
			zap.String("consumer", consumerName),
			zap.Uint64("pending", info.NumPending))
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("failed to get consumer info for '%s' in stream '%s': %w", consumerName, streamName, err)
	}

	cfg := &nats.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		MaxAckPending: 1000,
		MaxDeliver:    s.maxDeliver,
	}
	if _, err := s.js.AddConsumer(streamName, cfg); err != nil {
		return fmt.Errorf("failed to create consumer '%s' in stream '%s': %w", consumerName, streamName, err)
	}
	s.logger.Info("Created JetStream consumer",
		zap.String("stream", streamName),
		zap.String("consumer", consumerName),
		zap.Int("max_deliver", s.maxDeliver))
	return nil
}

// ensureStreamForSubject makes sure a stream captures subject. The result
// subject maps to the configured result stream; any other subject maps to a
// stream named after its first token.
func (s *MessageService) ensureStreamForSubject(subject string) error {
	if subject == s.resultSubject {
		return s.ensureStream(s.resultStream, subject+".>")
	}
	streamName := subject
	if idx := strings.IndexByte(subject, '.'); idx > 0 {
		streamName = subject[:idx]
	}
	return s.ensureStream(streamName, streamName+".>")
}

// Publish sends an execution request to subject.
func (s *MessageService) Publish(ctx context.Context, subject string, msg *Message) error {
	if subject == "" {
		return sdkerrors.NewValidationError("subject cannot be empty", "INVALID_SUBJECT", sdkerrors.ErrInvalidSubject)
	}
	if msg == nil {
		return sdkerrors.NewValidationError("message cannot be nil", "INVALID_MESSAGE", sdkerrors.ErrInvalidMessage)
	}
	if err := msg.Validate(); err != nil {
		return sdkerrors.NewValidationError("invalid message", "INVALID_MESSAGE", err)
	}

	if err := s.ensureStreamForSubject(subject); err != nil {
		return sdkerrors.NewInternalError("failed to ensure stream exists", "STREAM_ENSURE_FAILED", err)
	}

	data, err := msg.ToBytes()
	if err != nil {
		return sdkerrors.NewInternalError("failed to marshal message", "MARSHAL_FAILED", err)
	}

	resultCh := make(chan error, 1)
	go func() {
		_, err := s.js.Publish(subject, data)
		resultCh <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	case err := <-resultCh:
		if err != nil {
			s.logger.Error("Failed to publish message",
				zap.String("subject", subject),
				zap.String("execution_id", msg.ExecutionID),
				zap.Error(err))
			return sdkerrors.NewInternalError("failed to publish message to JetStream", "PUBLISH_FAILED", errors.Join(sdkerrors.ErrPublishFailed, err))
		}
		s.logger.Debug("Message published",
			zap.String("subject", subject),
			zap.String("execution_id", msg.ExecutionID))
		return nil
	}
}

// PullMessages fetches up to batchSize execution requests from a durable
// pull consumer. Messages are not acknowledged; the caller reports each one
// through ReportSuccess or ReportError. Malformed messages are reported as
// permanent failures and terminated. An empty slice means nothing arrived
// before the fetch wait elapsed.
func (s *MessageService) PullMessages(ctx context.Context, stream, consumer string, batchSize int) ([]*Message, error) {
	if stream == "" || consumer == "" {
		return nil, fmt.Errorf("stream and consumer names are required")
	}
	if batchSize <= 0 {
		batchSize = 10
	}

	type result struct {
		msgs []*nats.Msg
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		sub, err := s.js.PullSubscribe("", consumer, nats.Bind(stream, consumer))
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		defer sub.Unsubscribe()

		wait := defaultFetchWait
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < wait {
				wait = remaining
			}
		}

		msgs, err := sub.Fetch(batchSize, nats.MaxWait(wait))
		if errors.Is(err, nats.ErrTimeout) {
			resultCh <- result{}
			return
		}
		resultCh <- result{msgs: msgs, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("pull cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			s.logger.Error("Failed to pull messages",
				zap.String("stream", stream),
				zap.String("consumer", consumer),
				zap.Error(res.err))
			return nil, sdkerrors.NewInternalError("failed to pull messages from JetStream", "PULL_FAILED", res.err)
		}

		messages := make([]*Message, 0, len(res.msgs))
		for _, natsMsg := range res.msgs {
			msg, err := FromNATSMsg(natsMsg)
			if err == nil {
				err = msg.Validate()
			}
			if err != nil {
				s.rejectMalformed(ctx, natsMsg, err)
				continue
			}
			messages = append(messages, msg)
		}
		return messages, nil
	}
}

// rejectMalformed reports a message that cannot be decoded and stops its
// redelivery.
func (s *MessageService) rejectMalformed(ctx context.Context, natsMsg *nats.Msg, cause error) {
	ids := PeekIdentifiers(natsMsg.Data)
	s.logger.Warn("Rejecting malformed message",
		zap.String("execution_id", ids.ExecutionID),
		zap.String("subject", natsMsg.Subject),
		zap.Error(cause))

	if ids.ExecutionID != "" {
		result := NewResultMessage(ids.ExecutionID, ids.WorkflowID, ids.RunID, ids.NodeID, StatusFailed)
		result.CorrelationID = ids.CorrelationID
		result.WithError(&ResultError{
			Code:    "INVALID_MESSAGE",
			Message: cause.Error(),
			Type:    sdkerrors.BadRequest.String(),
		})
		if err := s.PublishResult(ctx, result); err != nil {
			s.logger.Error("Failed to report malformed message", zap.Error(err))
		}
	}
	if natsMsg.Reply != "" {
		_ = natsMsg.Term()
	}
}

// PublishResult publishes a result on the result subject, retrying with a
// linear backoff.
func (s *MessageService) PublishResult(ctx context.Context, result *ResultMessage) error {
	if result == nil {
		return sdkerrors.NewValidationError("result message cannot be nil", "INVALID_MESSAGE", sdkerrors.ErrInvalidMessage)
	}
	if err := s.ensureStreamForSubject(s.resultSubject); err != nil {
		return sdkerrors.NewInternalError("failed to ensure result stream exists", "STREAM_ENSURE_FAILED", err)
	}

	data, err := result.ToBytes()
	if err != nil {
		return sdkerrors.NewInternalError("failed to marshal result message", "MARSHAL_FAILED", err)
	}

	var publishErr error
	for attempt := 1; attempt <= s.publishMaxRetries; attempt++ {
		if _, publishErr = s.js.Publish(s.resultSubject, data); publishErr == nil {
			break
		}
		if attempt == s.publishMaxRetries {
			break
		}
		s.logger.Warn("Failed to publish result, retrying",
			zap.String("execution_id", result.ExecutionID),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", s.publishMaxRetries),
			zap.Error(publishErr))
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish result cancelled: %w", ctx.Err())
		case <-time.After(time.Duration(attempt) * s.retryDelay):
		}
	}
	if publishErr != nil {
		s.logger.Error("Failed to publish result after all retries",
			zap.String("execution_id", result.ExecutionID),
			zap.String("node_id", result.NodeID),
			zap.Int("attempts", s.publishMaxRetries),
			zap.Error(publishErr))
		return sdkerrors.NewInternalError("failed to publish result after retries", "PUBLISH_FAILED", errors.Join(sdkerrors.ErrPublishFailed, publishErr))
	}

	s.logger.Debug("Published result",
		zap.String("execution_id", result.ExecutionID),
		zap.String("status", result.Status),
		zap.String("subject", s.resultSubject))
	return nil
}

// ReportSuccess publishes the output items of msg's execution and acks msg.
// Output up to 1.5MB travels inline; larger output is stored in blob storage
// and referenced. If the result cannot be delivered msg is nak'ed.
func (s *MessageService) ReportSuccess(ctx context.Context, msg *Message, items []runtime.Item, elapsed time.Duration) error {
	if msg == nil {
		return sdkerrors.NewValidationError("message cannot be nil", "INVALID_MESSAGE", sdkerrors.ErrInvalidMessage)
	}
	if items == nil {
		items = []runtime.Item{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		_ = msg.Nak()
		return sdkerrors.NewInternalError("failed to marshal output items", "MARSHAL_FAILED", err)
	}

	result := resultFor(msg, StatusSuccess).WithExecutionTime(elapsed.Milliseconds())
	result.OutputItems = len(items)
	result.ErrorItems = countErrorItems(items)

	if len(data) <= maxInlineResultSize {
		result.WithInlineResult(data)
	} else {
		ref, err := s.offloadResult(ctx, msg, data)
		if err != nil {
			_ = msg.Nak()
			return err
		}
		result.WithBlobReference(ref)
	}

	if err := s.PublishResult(ctx, result); err != nil {
		_ = msg.Nak()
		return fmt.Errorf("failed to publish result: %w", err)
	}

	s.logger.Info("Reported execution success",
		zap.String("execution_id", msg.ExecutionID),
		zap.String("node_id", msg.Node.NodeId),
		zap.Int("output_items", result.OutputItems),
		zap.Int("result_size", result.ResultSize),
		zap.Bool("used_blob_reference", result.HasBlobReference()))

	if err := msg.Ack(); err != nil {
		return fmt.Errorf("failed to acknowledge: %w", err)
	}
	return nil
}

func (s *MessageService) offloadResult(ctx context.Context, msg *Message, data []byte) (*BlobReference, error) {
	if s.blobStorage == nil {
		return nil, sdkerrors.NewInternalError(
			fmt.Sprintf("blob storage not configured but result size %d exceeds inline limit", len(data)),
			"BLOB_STORAGE_UNAVAILABLE", nil)
	}

	workflowID, runID := msg.WorkflowIDs()
	blobPath := ResultBlobPath(workflowID, runID, msg.ExecutionID)
	url, err := s.blobStorage.UploadResult(ctx, blobPath, data, map[string]string{
		"workflow_id":  workflowID,
		"run_id":       runID,
		"execution_id": msg.ExecutionID,
		"node_id":      msg.Node.NodeId,
	})
	if err != nil {
		s.logger.Error("Failed to upload result to blob storage",
			zap.String("execution_id", msg.ExecutionID),
			zap.Int("size_bytes", len(data)),
			zap.Error(err))
		return nil, sdkerrors.NewInternalError("blob upload failed", "BLOB_UPLOAD_FAILED", err)
	}
	return &BlobReference{URL: url, SizeBytes: len(data)}, nil
}

// ResultBlobPath is the blob path of an offloaded execution result.
func ResultBlobPath(workflowID, runID, executionID string) string {
	if workflowID == "" {
		workflowID = "adhoc"
	}
	if runID == "" {
		runID = "adhoc"
	}
	return fmt.Sprintf("results/%s/%s/%s.json", workflowID, runID, executionID)
}

// ReportError publishes a failed result for msg. Retryable failures are
// nak'ed so JetStream redelivers them; permanent failures are acked.
func (s *MessageService) ReportError(ctx context.Context, msg *Message, cause error) error {
	if msg == nil {
		return sdkerrors.NewValidationError("message cannot be nil", "INVALID_MESSAGE", sdkerrors.ErrInvalidMessage)
	}
	if cause == nil {
		cause = errors.New("unknown error")
	}

	failure := ClassifyFailure(cause)
	result := resultFor(msg, StatusFailed).WithError(failure)

	if err := s.PublishResult(ctx, result); err != nil {
		_ = msg.Nak()
		return fmt.Errorf("failed to publish error result: %w", err)
	}

	s.logger.Info("Reported execution failure",
		zap.String("execution_id", msg.ExecutionID),
		zap.String("node_id", msg.Node.NodeId),
		zap.String("error_code", failure.Code),
		zap.Bool("retryable", failure.Retryable))

	if failure.Retryable {
		return msg.Nak()
	}
	return msg.Ack()
}

// ClassifyFailure converts an execution error into its reported form.
// AppErrors keep their own code and type; other errors are categorized by
// cause.
func ClassifyFailure(err error) *ResultError {
	out := &ResultError{
		Code:      rterrors.CategorizeError(err),
		Message:   err.Error(),
		Retryable: rterrors.IsRetryable(err),
		Details:   rterrors.ExtractErrorDetails(err),
	}

	var appErr *sdkerrors.AppError
	if errors.As(err, &appErr) {
		out.Code, out.Type = sdkerrors.Classify(err)
		out.Retryable = sdkerrors.IsRetryable(err)
	} else if out.Retryable {
		out.Type = sdkerrors.Internal.String()
	} else {
		out.Type = sdkerrors.BadRequest.String()
	}
	if len(out.Details) == 0 {
		out.Details = nil
	}
	return out
}

func countErrorItems(items []runtime.Item) int {
	n := 0
	for _, item := range items {
		if _, ok := item.JSON["error"]; ok && len(item.JSON) == 1 {
			n++
		}
	}
	return n
}
