package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/tidwall/gjson"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
)

// Workflow identifies the workflow run a node execution belongs to.
type Workflow struct {
	WorkflowID string `json:"workflowId"`
	RunID      string `json:"runId"`
}

// BlobReference points at data offloaded to blob storage.
type BlobReference struct {
	URL       string `json:"url"`
	SizeBytes int    `json:"sizeBytes,omitempty"`
}

// Message is an execution request: run one node over a batch of items.
// Items are carried inline or, for large batches, by blob reference.
type Message struct {
	// CorrelationID tracks related messages across the system
	CorrelationID string `json:"correlationId,omitempty"`

	// ExecutionID uniquely identifies this execution
	ExecutionID string `json:"executionId"`

	Workflow *Workflow `json:"workflow,omitempty"`

	// Node is the node to run
	Node runtime.EmbeddedNodeConfig `json:"node"`

	Items    []runtime.Item `json:"items,omitempty"`
	ItemsRef *BlobReference `json:"itemsRef,omitempty"`

	// Credentials resolved by the sender, keyed by credential type name.
	// When absent the worker's own credential store is used.
	Credentials map[string]map[string]interface{} `json:"credentials,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`

	// natsMsg stores the underlying NATS message for acknowledgment
	natsMsg *nats.Msg `json:"-"`
}

// NewMessage creates an execution request for node over items with a fresh
// execution id.
func NewMessage(node runtime.EmbeddedNodeConfig, items []runtime.Item) *Message {
	now := time.Now().Format(time.RFC3339)
	return &Message{
		ExecutionID: uuid.NewString(),
		Node:        node,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (m *Message) touch() {
	m.UpdatedAt = time.Now().Format(time.RFC3339)
}

// WithWorkflow sets the workflow run.
func (m *Message) WithWorkflow(workflowID, runID string) *Message {
	m.Workflow = &Workflow{WorkflowID: workflowID, RunID: runID}
	m.touch()
	return m
}

// WithCorrelationID sets the correlation id.
func (m *Message) WithCorrelationID(correlationID string) *Message {
	m.CorrelationID = correlationID
	m.touch()
	return m
}

// WithExecutionID overrides the generated execution id.
func (m *Message) WithExecutionID(executionID string) *Message {
	m.ExecutionID = executionID
	m.touch()
	return m
}

// WithItemsRef replaces inline items with a blob reference.
func (m *Message) WithItemsRef(ref *BlobReference) *Message {
	m.ItemsRef = ref
	m.Items = nil
	m.touch()
	return m
}

// WithCredentials attaches credentials for credential type name.
func (m *Message) WithCredentials(name string, fields map[string]interface{}) *Message {
	if m.Credentials == nil {
		m.Credentials = make(map[string]map[string]interface{})
	}
	m.Credentials[name] = fields
	m.touch()
	return m
}

// WithMetadata sets a metadata key.
func (m *Message) WithMetadata(key, value string) *Message {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
	m.touch()
	return m
}

// WorkflowIDs returns the workflow and run ids, empty when unset.
func (m *Message) WorkflowIDs() (workflowID, runID string) {
	if m.Workflow == nil {
		return "", ""
	}
	return m.Workflow.WorkflowID, m.Workflow.RunID
}

// Validate checks the fields a worker needs before running the node.
func (m *Message) Validate() error {
	if m.ExecutionID == "" {
		return fmt.Errorf("message missing executionId")
	}
	if m.Node.NodeId == "" {
		return fmt.Errorf("message node missing nodeId")
	}
	if m.Node.PluginType == "" {
		return fmt.Errorf("node %s missing pluginType", m.Node.NodeId)
	}
	if m.ItemsRef != nil && m.ItemsRef.URL == "" {
		return fmt.Errorf("node %s has an empty items reference", m.Node.NodeId)
	}
	return nil
}

// ToBytes serializes the message to JSON.
func (m *Message) ToBytes() ([]byte, error) {
	return json.Marshal(m)
}

// FromBytes deserializes a message from JSON.
func FromBytes(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// FromNATSMsg decodes a NATS message and keeps it for acknowledgment.
func FromNATSMsg(natsMsg *nats.Msg) (*Message, error) {
	msg, err := FromBytes(natsMsg.Data)
	if err != nil {
		return nil, err
	}
	msg.natsMsg = natsMsg
	return msg, nil
}

// Identifiers holds the ids recoverable from a message body that failed to
// decode, so the failure can still be reported.
type Identifiers struct {
	ExecutionID   string
	CorrelationID string
	WorkflowID    string
	RunID         string
	NodeID        string
}

// PeekIdentifiers extracts ids from raw message JSON without decoding the
// whole message.
func PeekIdentifiers(data []byte) Identifiers {
	r := gjson.GetManyBytes(data, "executionId", "correlationId", "workflow.workflowId", "workflow.runId", "node.nodeId")
	return Identifiers{
		ExecutionID:   r[0].String(),
		CorrelationID: r[1].String(),
		WorkflowID:    r[2].String(),
		RunID:         r[3].String(),
		NodeID:        r[4].String(),
	}
}

// Ack acknowledges the message. No-op for messages not received from NATS.
func (m *Message) Ack() error {
	if m.natsMsg == nil || m.natsMsg.Reply == "" {
		return nil
	}
	return m.natsMsg.Ack()
}

// Nak negatively acknowledges the message so JetStream redelivers it.
func (m *Message) Nak() error {
	if m.natsMsg == nil || m.natsMsg.Reply == "" {
		return nil
	}
	return m.natsMsg.Nak()
}

// InProgress extends the ack deadline for long uploads.
func (m *Message) InProgress() error {
	if m.natsMsg == nil || m.natsMsg.Reply == "" {
		return nil
	}
	return m.natsMsg.InProgress()
}

// Term stops redelivery of the message.
func (m *Message) Term() error {
	if m.natsMsg == nil || m.natsMsg.Reply == "" {
		return nil
	}
	return m.natsMsg.Term()
}

// GetNATSMsg returns the underlying NATS message, nil when the message was
// built locally.
func (m *Message) GetNATSMsg() *nats.Msg {
	return m.natsMsg
}

// Result statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// ResultMessage reports the outcome of one execution on the result subject.
type ResultMessage struct {
	CorrelationID string `json:"correlation_id,omitempty"`

	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
	RunID       string `json:"run_id"`
	NodeID      string `json:"node_id"`

	Status string `json:"status"`

	// Output items, inline for small results (<1.5MB), otherwise in blob storage
	InlineResult  json.RawMessage `json:"inline_result,omitempty"`
	BlobReference *BlobReference  `json:"blob_reference,omitempty"`

	Error *ResultError `json:"error,omitempty"`

	PluginType      string `json:"plugin_type,omitempty"`
	OutputItems     int    `json:"output_items"`
	ErrorItems      int    `json:"error_items,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms,omitempty"`
	ResultSize      int    `json:"result_size,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ResultError describes a failed execution.
type ResultError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Type      string                 `json:"type,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewResultMessage creates a result message for an execution.
func NewResultMessage(executionID, workflowID, runID, nodeID, status string) *ResultMessage {
	return &ResultMessage{
		ExecutionID: executionID,
		WorkflowID:  workflowID,
		RunID:       runID,
		NodeID:      nodeID,
		Status:      status,
		Timestamp:   time.Now(),
	}
}

// resultFor builds the result skeleton for msg.
func resultFor(msg *Message, status string) *ResultMessage {
	workflowID, runID := msg.WorkflowIDs()
	r := NewResultMessage(msg.ExecutionID, workflowID, runID, msg.Node.NodeId, status)
	r.CorrelationID = msg.CorrelationID
	r.PluginType = msg.Node.PluginType
	return r
}

// WithInlineResult sets the inline output items.
func (r *ResultMessage) WithInlineResult(result json.RawMessage) *ResultMessage {
	r.InlineResult = result
	r.ResultSize = len(result)
	return r
}

// WithBlobReference sets the blob reference for large results.
func (r *ResultMessage) WithBlobReference(ref *BlobReference) *ResultMessage {
	r.BlobReference = ref
	if ref != nil {
		r.ResultSize = ref.SizeBytes
	}
	return r
}

// WithError marks the result failed.
func (r *ResultMessage) WithError(err *ResultError) *ResultMessage {
	r.Error = err
	r.Status = StatusFailed
	return r
}

// WithExecutionTime sets the execution time in milliseconds.
func (r *ResultMessage) WithExecutionTime(ms int64) *ResultMessage {
	r.ExecutionTimeMs = ms
	return r
}

// ToBytes serializes the result message to JSON.
func (r *ResultMessage) ToBytes() ([]byte, error) {
	return json.Marshal(r)
}

// ResultMessageFromBytes deserializes a result message from JSON.
func ResultMessageFromBytes(data []byte) (*ResultMessage, error) {
	var msg ResultMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// HasInlineResult reports whether output items are carried inline.
func (r *ResultMessage) HasInlineResult() bool {
	return len(r.InlineResult) > 0
}

// HasBlobReference reports whether output items were offloaded.
func (r *ResultMessage) HasBlobReference() bool {
	return r.BlobReference != nil && r.BlobReference.URL != ""
}

// IsSuccess reports whether the execution succeeded.
func (r *ResultMessage) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// IsRetryable reports whether a failed execution will be redelivered.
func (r *ResultMessage) IsRetryable() bool {
	return r.Error != nil && r.Error.Retryable
}
