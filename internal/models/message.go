package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType tags the payload of a node ↔ monitor message
type MessageType string

const (
	MessageTypeDecision  MessageType = "decision"
	MessageTypeBatch     MessageType = "batch"
	MessageTypeHeartbeat MessageType = "heartbeat"
	MessageTypeStatus    MessageType = "status"
	MessageTypeAck       MessageType = "ack"
	MessageTypeError     MessageType = "error"
)

// Known reports whether t is part of the protocol
func (t MessageType) Known() bool {
	switch t {
	case MessageTypeDecision, MessageTypeBatch, MessageTypeHeartbeat,
		MessageTypeStatus, MessageTypeAck, MessageTypeError:
		return true
	}
	return false
}

// Message is the envelope of every frame. ID is set by the sender and
// echoed in the ack or error answering it.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage wraps payload in an envelope with a fresh ID
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload decodes the payload into v
func (m *Message) UnmarshalPayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", m.Type, err)
	}
	return nil
}

// BatchMessage carries decisions a node buffered while offline
type BatchMessage struct {
	NodeID    string     `json:"node_id"`
	Decisions []Decision `json:"decisions"`
	Count     int        `json:"count"`
}

// NewBatchMessage builds a batch with a matching count
func NewBatchMessage(nodeID string, decisions []Decision) BatchMessage {
	return BatchMessage{NodeID: nodeID, Decisions: decisions, Count: len(decisions)}
}

// ErrBatchCount is returned when a batch's count disagrees with its content
var ErrBatchCount = errors.New("batch count does not match decisions")

// Check verifies the count against the decisions
func (b BatchMessage) Check() error {
	if b.Count != len(b.Decisions) {
		return fmt.Errorf("%w: count %d, got %d", ErrBatchCount, b.Count, len(b.Decisions))
	}
	return nil
}

// HeartbeatMessage keeps the uplink alive and reports node health
type HeartbeatMessage struct {
	NodeID     string `json:"node_id"`
	Uptime     int64  `json:"uptime"`
	BufferSize int    `json:"buffer_size"`
	Units      int    `json:"units"`
}

// StatusMessage carries the current status of every unit on a node
type StatusMessage struct {
	NodeID string   `json:"node_id"`
	Units  []Status `json:"units"`
}

// AckMessage answers a message that was handled
type AckMessage struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Ack answers m
func Ack(m *Message) AckMessage {
	return AckMessage{MessageID: m.ID, Status: "ok"}
}

// ErrorCode classifies an ErrorMessage
type ErrorCode string

const (
	ErrorUnknownType ErrorCode = "unknown_type"
	ErrorBadPayload  ErrorCode = "bad_payload"
)

// ErrorMessage answers a message that was rejected
type ErrorMessage struct {
	MessageID string    `json:"message_id,omitempty"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
}

// Reject builds the error answer to m
func Reject(m *Message, code ErrorCode, err error) ErrorMessage {
	return ErrorMessage{MessageID: m.ID, Code: code, Message: err.Error()}
}

func (e ErrorMessage) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
