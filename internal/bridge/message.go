// Package bridge synchronizes store state to webview consumers. It owns the
// outbound sync message vocabulary, the per-binding change detection that
// keeps traffic proportional to what actually changed, and the consumer
// abstraction messages are delivered through.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/ibolton336/migrator-host/internal/state"
)

// Outbound sync message types. Each type has a fixed payload shape drawn
// from one state slice (plus the two chat shapes, see below).
const (
	// MessageTypeAnalysisState carries the analysis-results slice.
	MessageTypeAnalysisState = "analysis-state-update"

	// MessageTypeChatStructural carries the full chat transcript plus the
	// previously observed length. Sent when the transcript length changes
	// or on full syncs.
	MessageTypeChatStructural = "chat-structural-update"

	// MessageTypeChatStreaming carries only the last transcript element and
	// its index. Sent when the last message's content grows while the
	// transcript length is unchanged.
	MessageTypeChatStreaming = "chat-streaming-update"

	// MessageTypeSolutionWorkflow carries the solution-workflow slice.
	MessageTypeSolutionWorkflow = "solution-workflow-update"

	// MessageTypeServerState carries the server/connection-status slice.
	MessageTypeServerState = "server-state-update"

	// MessageTypeProfiles carries the profile-configuration slice.
	MessageTypeProfiles = "profiles-update"

	// MessageTypeConfigErrors carries the configuration-error list.
	MessageTypeConfigErrors = "config-errors-update"

	// MessageTypeDecorators carries the per-file decorator map.
	MessageTypeDecorators = "decorators-update"

	// MessageTypeSettings carries the feature-settings slice.
	MessageTypeSettings = "settings-update"
)

// Message is the envelope for outbound sync messages. On the wire the
// payload fields are flattened to the top level alongside type and
// timestamp, so a webview sees e.g.
//
//	{"type":"server-state-update","timestamp":"...","serverState":"running",...}
type Message struct {
	// Type identifies what kind of message this is.
	Type string

	// Timestamp is when the message was constructed, ISO-8601.
	Timestamp string

	// Payload is the binding-specific payload struct. Its JSON fields are
	// flattened into the top-level object during marshaling.
	Payload any
}

// MarshalJSON flattens the payload fields to the top level of the object.
func (m Message) MarshalJSON() ([]byte, error) {
	flat := make(map[string]json.RawMessage)

	if m.Payload != nil {
		raw, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload for %s: %w", m.Type, err)
		}
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, fmt.Errorf("flatten payload for %s: %w", m.Type, err)
		}
	}

	typeRaw, err := json.Marshal(m.Type)
	if err != nil {
		return nil, err
	}
	tsRaw, err := json.Marshal(m.Timestamp)
	if err != nil {
		return nil, err
	}
	flat["type"] = typeRaw
	flat["timestamp"] = tsRaw

	return json.Marshal(flat)
}

// ChatStructuralPayload is the chat-structural-update payload: the full
// transcript plus the length the consumer last observed, so it can diff.
type ChatStructuralPayload struct {
	ChatMessages   []state.ChatMessage `json:"chatMessages"`
	PreviousLength int                 `json:"previousLength"`
}

// ChatStreamingPayload is the chat-streaming-update payload: only the
// growing last element and its index.
type ChatStreamingPayload struct {
	Message      state.ChatMessage `json:"message"`
	MessageIndex int               `json:"messageIndex"`
}

// normalizeWorkflow replaces a nil pending-review slice with an empty one so
// the wire shape is always an array, never null.
func normalizeWorkflow(p state.SolutionWorkflowSlice) state.SolutionWorkflowSlice {
	if p.PendingBatchReview == nil {
		p.PendingBatchReview = []state.PendingBatchReviewFile{}
	}
	return p
}

// normalizeDecorators replaces a nil decorator map with an empty one so the
// wire shape is always an object, never null.
func normalizeDecorators(p state.DecoratorsSlice) state.DecoratorsSlice {
	if p.ActiveDecorators == nil {
		p.ActiveDecorators = map[string]string{}
	}
	return p
}

// normalizeChat replaces a nil transcript with an empty one for the wire.
func normalizeChat(msgs []state.ChatMessage) []state.ChatMessage {
	if msgs == nil {
		return []state.ChatMessage{}
	}
	return msgs
}
