package agent

import "encoding/json"

// JSON-RPC 2.0 method names for the agent protocol.
const (
	methodInitialize = "initialize"
	methodNewSession = "session/new"
	methodPrompt     = "session/prompt"

	notifyCancel        = "session/cancel"
	notifySessionUpdate = "session/update"
)

// protocolVersion is the protocol revision this client speaks.
const protocolVersion = 1

// request is an outbound JSON-RPC 2.0 request.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// notification is an outbound JSON-RPC 2.0 notification (no id, no reply).
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// envelope is any inbound line: a response (id set) or a server-initiated
// notification (method set, id absent).
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	Params  json.RawMessage `json:"params"`
}

// rpcError is the JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// initializeParams is the capability-negotiation request payload.
type initializeParams struct {
	ProtocolVersion int        `json:"protocolVersion"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is what the agent reports back during the handshake.
type initializeResult struct {
	ProtocolVersion   int             `json:"protocolVersion"`
	AgentCapabilities json.RawMessage `json:"agentCapabilities,omitempty"`
}

// newSessionParams is the session-creation request payload.
type newSessionParams struct {
	Cwd string `json:"cwd"`
}

type newSessionResult struct {
	SessionID string `json:"sessionId"`
}

// promptParams carries one user message into the active session.
type promptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []ContentBlock `json:"prompt"`
}

// promptResult settles a generation request.
type promptResult struct {
	StopReason string `json:"stopReason"`
}

// cancelParams accompanies the fire-and-forget cancellation notification.
type cancelParams struct {
	SessionID string `json:"sessionId"`
}

// ContentBlock is one unit of streamed agent output, or of user input. Type
// is one of "text", "resource_link", "resource" or "thinking"; the other
// fields are populated per type.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URI  string `json:"uri,omitempty"`
	Name string `json:"name,omitempty"`
}

// sessionUpdateParams is the payload of a session/update notification.
type sessionUpdateParams struct {
	SessionID string        `json:"sessionId"`
	Update    sessionUpdate `json:"update"`
}

// sessionUpdate is a discriminated union keyed by SessionUpdate.
type sessionUpdate struct {
	SessionUpdate string          `json:"sessionUpdate"`
	Content       *ContentBlock   `json:"content,omitempty"`
	ToolCallID    string          `json:"toolCallId,omitempty"`
	Title         string          `json:"title,omitempty"`
	Status        string          `json:"status,omitempty"`
	RawOutput     json.RawMessage `json:"rawOutput,omitempty"`
}

// session/update discriminator values.
const (
	updateMessageChunk   = "agent_message_chunk"
	updateThoughtChunk   = "agent_thought_chunk"
	updateToolCall       = "tool_call"
	updateToolCallUpdate = "tool_call_update"
)

// ToolCall describes a tool invocation the agent started or progressed,
// surfaced to the webview so the user can watch the agent work.
type ToolCall struct {
	ID        string          `json:"toolCallId"`
	Title     string          `json:"title"`
	Status    string          `json:"status"`
	RawOutput json.RawMessage `json:"rawOutput,omitempty"`
}
