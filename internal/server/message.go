package server

// Inbound message types sent by webview panels.
const (
	// MessageTypeWebviewReady marks the webview as ready to receive state.
	// It triggers a full sync followed by a flush of anything queued.
	MessageTypeWebviewReady = "webview-ready"

	// MessageTypeWebviewHidden and MessageTypeWebviewVisible track panel
	// visibility. A hidden webview's bridge pauses and coalesces updates;
	// visibility resumes delivery with one message per changed binding.
	MessageTypeWebviewHidden  = "webview-hidden"
	MessageTypeWebviewVisible = "webview-visible"

	// MessageTypeFileResponse applies or rejects one pending reviewed file.
	MessageTypeFileResponse = "file-response"

	// MessageTypeBatchApply and MessageTypeBatchReject decide all listed
	// pending files at once.
	MessageTypeBatchApply  = "batch-apply"
	MessageTypeBatchReject = "batch-reject"

	// MessageTypeAgentChat sends one user message to the agent.
	MessageTypeAgentChat = "agent-chat"

	// MessageTypeAgentStart / MessageTypeAgentStop control the agent
	// subprocess lifecycle.
	MessageTypeAgentStart = "agent-start"
	MessageTypeAgentStop  = "agent-stop"

	// MessageTypeAgentCancel cancels the in-flight generation.
	MessageTypeAgentCancel = "agent-cancel"

	// MessageTypeAgentConfig updates agent-related settings.
	MessageTypeAgentConfig = "agent-config"
)

// inboundMessage is the envelope every inbound message shares; the payload
// is re-parsed per type by the handler.
type inboundMessage struct {
	Type string `json:"type"`
}

// fileDecision is the payload of file-response, and the element type of
// the batch messages.
type fileDecision struct {
	MessageToken string `json:"messageToken"`
	Path         string `json:"path"`
	Action       string `json:"action"`
	Content      string `json:"content,omitempty"`
}

// batchDecision is the payload of batch-apply and batch-reject.
type batchDecision struct {
	Files []fileDecision `json:"files"`
}

// agentChat is the payload of agent-chat.
type agentChat struct {
	MessageToken string `json:"messageToken"`
	Content      string `json:"value"`
}

// agentConfig carries optional settings toggles; only present fields are
// applied.
type agentConfig struct {
	IsAgentMode           *bool   `json:"isAgentMode,omitempty"`
	SolutionServerEnabled *bool   `json:"solutionServerEnabled,omitempty"`
	ProfileSyncEnabled    *bool   `json:"profileSyncEnabled,omitempty"`
	HubURL                *string `json:"hubUrl,omitempty"`
	HubInsecure           *bool   `json:"hubInsecure,omitempty"`
}

// resultMessage acknowledges a file decision back to the requesting
// webview. State changes themselves arrive through the regular sync
// messages; this only reports success or failure of the request.
type resultMessage struct {
	Type         string `json:"type"`
	MessageToken string `json:"messageToken,omitempty"`
	Success      bool   `json:"success"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// errorMessage reports a request-level failure with a stable code.
type errorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
