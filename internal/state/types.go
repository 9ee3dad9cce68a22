// Package state holds the host's single source of truth: one mutable,
// versioned container of application state, mutated only through scoped
// update functions that apply copy-on-write updates at the touched-field
// level. Webview clients only ever receive snapshots and deltas derived
// from this store; they never mutate it directly.
package state

// RuleSet is one analyzer rule set with its findings.
// Produced by the static analyzer and stored verbatim for the webview.
type RuleSet struct {
	// Name is the rule set identifier (e.g., "quarkus/springboot").
	Name string `json:"name"`

	// Description is a human-readable summary of the rule set.
	Description string `json:"description,omitempty"`

	// Violations maps rule ID to the violation found for that rule.
	Violations map[string]Violation `json:"violations,omitempty"`
}

// Violation is a single rule violation with its incident locations.
type Violation struct {
	// Description summarizes what the rule flags.
	Description string `json:"description"`

	// Category is the violation severity bucket: "mandatory", "optional",
	// or "potential".
	Category string `json:"category,omitempty"`

	// Incidents lists each location where the rule fired.
	Incidents []Incident `json:"incidents"`
}

// Incident is one location a rule fired at.
type Incident struct {
	// URI is the file location of the incident.
	URI string `json:"uri"`

	// Message explains the incident to the user.
	Message string `json:"message"`

	// LineNumber is the 1-based line of the incident, 0 if unknown.
	LineNumber int `json:"lineNumber,omitempty"`
}

// EnhancedIncident is an incident joined with its rule set and violation
// identity plus migration effort, the shape the webview issue list renders.
type EnhancedIncident struct {
	Incident

	// RuleSet is the name of the rule set the incident belongs to.
	RuleSet string `json:"ruleset_name"`

	// ViolationID is the rule ID within the rule set.
	ViolationID string `json:"violation_name"`

	// Effort is the estimated migration effort for this incident.
	Effort int `json:"effort,omitempty"`
}

// ChatMessage is one entry in the chat transcript. Identity is the Token;
// Content grows monotonically while the agent streams a response.
type ChatMessage struct {
	// Token uniquely identifies the message across streaming updates.
	Token string `json:"messageToken"`

	// Kind distinguishes who produced the message: "user", "agent", or "tool".
	Kind string `json:"kind"`

	// Content is the message text. The last message's content is appended
	// to in place (via copy-on-write) during streaming.
	Content string `json:"value"`

	// Timestamp is when the message was created, ISO-8601.
	Timestamp string `json:"timestamp,omitempty"`
}

// PendingBatchReviewFile is one agent-produced file modification awaiting a
// human apply/reject decision. Created when the agent emits a file change,
// removed when a decision message is processed. Owned exclusively by the
// host process; the webview only requests removal via decision messages.
type PendingBatchReviewFile struct {
	// Token correlates the file with decision messages from the webview.
	Token string `json:"messageToken"`

	// Path is the workspace-relative path of the modified file.
	Path string `json:"path"`

	// Content is the proposed new file content.
	Content string `json:"content,omitempty"`

	// IsNew indicates the file does not exist yet in the workspace.
	IsNew bool `json:"isNew,omitempty"`

	// IsDeleted indicates the modification deletes the file.
	IsDeleted bool `json:"isDeleted,omitempty"`
}

// Profile is one migration profile configuration.
type Profile struct {
	// ID uniquely identifies the profile.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Sources are the source technologies to migrate from.
	Sources []string `json:"sources,omitempty"`

	// Targets are the target technologies to migrate to.
	Targets []string `json:"targets,omitempty"`

	// CustomRules are paths to additional analyzer rule files.
	CustomRules []string `json:"customRules,omitempty"`

	// ReadOnly marks profiles synced from a hub that cannot be edited locally.
	ReadOnly bool `json:"readOnly,omitempty"`
}

// ConfigError describes a configuration problem the webview should surface.
type ConfigError struct {
	// Type is a stable error category (e.g., "no-active-profile").
	Type string `json:"type"`

	// Message is the human-readable description.
	Message string `json:"message"`
}

// HubConfig holds the enterprise hub connection settings, when configured.
type HubConfig struct {
	// URL is the hub base URL.
	URL string `json:"url"`

	// Insecure disables TLS verification for self-signed hub certs.
	Insecure bool `json:"insecure,omitempty"`
}

// State is the flat record of all host application state. Fields are grouped
// conceptually (not structurally) into the slices defined in slices.go.
//
// Invariant: exactly one logical owner (the host process) performs writes,
// always through Store update functions. An update copies the State struct
// and replaces only the touched fields, so untouched slice/map fields keep
// their identity across versions. That identity preservation is what lets
// the sync bridge detect changes with shallow reference comparisons.
type State struct {
	// Analysis results
	RuleSets                []RuleSet
	EnhancedIncidents       []EnhancedIncident
	IsAnalyzing             bool
	IsAnalysisScheduled     bool
	AnalysisProgress        int
	AnalysisProgressMessage string

	// Chat transcript
	ChatMessages []ChatMessage

	// Solution workflow
	IsFetchingSolution          bool
	SolutionState               string
	SolutionScope               string
	IsWaitingForUserInteraction bool
	IsProcessingQueuedMessages  bool
	PendingBatchReview          []PendingBatchReviewFile

	// Server / connection status
	ServerState             string
	IsStartingServer        bool
	IsInitializingServer    bool
	SolutionServerConnected bool
	ProfileSyncConnected    bool
	LLMProxyAvailable       bool

	// Profiles
	Profiles        []Profile
	ActiveProfileID string
	IsInTreeMode    bool

	// Configuration errors
	ConfigErrors []ConfigError

	// Per-file UI decorator assignments, keyed by file URI.
	ActiveDecorators map[string]string

	// Feature settings
	SolutionServerEnabled bool
	IsAgentMode           bool
	IsContinueInstalled   bool
	HubConfig             *HubConfig
	HubForced             bool
	ProfileSyncEnabled    bool
	IsSyncingProfiles     bool
}
