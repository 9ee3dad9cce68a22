package state

import "reflect"

// Slice projections are pure functions of State returning a narrow, named
// sub-view. Projections are referentially stable: they carry field references
// straight out of the snapshot with no re-allocation, so a projection of an
// unchanged state is shallow-equal to the previous one.
//
// Each slice type has an Equal method implementing the shallow comparison the
// sync bridge gates on: == for comparable fields, reference identity for
// slices, maps, and pointers. Reference identity is sound because Store
// updates are copy-on-write: a slice field only gets a new header when its
// group was touched.

// AnalysisSlice is the analysis-results projection.
type AnalysisSlice struct {
	RuleSets                []RuleSet          `json:"ruleSets"`
	EnhancedIncidents       []EnhancedIncident `json:"enhancedIncidents"`
	IsAnalyzing             bool               `json:"isAnalyzing"`
	IsAnalysisScheduled     bool               `json:"isAnalysisScheduled"`
	AnalysisProgress        int                `json:"analysisProgress"`
	AnalysisProgressMessage string             `json:"analysisProgressMessage"`
}

// Equal reports whether two projections are shallow-equal.
func (a AnalysisSlice) Equal(b AnalysisSlice) bool {
	return sameSlice(a.RuleSets, b.RuleSets) &&
		sameSlice(a.EnhancedIncidents, b.EnhancedIncidents) &&
		a.IsAnalyzing == b.IsAnalyzing &&
		a.IsAnalysisScheduled == b.IsAnalysisScheduled &&
		a.AnalysisProgress == b.AnalysisProgress &&
		a.AnalysisProgressMessage == b.AnalysisProgressMessage
}

// ChatSlice is the chat-transcript projection. The bridge handles this slice
// with streaming-delta classification instead of the generic equality gate.
type ChatSlice struct {
	ChatMessages []ChatMessage `json:"chatMessages"`
}

// Equal reports whether two projections are shallow-equal.
func (a ChatSlice) Equal(b ChatSlice) bool {
	return sameSlice(a.ChatMessages, b.ChatMessages)
}

// SolutionWorkflowSlice is the solution-workflow projection.
type SolutionWorkflowSlice struct {
	IsFetchingSolution          bool                     `json:"isFetchingSolution"`
	SolutionState               string                   `json:"solutionState"`
	SolutionScope               string                   `json:"solutionScope"`
	IsWaitingForUserInteraction bool                     `json:"isWaitingForUserInteraction"`
	IsProcessingQueuedMessages  bool                     `json:"isProcessingQueuedMessages"`
	PendingBatchReview          []PendingBatchReviewFile `json:"pendingBatchReview"`
}

// Equal reports whether two projections are shallow-equal.
func (a SolutionWorkflowSlice) Equal(b SolutionWorkflowSlice) bool {
	return a.IsFetchingSolution == b.IsFetchingSolution &&
		a.SolutionState == b.SolutionState &&
		a.SolutionScope == b.SolutionScope &&
		a.IsWaitingForUserInteraction == b.IsWaitingForUserInteraction &&
		a.IsProcessingQueuedMessages == b.IsProcessingQueuedMessages &&
		sameSlice(a.PendingBatchReview, b.PendingBatchReview)
}

// ServerSlice is the server/connection-status projection.
type ServerSlice struct {
	ServerState             string `json:"serverState"`
	IsStartingServer        bool   `json:"isStartingServer"`
	IsInitializingServer    bool   `json:"isInitializingServer"`
	SolutionServerConnected bool   `json:"solutionServerConnected"`
	ProfileSyncConnected    bool   `json:"profileSyncConnected"`
	LLMProxyAvailable       bool   `json:"llmProxyAvailable"`
}

// Equal reports whether two projections are shallow-equal.
func (a ServerSlice) Equal(b ServerSlice) bool {
	return a == b
}

// ProfilesSlice is the profile-configuration projection.
type ProfilesSlice struct {
	Profiles        []Profile `json:"profiles"`
	ActiveProfileID string    `json:"activeProfileId"`
	IsInTreeMode    bool      `json:"isInTreeMode"`
}

// Equal reports whether two projections are shallow-equal.
func (a ProfilesSlice) Equal(b ProfilesSlice) bool {
	return sameSlice(a.Profiles, b.Profiles) &&
		a.ActiveProfileID == b.ActiveProfileID &&
		a.IsInTreeMode == b.IsInTreeMode
}

// ConfigErrorsSlice is the configuration-errors projection.
type ConfigErrorsSlice struct {
	ConfigErrors []ConfigError `json:"configErrors"`
}

// Equal reports whether two projections are shallow-equal.
func (a ConfigErrorsSlice) Equal(b ConfigErrorsSlice) bool {
	return sameSlice(a.ConfigErrors, b.ConfigErrors)
}

// DecoratorsSlice is the per-file decorator projection.
type DecoratorsSlice struct {
	ActiveDecorators map[string]string `json:"activeDecorators"`
}

// Equal reports whether two projections are shallow-equal.
func (a DecoratorsSlice) Equal(b DecoratorsSlice) bool {
	return sameMap(a.ActiveDecorators, b.ActiveDecorators)
}

// SettingsSlice is the feature-settings projection.
type SettingsSlice struct {
	SolutionServerEnabled bool       `json:"solutionServerEnabled"`
	IsAgentMode           bool       `json:"isAgentMode"`
	IsContinueInstalled   bool       `json:"isContinueInstalled"`
	HubConfig             *HubConfig `json:"hubConfig"`
	HubForced             bool       `json:"hubForced"`
	ProfileSyncEnabled    bool       `json:"profileSyncEnabled"`
	IsSyncingProfiles     bool       `json:"isSyncingProfiles"`
	LLMProxyAvailable     bool       `json:"llmProxyAvailable"`
}

// Equal reports whether two projections are shallow-equal.
// HubConfig is compared by pointer identity, consistent with the
// copy-on-write discipline.
func (a SettingsSlice) Equal(b SettingsSlice) bool {
	return a == b
}

// Selectors. Each returns the projection for its named concern, carrying
// references straight out of the snapshot.

// SelectAnalysis projects the analysis-results fields.
func SelectAnalysis(s State) AnalysisSlice {
	return AnalysisSlice{
		RuleSets:                s.RuleSets,
		EnhancedIncidents:       s.EnhancedIncidents,
		IsAnalyzing:             s.IsAnalyzing,
		IsAnalysisScheduled:     s.IsAnalysisScheduled,
		AnalysisProgress:        s.AnalysisProgress,
		AnalysisProgressMessage: s.AnalysisProgressMessage,
	}
}

// SelectChat projects the chat transcript.
func SelectChat(s State) ChatSlice {
	return ChatSlice{ChatMessages: s.ChatMessages}
}

// SelectSolutionWorkflow projects the solution-workflow fields.
func SelectSolutionWorkflow(s State) SolutionWorkflowSlice {
	return SolutionWorkflowSlice{
		IsFetchingSolution:          s.IsFetchingSolution,
		SolutionState:               s.SolutionState,
		SolutionScope:               s.SolutionScope,
		IsWaitingForUserInteraction: s.IsWaitingForUserInteraction,
		IsProcessingQueuedMessages:  s.IsProcessingQueuedMessages,
		PendingBatchReview:          s.PendingBatchReview,
	}
}

// SelectServer projects the server/connection-status fields.
func SelectServer(s State) ServerSlice {
	return ServerSlice{
		ServerState:             s.ServerState,
		IsStartingServer:        s.IsStartingServer,
		IsInitializingServer:    s.IsInitializingServer,
		SolutionServerConnected: s.SolutionServerConnected,
		ProfileSyncConnected:    s.ProfileSyncConnected,
		LLMProxyAvailable:       s.LLMProxyAvailable,
	}
}

// SelectProfiles projects the profile-configuration fields.
func SelectProfiles(s State) ProfilesSlice {
	return ProfilesSlice{
		Profiles:        s.Profiles,
		ActiveProfileID: s.ActiveProfileID,
		IsInTreeMode:    s.IsInTreeMode,
	}
}

// SelectConfigErrors projects the configuration-error list.
func SelectConfigErrors(s State) ConfigErrorsSlice {
	return ConfigErrorsSlice{ConfigErrors: s.ConfigErrors}
}

// SelectDecorators projects the per-file decorator map.
func SelectDecorators(s State) DecoratorsSlice {
	return DecoratorsSlice{ActiveDecorators: s.ActiveDecorators}
}

// SelectSettings projects the feature-settings fields.
func SelectSettings(s State) SettingsSlice {
	return SettingsSlice{
		SolutionServerEnabled: s.SolutionServerEnabled,
		IsAgentMode:           s.IsAgentMode,
		IsContinueInstalled:   s.IsContinueInstalled,
		HubConfig:             s.HubConfig,
		HubForced:             s.HubForced,
		ProfileSyncEnabled:    s.ProfileSyncEnabled,
		IsSyncingProfiles:     s.IsSyncingProfiles,
		LLMProxyAvailable:     s.LLMProxyAvailable,
	}
}

// sameSlice reports whether two slices are the same slice header, i.e. the
// update that produced the new state did not replace this field. A length
// change is always a different header; equal-length slices are compared by
// the address of their first element.
func sameSlice[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return &a[0] == &b[0]
}

// sameMap reports whether two maps are the same map value. Maps cannot be
// compared with == in Go, so identity is checked via the underlying pointer.
func sameMap(a, b map[string]string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
