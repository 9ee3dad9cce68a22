package state

import "sync"

// Store is the single mutable container of application state.
//
// All writes go through the named Update functions below. Each update copies
// the current State value, hands the relevant slice view to the caller's
// mutation recipe, and commits the copy only after the recipe returns.
// A panic in a recipe propagates to the caller and leaves the previously
// committed state untouched - the copy-on-write discipline means a partial
// mutation can never be observed.
//
// There is exactly one logical writer per Store instance (the host process);
// the internal mutex exists so readers on other goroutines always see a
// fully committed snapshot, not to arbitrate concurrent writers.
type Store struct {
	mu      sync.RWMutex
	current State
	version uint64

	// subs holds change listeners in subscription order. Listeners are
	// invoked synchronously after each committed update, outside the lock.
	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func()
}

// NewStore creates a store seeded with the given initial state.
// Multiple independent stores can coexist (one per test, for example);
// there is no ambient global instance.
func NewStore(initial State) *Store {
	return &Store{current: initial}
}

// GetState returns a snapshot of the current state. The returned value
// shares slice and map references with the store; callers must treat it
// as read-only.
func (s *Store) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Version returns the number of committed updates.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Subscribe registers a listener invoked after every committed update.
// The returned function removes the listener.
func (s *Store) Subscribe(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// apply runs a mutation against a private copy of the state and commits it.
// The copy is a shallow struct copy: untouched slice/map fields keep their
// identity, which is what the slice Equal methods rely on.
func (s *Store) apply(mutate func(*State)) {
	s.mu.RLock()
	next := s.current
	s.mu.RUnlock()

	// The recipe runs on the private copy. A panic propagates to the
	// caller without committing anything.
	mutate(&next)

	s.mu.Lock()
	s.current = next
	s.version++
	listeners := make([]func(), len(s.subs))
	for i, sub := range s.subs {
		listeners[i] = sub.fn
	}
	s.mu.Unlock()

	// Listeners run synchronously in the updating goroutine, after the
	// commit, so by the time an Update call returns every non-paused
	// bridge send has already been issued.
	for _, fn := range listeners {
		fn()
	}
}

// UpdateAnalysis applies a mutation recipe to the analysis-results fields.
func (s *Store) UpdateAnalysis(recipe func(*AnalysisSlice)) {
	s.apply(func(next *State) {
		view := SelectAnalysis(*next)
		recipe(&view)
		next.RuleSets = view.RuleSets
		next.EnhancedIncidents = view.EnhancedIncidents
		next.IsAnalyzing = view.IsAnalyzing
		next.IsAnalysisScheduled = view.IsAnalysisScheduled
		next.AnalysisProgress = view.AnalysisProgress
		next.AnalysisProgressMessage = view.AnalysisProgressMessage
	})
}

// UpdateChat applies a mutation recipe to the chat transcript. Recipes must
// replace the ChatMessages slice rather than mutate it in place, preserving
// the prior snapshot (see AppendChatMessage / AppendToLastChatMessage).
func (s *Store) UpdateChat(recipe func(*ChatSlice)) {
	s.apply(func(next *State) {
		view := SelectChat(*next)
		recipe(&view)
		next.ChatMessages = view.ChatMessages
	})
}

// UpdateSolutionWorkflow applies a mutation recipe to the solution-workflow fields.
func (s *Store) UpdateSolutionWorkflow(recipe func(*SolutionWorkflowSlice)) {
	s.apply(func(next *State) {
		view := SelectSolutionWorkflow(*next)
		recipe(&view)
		next.IsFetchingSolution = view.IsFetchingSolution
		next.SolutionState = view.SolutionState
		next.SolutionScope = view.SolutionScope
		next.IsWaitingForUserInteraction = view.IsWaitingForUserInteraction
		next.IsProcessingQueuedMessages = view.IsProcessingQueuedMessages
		next.PendingBatchReview = view.PendingBatchReview
	})
}

// UpdateServer applies a mutation recipe to the server-status fields.
func (s *Store) UpdateServer(recipe func(*ServerSlice)) {
	s.apply(func(next *State) {
		view := SelectServer(*next)
		recipe(&view)
		next.ServerState = view.ServerState
		next.IsStartingServer = view.IsStartingServer
		next.IsInitializingServer = view.IsInitializingServer
		next.SolutionServerConnected = view.SolutionServerConnected
		next.ProfileSyncConnected = view.ProfileSyncConnected
		next.LLMProxyAvailable = view.LLMProxyAvailable
	})
}

// UpdateProfiles applies a mutation recipe to the profile-configuration fields.
func (s *Store) UpdateProfiles(recipe func(*ProfilesSlice)) {
	s.apply(func(next *State) {
		view := SelectProfiles(*next)
		recipe(&view)
		next.Profiles = view.Profiles
		next.ActiveProfileID = view.ActiveProfileID
		next.IsInTreeMode = view.IsInTreeMode
	})
}

// UpdateConfigErrors applies a mutation recipe to the configuration-error list.
func (s *Store) UpdateConfigErrors(recipe func(*ConfigErrorsSlice)) {
	s.apply(func(next *State) {
		view := SelectConfigErrors(*next)
		recipe(&view)
		next.ConfigErrors = view.ConfigErrors
	})
}

// UpdateDecorators applies a mutation recipe to the per-file decorator map.
func (s *Store) UpdateDecorators(recipe func(*DecoratorsSlice)) {
	s.apply(func(next *State) {
		view := SelectDecorators(*next)
		recipe(&view)
		next.ActiveDecorators = view.ActiveDecorators
	})
}

// UpdateSettings applies a mutation recipe to the feature-settings fields.
func (s *Store) UpdateSettings(recipe func(*SettingsSlice)) {
	s.apply(func(next *State) {
		view := SelectSettings(*next)
		recipe(&view)
		next.SolutionServerEnabled = view.SolutionServerEnabled
		next.IsAgentMode = view.IsAgentMode
		next.IsContinueInstalled = view.IsContinueInstalled
		next.HubConfig = view.HubConfig
		next.HubForced = view.HubForced
		next.ProfileSyncEnabled = view.ProfileSyncEnabled
		next.IsSyncingProfiles = view.IsSyncingProfiles
		next.LLMProxyAvailable = view.LLMProxyAvailable
	})
}

// AppendChatMessage appends a new message to the transcript, producing a new
// slice so the prior snapshot is never mutated. This is the structural path
// of the chat streaming protocol.
func (s *Store) AppendChatMessage(msg ChatMessage) {
	s.UpdateChat(func(c *ChatSlice) {
		msgs := make([]ChatMessage, len(c.ChatMessages)+1)
		copy(msgs, c.ChatMessages)
		msgs[len(msgs)-1] = msg
		c.ChatMessages = msgs
	})
}

// AppendToLastChatMessage appends streamed content to the last message's
// text without changing the transcript length. The slice is re-allocated so
// the prior snapshot keeps its own content; length staying fixed is what the
// bridge classifies as a streaming update.
func (s *Store) AppendToLastChatMessage(content string) {
	s.UpdateChat(func(c *ChatSlice) {
		if len(c.ChatMessages) == 0 {
			return
		}
		msgs := append([]ChatMessage(nil), c.ChatMessages...)
		msgs[len(msgs)-1].Content += content
		c.ChatMessages = msgs
	})
}

// RemovePendingReviewFiles removes the pending-review entries with the given
// tokens, producing a new slice. Tokens with no matching entry are ignored.
func (s *Store) RemovePendingReviewFiles(tokens ...string) {
	drop := make(map[string]bool, len(tokens))
	for _, token := range tokens {
		drop[token] = true
	}
	s.UpdateSolutionWorkflow(func(w *SolutionWorkflowSlice) {
		remaining := make([]PendingBatchReviewFile, 0, len(w.PendingBatchReview))
		for _, f := range w.PendingBatchReview {
			if !drop[f.Token] {
				remaining = append(remaining, f)
			}
		}
		// Keep the old header when nothing matched so the bridge does not
		// see a spurious reference change.
		if len(remaining) != len(w.PendingBatchReview) {
			w.PendingBatchReview = remaining
		}
	})
}
