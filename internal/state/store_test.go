package state

import (
	"testing"
)

// TestCopyOnWriteIdentity verifies that an update to one group leaves the
// slice headers of every other group untouched. This identity preservation
// is what the sync bridge's shallow equality depends on.
func TestCopyOnWriteIdentity(t *testing.T) {
	store := NewStore(State{
		RuleSets: []RuleSet{{Name: "quarkus"}},
		Profiles: []Profile{{ID: "p1", Name: "default"}},
	})

	before := store.GetState()

	store.UpdateServer(func(sv *ServerSlice) {
		sv.ServerState = "running"
	})

	after := store.GetState()

	if !sameSlice(before.RuleSets, after.RuleSets) {
		t.Error("RuleSets header changed by an unrelated update")
	}
	if !sameSlice(before.Profiles, after.Profiles) {
		t.Error("Profiles header changed by an unrelated update")
	}
	if after.ServerState != "running" {
		t.Errorf("ServerState = %q, want %q", after.ServerState, "running")
	}
}

// TestSnapshotIsolation verifies a snapshot taken before an update is not
// affected by the update.
func TestSnapshotIsolation(t *testing.T) {
	store := NewStore(State{AnalysisProgress: 10})
	snap := store.GetState()

	store.UpdateAnalysis(func(a *AnalysisSlice) {
		a.AnalysisProgress = 90
	})

	if snap.AnalysisProgress != 10 {
		t.Errorf("prior snapshot AnalysisProgress = %d, want 10", snap.AnalysisProgress)
	}
	if got := store.GetState().AnalysisProgress; got != 90 {
		t.Errorf("current AnalysisProgress = %d, want 90", got)
	}
}

// TestRecipePanicLeavesStateIntact verifies a panicking recipe commits
// nothing: no version bump, no field change, no listener notification.
func TestRecipePanicLeavesStateIntact(t *testing.T) {
	store := NewStore(State{ServerState: "stopped"})
	notified := 0
	store.Subscribe(func() { notified++ })

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected recipe panic to propagate")
			}
		}()
		store.UpdateServer(func(sv *ServerSlice) {
			sv.ServerState = "half-written"
			panic("recipe failure")
		})
	}()

	if got := store.GetState().ServerState; got != "stopped" {
		t.Errorf("ServerState = %q, want %q after failed update", got, "stopped")
	}
	if store.Version() != 0 {
		t.Errorf("Version = %d, want 0 after failed update", store.Version())
	}
	if notified != 0 {
		t.Errorf("listeners notified %d times, want 0", notified)
	}
}

// TestSubscribeNotifiesPerCommit verifies one synchronous notification per
// committed update and that unsubscribe stops them.
func TestSubscribeNotifiesPerCommit(t *testing.T) {
	store := NewStore(State{})
	count := 0
	unsubscribe := store.Subscribe(func() { count++ })

	store.UpdateSettings(func(st *SettingsSlice) { st.IsAgentMode = true })
	store.UpdateSettings(func(st *SettingsSlice) { st.IsAgentMode = false })

	if count != 2 {
		t.Errorf("notifications = %d, want 2", count)
	}

	unsubscribe()
	store.UpdateSettings(func(st *SettingsSlice) { st.IsAgentMode = true })

	if count != 2 {
		t.Errorf("notifications after unsubscribe = %d, want 2", count)
	}
}

// TestSelectorStability verifies that projecting an unchanged state twice
// yields shallow-equal projections (no incidental re-allocation).
func TestSelectorStability(t *testing.T) {
	store := NewStore(State{
		RuleSets:         []RuleSet{{Name: "a"}},
		Profiles:         []Profile{{ID: "p"}},
		ActiveDecorators: map[string]string{"file.go": "warning"},
	})

	s1 := store.GetState()
	s2 := store.GetState()

	if !SelectAnalysis(s1).Equal(SelectAnalysis(s2)) {
		t.Error("analysis projection not stable across identical snapshots")
	}
	if !SelectProfiles(s1).Equal(SelectProfiles(s2)) {
		t.Error("profiles projection not stable across identical snapshots")
	}
	if !SelectDecorators(s1).Equal(SelectDecorators(s2)) {
		t.Error("decorators projection not stable across identical snapshots")
	}
}

// TestAppendChatMessage verifies structural append produces a longer, new
// slice while the prior snapshot keeps its length.
func TestAppendChatMessage(t *testing.T) {
	store := NewStore(State{})
	before := store.GetState()

	store.AppendChatMessage(ChatMessage{Token: "m1", Kind: "agent"})

	after := store.GetState()
	if len(after.ChatMessages) != 1 {
		t.Fatalf("len(ChatMessages) = %d, want 1", len(after.ChatMessages))
	}
	if len(before.ChatMessages) != 0 {
		t.Errorf("prior snapshot length = %d, want 0", len(before.ChatMessages))
	}
}

// TestAppendToLastChatMessage verifies streaming growth keeps the length
// fixed, accumulates content, and never mutates the prior snapshot.
func TestAppendToLastChatMessage(t *testing.T) {
	store := NewStore(State{})
	store.AppendChatMessage(ChatMessage{Token: "m1", Kind: "agent", Content: "Hel"})

	snap := store.GetState()
	store.AppendToLastChatMessage("lo")

	after := store.GetState()
	if len(after.ChatMessages) != 1 {
		t.Fatalf("len(ChatMessages) = %d, want 1", len(after.ChatMessages))
	}
	if got := after.ChatMessages[0].Content; got != "Hello" {
		t.Errorf("Content = %q, want %q", got, "Hello")
	}
	if got := snap.ChatMessages[0].Content; got != "Hel" {
		t.Errorf("prior snapshot Content = %q, want %q (mutated in place)", got, "Hel")
	}
}

// TestRemovePendingReviewFiles covers removal, unknown tokens, and header
// stability when nothing matches.
func TestRemovePendingReviewFiles(t *testing.T) {
	files := []PendingBatchReviewFile{
		{Token: "t1", Path: "a.go"},
		{Token: "t2", Path: "b.go"},
	}
	store := NewStore(State{PendingBatchReview: files})

	store.RemovePendingReviewFiles("t1")
	got := store.GetState().PendingBatchReview
	if len(got) != 1 || got[0].Token != "t2" {
		t.Fatalf("PendingBatchReview = %+v, want only t2", got)
	}

	before := store.GetState().PendingBatchReview
	store.RemovePendingReviewFiles("missing")
	after := store.GetState().PendingBatchReview
	if !sameSlice(before, after) {
		t.Error("removal of unknown token replaced the slice header")
	}

	store.RemovePendingReviewFiles("t2")
	if got := store.GetState().PendingBatchReview; len(got) != 0 {
		t.Errorf("PendingBatchReview = %+v, want empty", got)
	}
}

// TestSliceEquality exercises the shallow comparators directly.
func TestSliceEquality(t *testing.T) {
	rs := []RuleSet{{Name: "a"}}
	left := AnalysisSlice{RuleSets: rs, AnalysisProgress: 5}
	right := AnalysisSlice{RuleSets: rs, AnalysisProgress: 5}
	if !left.Equal(right) {
		t.Error("identical projections compare unequal")
	}

	// Deep-equal but re-allocated content is a change by reference equality.
	right.RuleSets = []RuleSet{{Name: "a"}}
	if left.Equal(right) {
		t.Error("re-allocated slice compared equal; want reference inequality")
	}

	// Comparable field change.
	right = left
	right.AnalysisProgress = 6
	if left.Equal(right) {
		t.Error("changed progress compared equal")
	}
}
