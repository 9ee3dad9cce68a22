package review

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/ibolton336/migrator-host/internal/errors"
	"github.com/ibolton336/migrator-host/internal/state"
)

// memoryAudit captures audit records in memory.
type memoryAudit struct {
	mu   sync.Mutex
	puts map[string][]byte
}

func (m *memoryAudit) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.puts == nil {
		m.puts = make(map[string][]byte)
	}
	m.puts[key] = value
	return nil
}

func newTestProcessor(t *testing.T, files ...state.PendingBatchReviewFile) (*Processor, *state.Store, string) {
	t.Helper()
	workspace := t.TempDir()
	store := state.NewStore(state.State{
		PendingBatchReview:          files,
		IsWaitingForUserInteraction: len(files) > 0,
	})
	return NewProcessor(store, workspace), store, workspace
}

func TestProcessDecisionApply(t *testing.T) {
	p, store, workspace := newTestProcessor(t, state.PendingBatchReviewFile{
		Token:   "f-1",
		Path:    "src/Main.java",
		Content: "public class Main {}",
		IsNew:   true,
	})

	if err := p.ProcessDecision(Decision{Token: "f-1", Action: "apply"}); err != nil {
		t.Fatalf("ProcessDecision failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(workspace, "src", "Main.java"))
	if err != nil {
		t.Fatalf("approved file not written: %v", err)
	}
	if string(data) != "public class Main {}" {
		t.Errorf("content = %q, want %q", data, "public class Main {}")
	}

	st := store.GetState()
	if len(st.PendingBatchReview) != 0 {
		t.Errorf("pending set not cleared: %d remain", len(st.PendingBatchReview))
	}
	if st.IsWaitingForUserInteraction {
		t.Error("IsWaitingForUserInteraction still set after last decision")
	}
}

func TestProcessDecisionReject(t *testing.T) {
	p, store, workspace := newTestProcessor(t, state.PendingBatchReviewFile{
		Token:   "f-1",
		Path:    "src/Main.java",
		Content: "public class Main {}",
	})

	if err := p.ProcessDecision(Decision{Token: "f-1", Action: "reject"}); err != nil {
		t.Fatalf("ProcessDecision failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(workspace, "src", "Main.java")); !os.IsNotExist(err) {
		t.Error("rejected file was written to the workspace")
	}
	if len(store.GetState().PendingBatchReview) != 0 {
		t.Error("rejected file still pending")
	}
}

func TestProcessDecisionApplyWithEditedContent(t *testing.T) {
	p, _, workspace := newTestProcessor(t, state.PendingBatchReviewFile{
		Token:   "f-1",
		Path:    "app.properties",
		Content: "mode=agent",
	})

	err := p.ProcessDecision(Decision{Token: "f-1", Action: "apply", Content: "mode=manual"})
	if err != nil {
		t.Fatalf("ProcessDecision failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(workspace, "app.properties"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "mode=manual" {
		t.Errorf("content = %q, want the edited version", data)
	}
}

func TestProcessDecisionDeletion(t *testing.T) {
	p, _, workspace := newTestProcessor(t, state.PendingBatchReviewFile{
		Token:     "f-del",
		Path:      "legacy/Old.java",
		IsDeleted: true,
	})
	target := filepath.Join(workspace, "legacy", "Old.java")
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(target, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.ProcessDecision(Decision{Token: "f-del", Action: "apply"}); err != nil {
		t.Fatalf("ProcessDecision failed: %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("deletion proposal did not remove the file")
	}
}

func TestProcessDecisionUnknownToken(t *testing.T) {
	p, _, _ := newTestProcessor(t)

	err := p.ProcessDecision(Decision{Token: "nope", Action: "apply"})
	if !apperrors.IsCode(err, apperrors.CodeReviewNotFound) {
		t.Errorf("error = %v, want code %s", err, apperrors.CodeReviewNotFound)
	}
}

func TestProcessDecisionInvalidAction(t *testing.T) {
	p, store, _ := newTestProcessor(t, state.PendingBatchReviewFile{
		Token: "f-1", Path: "a.txt", Content: "x",
	})

	err := p.ProcessDecision(Decision{Token: "f-1", Action: "maybe"})
	if !apperrors.IsCode(err, apperrors.CodeReviewInvalidAction) {
		t.Errorf("error = %v, want code %s", err, apperrors.CodeReviewInvalidAction)
	}
	if len(store.GetState().PendingBatchReview) != 1 {
		t.Error("file left the pending set despite an invalid action")
	}
}

func TestProcessDecisionPathTraversal(t *testing.T) {
	for _, path := range []string{
		"../outside.txt",
		"src/../../outside.txt",
		"/etc/passwd",
	} {
		p, store, _ := newTestProcessor(t, state.PendingBatchReviewFile{
			Token: "f-esc", Path: path, Content: "nope",
		})

		err := p.ProcessDecision(Decision{Token: "f-esc", Action: "apply"})
		if !apperrors.IsCode(err, apperrors.CodeServerInvalidMessage) {
			t.Errorf("path %q: error = %v, want code %s", path, err, apperrors.CodeServerInvalidMessage)
		}
		// A traversal attempt must not silently discard the file.
		if len(store.GetState().PendingBatchReview) != 1 {
			t.Errorf("path %q: file removed from pending set", path)
		}
	}
}

func TestProcessDecisionKeepsWaitingFlagWhileFilesRemain(t *testing.T) {
	p, store, _ := newTestProcessor(t,
		state.PendingBatchReviewFile{Token: "f-1", Path: "a.txt", Content: "a"},
		state.PendingBatchReviewFile{Token: "f-2", Path: "b.txt", Content: "b"},
	)

	if err := p.ProcessDecision(Decision{Token: "f-1", Action: "reject"}); err != nil {
		t.Fatalf("ProcessDecision failed: %v", err)
	}

	st := store.GetState()
	if len(st.PendingBatchReview) != 1 {
		t.Fatalf("pending len = %d, want 1", len(st.PendingBatchReview))
	}
	if !st.IsWaitingForUserInteraction {
		t.Error("IsWaitingForUserInteraction cleared while files remain")
	}
}

func TestProcessDecisionWritesAuditRecord(t *testing.T) {
	p, _, _ := newTestProcessor(t, state.PendingBatchReviewFile{
		Token: "f-1", Path: "a.txt", Content: "a",
	})
	audit := &memoryAudit{}
	p.SetAuditLog(audit)

	if err := p.ProcessDecision(Decision{Token: "f-1", Action: "apply"}); err != nil {
		t.Fatalf("ProcessDecision failed: %v", err)
	}

	data, ok := audit.puts["decision:f-1"]
	if !ok {
		t.Fatal("no audit record written")
	}
	var rec auditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("audit record not valid JSON: %v", err)
	}
	if rec.Action != "apply" || rec.Path != "a.txt" {
		t.Errorf("audit record = %+v", rec)
	}
	if rec.DecidedAt == "" {
		t.Error("audit record missing timestamp")
	}
}
