// Package review processes apply/reject decisions on agent-proposed file
// modifications. It coordinates between the state store (where pending
// files live), the workspace (where approved content lands), and an
// optional audit log recording every decision.
package review

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/ibolton336/migrator-host/internal/errors"
	"github.com/ibolton336/migrator-host/internal/state"
)

// AuditLog records decided files durably. Satisfied by storage.SQLiteStore.
type AuditLog interface {
	Put(key string, value []byte) error
}

// Decision is one apply/reject request from the webview.
type Decision struct {
	// Token identifies the pending file the decision is about.
	Token string

	// Action is "apply" or "reject".
	Action string

	// Content, when non-empty on apply, replaces the stored proposal.
	// This lets a user hand-edit the change before approving it.
	Content string
}

// auditRecord is the durable trace of one decision.
type auditRecord struct {
	Token     string `json:"token"`
	Path      string `json:"path"`
	Action    string `json:"action"`
	IsDeleted bool   `json:"isDeleted,omitempty"`
	DecidedAt string `json:"decidedAt"`
}

// Processor applies review decisions. It owns the pending-review portion
// of the state store: decisions remove files from the pending set, and
// the interaction flag clears when the set empties.
type Processor struct {
	store     *state.Store
	workspace string
	audit     AuditLog
}

// NewProcessor creates a processor writing approved files under workspace.
func NewProcessor(store *state.Store, workspace string) *Processor {
	return &Processor{store: store, workspace: workspace}
}

// SetAuditLog enables durable decision records. If unset, decisions are
// processed but not archived.
func (p *Processor) SetAuditLog(audit AuditLog) {
	p.audit = audit
}

// ProcessDecision resolves one pending file by token. Apply writes the
// content into the workspace (or deletes the file for deletion proposals);
// reject discards it. Either way the file leaves the pending set.
//
// Returns a CodedError:
//   - review.invalid_action if the action is not apply/reject
//   - review.not_found if no pending file matches the token
//   - server.invalid_message if the file path escapes the workspace
func (p *Processor) ProcessDecision(d Decision) error {
	if d.Action != "apply" && d.Action != "reject" {
		return apperrors.InvalidReviewAction(d.Action)
	}

	var pending *state.PendingBatchReviewFile
	for _, f := range p.store.GetState().PendingBatchReview {
		if f.Token == d.Token {
			found := f
			pending = &found
			break
		}
	}
	if pending == nil {
		return apperrors.ReviewNotFound(d.Token)
	}

	// Validate before touching anything: a traversal attempt leaves the
	// file pending so nothing is silently discarded.
	path, err := p.resolvePath(pending.Path)
	if err != nil {
		return err
	}

	if d.Action == "apply" {
		if err := p.commit(*pending, d, path); err != nil {
			return err
		}
	}

	p.store.RemovePendingReviewFiles(d.Token)
	if len(p.store.GetState().PendingBatchReview) == 0 {
		p.store.UpdateSolutionWorkflow(func(w *state.SolutionWorkflowSlice) {
			w.IsWaitingForUserInteraction = false
		})
	}

	p.record(*pending, d.Action)
	return nil
}

// commit writes an approved modification into the workspace.
func (p *Processor) commit(pending state.PendingBatchReviewFile, d Decision, path string) error {
	if pending.IsDeleted {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return apperrors.Internal("failed to delete reviewed file", err)
		}
		return nil
	}

	content := pending.Content
	if d.Content != "" {
		content = d.Content
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.Internal("failed to create parent directory", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return apperrors.Internal("failed to write reviewed file", err)
	}
	return nil
}

// resolvePath joins a workspace-relative path and rejects anything that
// would escape the workspace root.
func (p *Processor) resolvePath(rel string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", apperrors.InvalidMessage(
			fmt.Sprintf("invalid file path: %s (must be workspace-relative)", rel))
	}

	root, err := filepath.Abs(p.workspace)
	if err != nil {
		return "", apperrors.Internal("failed to resolve workspace root", err)
	}
	root = filepath.Clean(root)
	resolved := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))

	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", apperrors.InvalidMessage(
			fmt.Sprintf("file path escapes the workspace: %s", rel))
	}
	return resolved, nil
}

// record archives the decision. Audit failures are logged, not returned:
// the decision already took effect and must not appear to have failed.
func (p *Processor) record(pending state.PendingBatchReviewFile, action string) {
	if p.audit == nil {
		return
	}
	rec := auditRecord{
		Token:     pending.Token,
		Path:      pending.Path,
		Action:    action,
		IsDeleted: pending.IsDeleted,
		DecidedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("review: failed to encode audit record for %s: %v", pending.Token, err)
		return
	}
	if err := p.audit.Put("decision:"+pending.Token, data); err != nil {
		log.Printf("review: failed to archive decision for %s: %v", pending.Token, err)
	}
}
