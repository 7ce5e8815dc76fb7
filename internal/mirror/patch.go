package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/model"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/telemetry"
)

// patchFunc mutates a message and its envelope in place and reports whether
// anything changed. Patches must be safe to evaluate against any state of the
// target: guards such as "not tombstoned" live inside the function.
type patchFunc func(msg *model.Message, env *model.Envelope) bool

// pendingPatch is a mutation waiting for its target row to be inserted.
type pendingPatch struct {
	name string
	fn   patchFunc
	// inMemory marks patches already applied to an in-flight memory record.
	// If that insert fails the record is retried with the patch baked in.
	inMemory bool
	// preview marks patches that can change the conversation preview.
	preview bool
}

type patchOutcome int

const (
	patchSkipped patchOutcome = iota
	patchApplied
	patchQueued
)

type patchResult struct {
	outcome      patchOutcome
	conversation string
}

// applyPatch runs fn against message id wherever it currently lives: the
// unflushed memory record, the durable row, or, when neither exists yet, the
// pending queue folded into the record when it arrives.
func (e *Engine) applyPatch(ctx context.Context, id, name string, preview bool, fn patchFunc) (patchResult, error) {
	e.mu.Lock()
	if rec := e.messages[id]; rec != nil {
		changed := fn(&rec.msg, rec.env)
		if changed && rec.inflight {
			e.queuePatchLocked(id, pendingPatch{name: name, fn: fn, inMemory: true, preview: preview})
		}
		conv := rec.msg.ConversationAddress
		e.mu.Unlock()
		if !changed {
			return patchResult{outcome: patchSkipped, conversation: conv}, nil
		}
		return patchResult{outcome: patchApplied, conversation: conv}, nil
	}
	e.mu.Unlock()

	e.patchMu.Lock()
	defer e.patchMu.Unlock()

	changed, conv, err := e.patchDurable(ctx, id, fn)
	var nf *registrystore.NotFoundError
	if errors.As(err, &nf) {
		e.mu.Lock()
		e.queuePatchLocked(id, pendingPatch{name: name, fn: fn, preview: preview})
		e.mu.Unlock()
		log.Debug("Mirror: queued patch for unknown message", "patch", name, "id", id)
		e.scheduler.Schedule()
		return patchResult{outcome: patchQueued}, nil
	}
	if err != nil {
		return patchResult{}, err
	}
	if !changed {
		return patchResult{outcome: patchSkipped, conversation: conv}, nil
	}
	return patchResult{outcome: patchApplied, conversation: conv}, nil
}

// patchDurable read-modify-writes the durable row. Callers hold patchMu.
func (e *Engine) patchDurable(ctx context.Context, id string, fn patchFunc) (bool, string, error) {
	row, err := e.store.GetMessage(ctx, e.sessionID, id)
	if err != nil {
		return false, "", err
	}
	env, err := row.Envelope()
	if err != nil {
		return false, row.ConversationAddress, err
	}
	if !fn(row, env) {
		return false, row.ConversationAddress, nil
	}
	if err := row.SetEnvelope(env); err != nil {
		return false, row.ConversationAddress, err
	}
	if err := e.store.UpdateMessage(ctx, row); err != nil {
		return false, row.ConversationAddress, fmt.Errorf("patch message %s: %w", id, err)
	}
	e.invalidate(ctx, id)
	return true, row.ConversationAddress, nil
}

// replayPending applies the queued patches of ids, in submission order, to
// their freshly inserted rows.
func (e *Engine) replayPending(ctx context.Context, ids []string) {
	e.mu.Lock()
	batches := make(map[string][]pendingPatch)
	order := make([]string, 0)
	for _, id := range ids {
		if list := e.pending[id]; len(list) > 0 {
			batches[id] = list
			order = append(order, id)
			e.dropPendingLocked(id)
		}
	}
	e.mu.Unlock()
	if len(order) == 0 {
		return
	}

	previews := make(map[string]string)
	e.patchMu.Lock()
	for _, id := range order {
		for _, p := range batches[id] {
			changed, conv, err := e.patchDurable(ctx, id, p.fn)
			if err != nil {
				log.Error("Flush: pending patch failed", "patch", p.name, "id", id, "err", err)
				continue
			}
			if changed && p.preview {
				previews[id] = conv
			}
		}
	}
	e.patchMu.Unlock()

	for id, conv := range previews {
		if err := e.refreshPreviewIfLatest(ctx, conv, id); err != nil {
			log.Error("Flush: preview refresh failed", "conversation", conv, "err", err)
		}
	}
}

// applyQueuedLocked folds the patches queued for a new record into it, in
// submission order, so later patches land on top of them. Patches already
// baked into an in-flight record stay queued for the durable replay.
func (e *Engine) applyQueuedLocked(rec *messageRecord) {
	id := rec.msg.ID
	list := e.pending[id]
	if len(list) == 0 {
		return
	}
	var kept []pendingPatch
	for _, p := range list {
		if p.inMemory {
			kept = append(kept, p)
			continue
		}
		p.fn(&rec.msg, rec.env)
	}
	e.pendingCount -= len(list) - len(kept)
	if len(kept) == 0 {
		delete(e.pending, id)
	} else {
		e.pending[id] = kept
	}
	telemetry.SetPendingPatches(e.pendingCount)
}

// discardInMemoryPatches drops queued patches that were already applied to
// in-flight records whose insert failed.
func (e *Engine) discardInMemoryPatches(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		list := e.pending[id]
		if len(list) == 0 {
			continue
		}
		kept := list[:0]
		for _, p := range list {
			if !p.inMemory {
				kept = append(kept, p)
			}
		}
		e.pendingCount -= len(list) - len(kept)
		if len(kept) == 0 {
			delete(e.pending, id)
		} else {
			e.pending[id] = kept
		}
	}
	telemetry.SetPendingPatches(e.pendingCount)
}

func (e *Engine) queuePatchLocked(id string, p pendingPatch) {
	e.pending[id] = append(e.pending[id], p)
	e.pendingCount++
	telemetry.SetPendingPatches(e.pendingCount)
}

func (e *Engine) dropPendingLocked(id string) {
	if n := len(e.pending[id]); n > 0 {
		e.pendingCount -= n
		delete(e.pending, id)
		telemetry.SetPendingPatches(e.pendingCount)
	}
}

// PendingPatches returns the number of mutations waiting for their message.
func (e *Engine) PendingPatches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingCount
}

func (e *Engine) invalidate(ctx context.Context, id string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Remove(ctx, e.sessionID, id); err != nil {
		log.Warn("Mirror: cache invalidation failed", "id", id, "err", err)
	}
}

// cachedMessageIDs lists the durable message ids of the matching
// conversations so a cascading delete can evict them from the read cache.
func (e *Engine) cachedMessageIDs(ctx context.Context, exact, suffixes []string) []string {
	if e.cache == nil {
		return nil
	}
	ids, err := e.store.MessageIDs(ctx, e.sessionID, exact, suffixes)
	if err != nil {
		log.Warn("Mirror: listing messages for cache eviction failed", "err", err)
		return nil
	}
	return ids
}
