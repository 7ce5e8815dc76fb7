package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/model"
	"github.com/chirino/chat-mirror/internal/telemetry"
)

// flush writes dirty identities, dirty conversations that own messages, and
// every unflushed message. Failed rows stay in memory for the next run.
func (e *Engine) flush(ctx context.Context) error {
	identities, conversations, messages := e.snapshot()
	if len(identities) == 0 && len(conversations) == 0 && len(messages) == 0 {
		return nil
	}

	var errs []error
	if err := e.flushIdentities(ctx, identities); err != nil {
		errs = append(errs, err)
	}
	if err := e.flushConversations(ctx, conversations, messages); err != nil {
		errs = append(errs, err)
	}
	if err := e.flushMessages(ctx, messages); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		log.Debug("Flush: wrote rows",
			"identities", len(identities),
			"conversations", len(conversations),
			"messages", len(messages))
	}
	return errors.Join(errs...)
}

// snapshot copies dirty state under the state lock, clearing dirty flags and
// marking unflushed messages in flight.
func (e *Engine) snapshot() ([]model.Identity, []model.Conversation, []model.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var identities []model.Identity
	for _, st := range e.identities {
		if st.dirty {
			identities = append(identities, st.row)
			st.dirty = false
		}
	}
	var conversations []model.Conversation
	for _, st := range e.conversations {
		if st.dirty {
			conversations = append(conversations, st.row)
			st.dirty = false
		}
	}
	var messages []model.Message
	for id, rec := range e.messages {
		if rec.inflight {
			continue
		}
		row := rec.msg
		if err := row.SetEnvelope(rec.env); err != nil {
			log.Error("Flush: dropping message with unencodable envelope", "id", id, "err", err)
			delete(e.messages, id)
			continue
		}
		rec.inflight = true
		messages = append(messages, row)
	}
	return identities, conversations, messages
}

func (e *Engine) flushIdentities(ctx context.Context, rows []model.Identity) error {
	for start := 0; start < len(rows); start += e.identityBatch {
		chunk := rows[start:min(start+e.identityBatch, len(rows))]
		if err := e.store.UpsertIdentities(ctx, chunk); err != nil {
			e.markIdentitiesDirty(rows[start:])
			return fmt.Errorf("flush identities: %w", err)
		}
		telemetry.AddFlushedRows("identities", len(chunk))
	}
	return nil
}

// flushConversations writes only conversations with at least one message in
// memory, in this flush, or in the store. The rest stay dirty.
func (e *Engine) flushConversations(ctx context.Context, rows []model.Conversation, messages []model.Message) error {
	if len(rows) == 0 {
		return nil
	}
	owning := make(map[string]bool)
	for _, m := range messages {
		owning[m.ConversationAddress] = true
	}
	e.mu.Lock()
	var unknown []string
	for _, r := range rows {
		if st := e.conversations[r.Address]; st != nil && st.hasMessages {
			owning[r.Address] = true
		}
		if !owning[r.Address] {
			unknown = append(unknown, r.Address)
		}
	}
	e.mu.Unlock()

	if len(unknown) > 0 {
		durable, err := e.store.ConversationsWithMessages(ctx, e.sessionID, unknown)
		if err != nil {
			e.markConversationsDirty(rows)
			return fmt.Errorf("flush conversations: %w", err)
		}
		for addr := range durable {
			owning[addr] = true
		}
	}

	var write, hold []model.Conversation
	for _, r := range rows {
		if owning[r.Address] {
			write = append(write, r)
		} else {
			hold = append(hold, r)
		}
	}
	e.markConversationsDirty(hold)
	for start := 0; start < len(write); start += e.conversationBatch {
		chunk := write[start:min(start+e.conversationBatch, len(write))]
		if err := e.store.UpsertConversations(ctx, chunk); err != nil {
			e.markConversationsDirty(write[start:])
			return fmt.Errorf("flush conversations: %w", err)
		}
		telemetry.AddFlushedRows("conversations", len(chunk))
	}
	return nil
}

// flushMessages inserts messages in chunks. After each chunk commits its
// records leave memory and their pending patches are replayed.
func (e *Engine) flushMessages(ctx context.Context, rows []model.Message) error {
	for start := 0; start < len(rows); start += e.messageBatch {
		chunk := rows[start:min(start+e.messageBatch, len(rows))]
		inserted, err := e.store.InsertMessages(ctx, chunk)
		if err != nil {
			rest := messageIDs(rows[start:])
			e.releaseInflight(rest)
			e.discardInMemoryPatches(rest)
			e.clearDropped(rest)
			return fmt.Errorf("flush messages: %w", err)
		}
		telemetry.AddFlushedRows("messages", int(inserted))
		ids := messageIDs(chunk)
		e.evict(ids)
		e.replayPending(ctx, ids)
		e.deleteDropped(ctx, ids)
	}
	return nil
}

// deleteDropped removes rows that were deleted while their insert was in
// flight.
func (e *Engine) deleteDropped(ctx context.Context, ids []string) {
	e.mu.Lock()
	var gone []string
	for _, id := range ids {
		if _, ok := e.dropped[id]; ok {
			delete(e.dropped, id)
			gone = append(gone, id)
		}
	}
	e.mu.Unlock()
	for _, id := range gone {
		if err := e.store.DeleteMessage(ctx, e.sessionID, id); err != nil {
			log.Error("Flush: delete of dropped message failed", "id", id, "err", err)
		}
	}
}

func messageIDs(rows []model.Message) []string {
	ids := make([]string, len(rows))
	for i, m := range rows {
		ids[i] = m.ID
	}
	return ids
}

func (e *Engine) evict(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		if rec := e.messages[id]; rec != nil && rec.inflight {
			delete(e.messages, id)
		}
	}
}

func (e *Engine) clearDropped(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		delete(e.dropped, id)
	}
}

func (e *Engine) releaseInflight(ids []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range ids {
		if rec := e.messages[id]; rec != nil {
			rec.inflight = false
		}
	}
}

func (e *Engine) markIdentitiesDirty(rows []model.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range rows {
		if st := e.identities[r.Address]; st != nil {
			st.dirty = true
		}
	}
}

func (e *Engine) markConversationsDirty(rows []model.Conversation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range rows {
		if st := e.conversations[r.Address]; st != nil {
			st.dirty = true
		}
	}
}
