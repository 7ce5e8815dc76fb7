package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/content"
	"github.com/chirino/chat-mirror/internal/identity"
	"github.com/chirino/chat-mirror/internal/model"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/telemetry"
	"github.com/chirino/chat-mirror/internal/transport"
)

// ConversationInfo is the detail view of one conversation.
type ConversationInfo struct {
	Address         string  `json:"id"`
	Name            string  `json:"name"`
	IsGroup         bool    `json:"isGroup"`
	UnreadCount     int     `json:"unreadCount"`
	LastMessage     *string `json:"lastMessage,omitempty"`
	LastMessageTS   int64   `json:"lastMessageTs"`
	EphemeralExpiry int64   `json:"ephemeralExpiry"`
	CreatedAtSec    int64   `json:"createdAtSec"`
}

// MediaLocation says where decrypted media was stored.
type MediaLocation struct {
	URL           string `json:"url"`
	StorageKey    string `json:"storageKey,omitempty"`
	StorageDriver string `json:"storageDriver,omitempty"`
}

// GetMessage returns a message from memory, the read cache, or the store.
func (e *Engine) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	e.mu.Lock()
	if rec := e.messages[id]; rec != nil {
		row := rec.msg
		err := row.SetEnvelope(rec.env)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return &row, nil
	}
	e.mu.Unlock()

	if e.cache != nil {
		cached, err := e.cache.Get(ctx, e.sessionID, id)
		if err != nil {
			log.Warn("Mirror: cache read failed", "id", id, "err", err)
		}
		if cached != nil {
			telemetry.CacheHit()
			return cached, nil
		}
		telemetry.CacheMiss()
	}

	row, err := e.store.GetMessage(ctx, e.sessionID, id)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		if err := e.cache.Set(ctx, *row, e.cacheTTL); err != nil {
			log.Warn("Mirror: cache write failed", "id", id, "err", err)
		}
	}
	return row, nil
}

// ListConversations pages durable conversations, never listing the session owner.
func (e *Engine) ListConversations(ctx context.Context, query registrystore.ConversationQuery) (*registrystore.ConversationPage, error) {
	if self := e.selfAddress(); self != "" {
		query.Exclude = append(append([]string(nil), query.Exclude...), self)
	}
	return e.store.ListConversations(ctx, e.sessionID, query)
}

// ListMessages pages the timeline of address, newest first. Invalid
// addresses and the owner's own address yield an empty page.
func (e *Engine) ListMessages(ctx context.Context, address string, query registrystore.MessageQuery) (*registrystore.MessagePage, error) {
	addr, ok := e.resolver.Canonicalize(address)
	if !ok || addr == e.selfAddress() {
		return &registrystore.MessagePage{Items: []model.Message{}}, nil
	}
	return e.store.ListMessages(ctx, e.sessionID, addr, query)
}

// GetConversationInfo returns the conversation detail, or defaults when the
// conversation was never mirrored.
func (e *Engine) GetConversationInfo(ctx context.Context, address string) (*ConversationInfo, error) {
	addr, ok := e.resolver.Canonicalize(address)
	if !ok {
		return nil, &registrystore.ValidationError{Field: "address", Message: fmt.Sprintf("unaddressable conversation %q", address)}
	}

	var row *model.Conversation
	e.mu.Lock()
	if st := e.conversations[addr]; st != nil {
		r := st.row
		row = &r
	}
	e.mu.Unlock()
	if row == nil {
		stored, err := e.store.GetConversation(ctx, e.sessionID, addr)
		var nf *registrystore.NotFoundError
		switch {
		case errors.As(err, &nf):
			return &ConversationInfo{
				Address: addr,
				Name:    firstNonEmpty(e.identityName(ctx, addr), fallbackName(addr)),
				IsGroup: identity.IsGroup(addr),
			}, nil
		case err != nil:
			return nil, err
		}
		row = stored
	}

	return &ConversationInfo{
		Address:         addr,
		Name:            firstNonEmpty(e.identityName(ctx, addr), row.Name, fallbackName(addr)),
		IsGroup:         row.IsGroup,
		UnreadCount:     row.UnreadCount,
		LastMessage:     row.LastMessage,
		LastMessageTS:   row.LastMessageTS,
		EphemeralExpiry: row.EphemeralExpiry,
		CreatedAtSec:    row.CreatedAtSec,
	}, nil
}

func (e *Engine) identityName(ctx context.Context, addr string) string {
	e.mu.Lock()
	st := e.identities[addr]
	var name string
	if st != nil {
		name = st.row.DisplayName()
	}
	e.mu.Unlock()
	if name != "" {
		return name
	}
	if row, err := e.store.GetIdentity(ctx, e.sessionID, addr); err == nil {
		return row.DisplayName()
	}
	return ""
}

// RecomputeConversationPreview resets the preview of address from its most
// recent message, in memory or durable.
func (e *Engine) RecomputeConversationPreview(ctx context.Context, address string) error {
	addr, ok := e.resolver.Canonicalize(address)
	if !ok {
		return &registrystore.ValidationError{Field: "address", Message: fmt.Sprintf("unaddressable conversation %q", address)}
	}
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	return e.recomputePreview(ctx, addr, "")
}

// refreshPreviewIfLatest recomputes the preview of conv only when id is its
// most recent message.
func (e *Engine) refreshPreviewIfLatest(ctx context.Context, conv, id string) error {
	if conv == "" {
		return nil
	}
	return e.recomputePreview(ctx, conv, id)
}

func (e *Engine) recomputePreview(ctx context.Context, conv, onlyIfLatest string) error {
	latest, env, err := e.latestMessage(ctx, conv)
	if err != nil {
		return err
	}
	if onlyIfLatest != "" && (latest == nil || latest.ID != onlyIfLatest) {
		return nil
	}

	var preview *string
	var ts int64
	if latest != nil {
		p := previewOf(latest, env)
		if p == "" && env != nil && env.Tombstoned() {
			p = content.DeletedOnRedelivery
		}
		preview, ts = &p, latest.TimestampSec
	}

	e.mu.Lock()
	if st := e.conversations[conv]; st != nil {
		st.row.LastMessage = preview
		st.row.LastMessageTS = ts
		st.row.UpdatedAtSec = e.nowSec()
		st.dirty = true
	}
	e.mu.Unlock()
	return e.store.UpdateConversationPreview(ctx, e.sessionID, conv, preview, ts)
}

// latestMessage picks the newer of the latest unflushed record and the
// latest durable row of conv. Memory wins ties.
func (e *Engine) latestMessage(ctx context.Context, conv string) (*model.Message, *model.Envelope, error) {
	var mem *model.Message
	var memEnv *model.Envelope
	e.mu.Lock()
	for _, rec := range e.messages {
		if rec.msg.ConversationAddress != conv {
			continue
		}
		if mem == nil || rec.msg.TimestampSec > mem.TimestampSec ||
			(rec.msg.TimestampSec == mem.TimestampSec && rec.msg.ID > mem.ID) {
			m := rec.msg
			mem, memEnv = &m, rec.env
		}
	}
	e.mu.Unlock()

	durable, err := e.store.LatestMessage(ctx, e.sessionID, conv)
	var nf *registrystore.NotFoundError
	if errors.As(err, &nf) {
		return mem, memEnv, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if mem != nil && mem.TimestampSec >= durable.TimestampSec {
		return mem, memEnv, nil
	}
	env, err := durable.Envelope()
	if err != nil {
		return nil, nil, err
	}
	return durable, env, nil
}

// SetStarred toggles the starred flag of a message. It reports whether the
// message changed; mutations for unknown ids are queued. Deleted messages
// yield a ConflictError.
func (e *Engine) SetStarred(ctx context.Context, id string, starred bool) (bool, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	var deleted bool
	changed, err := e.setStarred(ctx, id, starred, &deleted)
	if err == nil && deleted {
		return false, deletedConflict(id)
	}
	return changed, err
}

func (e *Engine) setStarred(ctx context.Context, id string, starred bool, deleted *bool) (bool, error) {
	if id == "" {
		return false, nil
	}
	now := e.nowSec()
	res, err := e.applyPatch(ctx, id, "star", false, func(_ *model.Message, env *model.Envelope) bool {
		if env.Tombstoned() {
			if deleted != nil {
				*deleted = true
			}
			return false
		}
		if env.Starred == starred {
			return false
		}
		env.Starred = starred
		env.Meta.StarredAt = 0
		if starred {
			env.Meta.StarredAt = now
		}
		return true
	})
	return res.outcome == patchApplied, err
}

// SetMediaDecryptedLocation records where the decrypted media of a message
// was stored. It reports whether the message changed.
func (e *Engine) SetMediaDecryptedLocation(ctx context.Context, id string, loc MediaLocation) (bool, error) {
	if id == "" || loc.URL == "" {
		return false, &registrystore.ValidationError{Field: "url", Message: "media location requires a message id and url"}
	}
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	var deleted bool
	res, err := e.applyPatch(ctx, id, "media-location", false, func(_ *model.Message, env *model.Envelope) bool {
		if env.Tombstoned() {
			deleted = true
			return false
		}
		node := content.MediaNode(content.Unwrap(env.Message))
		if node == nil {
			return false
		}
		if node.URLDecrypt == loc.URL && node.StorageKey == loc.StorageKey && node.StorageDriver == loc.StorageDriver {
			return false
		}
		node.URLDecrypt = loc.URL
		node.StorageKey = loc.StorageKey
		node.StorageDriver = loc.StorageDriver
		return true
	})
	if err == nil && deleted {
		return false, deletedConflict(id)
	}
	return res.outcome == patchApplied, err
}

func deletedConflict(id string) *registrystore.ConflictError {
	return &registrystore.ConflictError{Code: "message_deleted", Message: fmt.Sprintf("message %s was deleted", id)}
}

// PurgeSelfAndBroadcastRows deletes conversations and messages addressed to
// the owner, the status broadcast, or any newsletter.
func (e *Engine) PurgeSelfAndBroadcastRows(ctx context.Context) (int64, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	exact := []string{identity.StatusBroadcast}
	if self := e.selfAddress(); self != "" {
		exact = append(exact, self)
		e.mu.Lock()
		delete(e.conversations, self)
		for id, rec := range e.messages {
			if rec.msg.ConversationAddress == self {
				e.dropMessageLocked(id, rec)
			}
		}
		e.mu.Unlock()
	}
	suffixes := []string{identity.NewsletterSuffix}
	cached := e.cachedMessageIDs(ctx, exact, suffixes)
	n, err := e.store.PurgeAddresses(ctx, e.sessionID, exact, suffixes)
	if err != nil {
		return 0, fmt.Errorf("purge self and broadcast rows: %w", err)
	}
	for _, id := range cached {
		e.invalidate(ctx, id)
	}
	if n > 0 {
		log.Info("Mirror: purged self and broadcast rows", "rows", n)
	}
	return n, nil
}

// deleteMessages hard-deletes messages and recomputes the affected previews.
func (e *Engine) deleteMessages(ctx context.Context, keys []transport.Key) error {
	affected := make(map[string]bool)
	var errs []error
	for _, k := range keys {
		if k.ID == "" {
			continue
		}
		conv, _ := e.resolver.Canonicalize(k.RemoteAddress)
		e.mu.Lock()
		if rec := e.messages[k.ID]; rec != nil {
			conv = rec.msg.ConversationAddress
			e.dropMessageLocked(k.ID, rec)
		} else {
			e.dropPendingLocked(k.ID)
		}
		e.mu.Unlock()

		if err := e.store.DeleteMessage(ctx, e.sessionID, k.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		e.invalidate(ctx, k.ID)
		if conv != "" {
			affected[conv] = true
		}
	}
	for conv := range affected {
		if err := e.recomputePreview(ctx, conv, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dropMessageLocked removes an unflushed record. A record being inserted
// right now is remembered so the flush deletes it after the insert.
func (e *Engine) dropMessageLocked(id string, rec *messageRecord) {
	delete(e.messages, id)
	e.dropPendingLocked(id)
	if rec.inflight {
		e.dropped[id] = struct{}{}
	}
}
