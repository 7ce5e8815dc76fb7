package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/identity"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/transport"
)

func (e *Engine) upsertContacts(contacts []transport.Contact, source string) {
	for _, c := range contacts {
		e.upsertContact(c, source)
	}
}

func (e *Engine) upsertContact(c transport.Contact, source string) {
	addr, ok := e.resolver.Canonicalize(c.ID)
	if !ok && c.Phone != "" {
		if digits := identity.NormalizePhoneDigits(c.Phone, e.countryCode); digits != "" {
			addr, ok = digits+identity.PublicSuffix, true
			e.resolver.LearnAlias(c.ID, addr)
		}
	}
	if !ok {
		log.Debug("Mirror: dropping contact", "id", c.ID)
		return
	}

	isMe := c.IsMe != nil && *c.IsMe
	if addr == e.selfAddress() && !isMe {
		return
	}
	for _, alias := range []string{c.Alias, c.AliasJID, c.AliasUser} {
		e.resolver.LearnAlias(alias, addr)
	}

	e.touchIdentity(addr, identityUpdate{
		name:         firstNonEmpty(c.Name, c.Subject),
		notify:       firstNonEmpty(c.Notify, c.PushName),
		verifiedName: c.VerifiedName,
		knownContact: c.IsMyContact != nil && *c.IsMyContact,
		isMe:         isMe,
		source:       source,
	})
}

func (e *Engine) upsertChats(ctx context.Context, chats []transport.Chat, allowSelf bool) error {
	var errs []error
	for _, ch := range chats {
		if err := e.upsertChat(ctx, ch, allowSelf); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) upsertChat(ctx context.Context, ch transport.Chat, allowSelf bool) error {
	addr, ok := e.resolver.Canonicalize(ch.ID)
	if !ok {
		log.Debug("Mirror: dropping chat", "id", ch.ID)
		return nil
	}
	if addr == e.selfAddress() && !allowSelf {
		return nil
	}
	st, err := e.ensureConversation(ctx, addr)
	if err != nil {
		return err
	}

	now := e.nowSec()
	e.mu.Lock()
	r := &st.row
	r.Name = firstNonEmpty(ch.Name, ch.Subject, ch.Notify, r.Name, fallbackName(addr))
	if ch.UnreadCount != nil && *ch.UnreadCount > r.UnreadCount {
		r.UnreadCount = *ch.UnreadCount
	}
	if ts := normalizeTimestamp(ch.ConversationTimestamp); ts > r.LastMessageTS {
		r.LastMessageTS = ts
	}
	if ch.EphemeralExpiration > 0 {
		r.EphemeralExpiry = ch.EphemeralExpiration
	}
	r.UpdatedAtSec = now
	st.dirty = true
	e.mu.Unlock()

	e.touchIdentity(addr, identityUpdate{
		name:         firstNonEmpty(ch.Name, ch.Subject),
		knownContact: ch.IsMyContact,
		source:       sourceChat,
	})
	return nil
}

// deleteConversations drops the conversations from memory and cascades the
// durable delete to their messages and identity rows.
func (e *Engine) deleteConversations(ctx context.Context, ids []string) error {
	var addrs []string
	for _, id := range ids {
		if addr, ok := e.resolver.Canonicalize(id); ok {
			addrs = append(addrs, addr)
		}
	}
	if len(addrs) == 0 {
		return nil
	}
	e.forget(addrs)
	cached := e.cachedMessageIDs(ctx, addrs, nil)
	if err := e.store.DeleteConversations(ctx, e.sessionID, addrs); err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	for _, id := range cached {
		e.invalidate(ctx, id)
	}
	log.Info("Mirror: deleted conversations", "count", len(addrs))
	return nil
}

// forget removes every memory trace of addrs, including unflushed messages
// and their pending patches.
func (e *Engine) forget(addrs []string) {
	drop := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		drop[a] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range addrs {
		delete(e.conversations, a)
		delete(e.identities, a)
	}
	for id, rec := range e.messages {
		if drop[rec.msg.ConversationAddress] {
			e.dropMessageLocked(id, rec)
		}
	}
}

func (e *Engine) applyParticipants(ctx context.Context, ev transport.GroupParticipantsUpdate) error {
	group, ok := e.resolver.Canonicalize(ev.ID)
	if !ok || !identity.IsGroup(group) {
		log.Debug("Mirror: dropping participants update", "id", ev.ID)
		return nil
	}

	self := e.selfAddress()
	selfRemoved := false
	for _, p := range ev.Participants {
		addr, ok := e.resolver.CanonicalizeUser(p.ID)
		if !ok {
			continue
		}
		e.resolver.LearnAlias(p.ID, addr)
		e.resolver.LearnAlias(p.Alias, addr)
		e.resolver.LearnAlias(p.AliasJID, addr)
		if addr == self {
			selfRemoved = ev.Action == "remove"
			continue
		}
		e.touchIdentity(addr, identityUpdate{source: sourceParticipants})
	}

	if !selfRemoved {
		return nil
	}
	e.mu.Lock()
	delete(e.identities, group)
	e.mu.Unlock()
	err := e.store.DeleteIdentity(ctx, e.sessionID, group)
	var nf *registrystore.NotFoundError
	if err != nil && !errors.As(err, &nf) {
		return fmt.Errorf("delete group identity %s: %w", group, err)
	}
	return nil
}
