package mirror

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/content"
	"github.com/chirino/chat-mirror/internal/identity"
	"github.com/chirino/chat-mirror/internal/model"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/transport"
	"github.com/google/uuid"
)

const systemIDPrefix = "sys_"

// upsertMessage routes one delivered message through the transition table.
func (e *Engine) upsertMessage(ctx context.Context, wm transport.WebMessage) {
	conv, ok := e.conversationOf(wm.Key)
	if !ok {
		log.Debug("Mirror: dropping message with unaddressable conversation", "remote", wm.Key.RemoteAddress, "id", wm.Key.ID)
		return
	}
	self := e.selfAddress()
	if conv == self && !e.knownConversation(ctx, conv) {
		return
	}
	sender := e.normalizeSender(&wm, conv, self)

	u := content.Unwrap(wm.Message)
	t := demux(u, wm.MessageTimestamp, e.nowMs())
	var err error
	switch t.kind {
	case transitionRevoke:
		err = e.revoke(ctx, t.target, wm.Key.FromMe, sender)
	case transitionEdit:
		err = e.edit(ctx, t, sender)
	case transitionReaction:
		err = e.react(ctx, t, sender)
	case transitionPin:
		err = e.pin(ctx, t, wm, conv, sender)
	case transitionPollVote:
		err = e.vote(ctx, t, sender)
	default:
		err = e.addMessage(ctx, wm, u, conv, sender)
	}
	if err != nil {
		log.Error("Mirror: message transition failed", "transition", t.kind, "id", wm.Key.ID, "err", err)
	}
}

// conversationOf canonicalizes the remote address of key, learning a 1:1
// alias from the phone number hints when the address is anonymized.
func (e *Engine) conversationOf(key transport.Key) (string, bool) {
	if addr, ok := e.resolver.Canonicalize(key.RemoteAddress); ok {
		return addr, true
	}
	if !identity.IsAlias(key.RemoteAddress) {
		return "", false
	}
	for _, hint := range []string{key.SenderPN, key.ParticipantPN} {
		if e.resolver.LearnAlias(key.RemoteAddress, hint) {
			return e.resolver.Canonicalize(key.RemoteAddress)
		}
	}
	return "", false
}

func (e *Engine) knownConversation(ctx context.Context, addr string) bool {
	e.mu.Lock()
	_, ok := e.conversations[addr]
	e.mu.Unlock()
	if ok {
		return true
	}
	_, err := e.store.GetConversation(ctx, e.sessionID, addr)
	return err == nil
}

// normalizeSender resolves the author of wm and rewrites its key in place:
// the remote address becomes canonical and the participant becomes the
// resolved author, keeping the delivered value in RawParticipant.
func (e *Engine) normalizeSender(wm *transport.WebMessage, conv, self string) string {
	key := &wm.Key
	hints := []string{key.ParticipantPN, wm.ParticipantPN, key.SenderPN}

	var sender string
	if key.FromMe && self != "" {
		sender = self
	} else {
		raw := firstNonEmpty(key.Participant, wm.Participant)
		if raw == "" && !identity.IsGroup(conv) {
			raw = key.RemoteAddress
		}
		if raw != "" && identity.IsAlias(raw) {
			for _, hint := range hints {
				if e.resolver.LearnAlias(raw, hint) {
					break
				}
			}
		}
		if s, ok := e.resolver.CanonicalizeUser(raw); ok {
			sender = s
		}
		for _, hint := range hints {
			if sender != "" {
				break
			}
			if s, ok := e.resolver.CanonicalizeUser(hint); ok {
				sender = s
			}
		}
		if sender == "" {
			sender = conv
		}
	}

	if strings.HasSuffix(sender, identity.PublicSuffix) {
		for _, alias := range []string{key.SenderAlias, key.ParticipantAlias, key.Alias, wm.SenderAlias, wm.ParticipantAlias} {
			e.resolver.LearnAlias(alias, sender)
		}
	}
	if key.Participant != "" || identity.IsGroup(conv) {
		if key.RawParticipant == "" {
			key.RawParticipant = key.Participant
		}
		key.Participant = sender
	}
	key.RemoteAddress = conv
	return sender
}

func (e *Engine) revoke(ctx context.Context, target transport.Key, bySelf bool, by string) error {
	placeholder := content.DeletedPlaceholder(bySelf)
	now := e.nowSec()
	res, err := e.applyPatch(ctx, target.ID, "revoke", true, func(msg *model.Message, env *model.Envelope) bool {
		if env.Tombstoned() {
			return false
		}
		if env.MessageBeforeDelete == nil {
			env.MessageBeforeDelete = env.Message
		}
		env.Message = nil
		env.DeletedAt = now
		env.DeleteEvent = &model.DeleteEvent{By: by, TS: now}
		env.Meta.DeletedBy = by
		env.Meta.DeletedBody = placeholder
		preview := placeholder
		env.EditedPreview = &preview
		msg.Kind = string(content.KindSystem)
		msg.Body = placeholder
		msg.UpdatedAtSec = now
		return true
	})
	if err != nil {
		return err
	}
	if res.outcome == patchApplied {
		return e.refreshPreviewIfLatest(ctx, res.conversation, target.ID)
	}
	return nil
}

func (e *Engine) edit(ctx context.Context, t transition, by string) error {
	u := content.Unwrap(t.edited)
	body := content.PreviewText(u, content.Classify(u))
	if body == "" {
		body = content.TextOf(u)
	}
	if body == "" {
		log.Debug("Mirror: ignoring edit without text", "id", t.target.ID)
		return nil
	}
	editedMs := t.editedMs
	res, err := e.applyPatch(ctx, t.target.ID, "edit", true, func(msg *model.Message, env *model.Envelope) bool {
		if env.Tombstoned() || editedMs <= env.LastEditedMs {
			return false
		}
		if env.MessageBeforeEdit == nil {
			env.MessageBeforeEdit = env.Message
		}
		env.EditEvents = append(env.EditEvents, model.EditEvent{
			TS:       editedMs,
			By:       by,
			Previous: msg.Body,
			Body:     body,
		})
		env.Message = t.edited
		env.LastEditedMs = editedMs
		env.LastEditedAt = editedMs / 1000
		preview := body
		env.EditedPreview = &preview
		msg.Body = body
		msg.UpdatedAtSec = editedMs / 1000
		return true
	})
	if err != nil {
		return err
	}
	if res.outcome == patchApplied {
		return e.refreshPreviewIfLatest(ctx, res.conversation, t.target.ID)
	}
	return nil
}

func (e *Engine) react(ctx context.Context, t transition, by string) error {
	text := t.reaction.Text
	ts := t.reaction.SenderTimestampMs / 1000
	if ts <= 0 {
		ts = e.nowSec()
	}
	_, err := e.applyPatch(ctx, t.target.ID, "reaction", false, func(_ *model.Message, env *model.Envelope) bool {
		if env.Tombstoned() {
			return false
		}
		return env.SetReaction(by, text, ts)
	})
	return err
}

func (e *Engine) pin(ctx context.Context, t transition, wm transport.WebMessage, conv, by string) error {
	pinned := t.pin.Type == transport.PinForAll
	now := e.nowSec()
	expiresAt := normalizeTimestamp(t.pin.ExpirationTimestamp)
	res, err := e.applyPatch(ctx, t.target.ID, "pin", false, func(_ *model.Message, env *model.Envelope) bool {
		if env.Tombstoned() {
			return false
		}
		if !pinned {
			if env.Meta.Pin == nil {
				return false
			}
			env.Meta.Pin = nil
			return true
		}
		env.Meta.Pin = &model.PinInfo{By: by, TS: now, ExpiresAt: expiresAt}
		return true
	})
	if err != nil || !pinned || res.outcome == patchSkipped {
		return err
	}

	id := systemIDPrefix + wm.Key.ID
	if wm.Key.ID == "" {
		id = systemIDPrefix + uuid.NewString()
	}
	who := "You"
	if by != e.selfAddress() {
		who = e.displayName(ctx, by)
	}
	body := fmt.Sprintf("[%s pinned a message]", who)
	env := &model.Envelope{
		Key: transport.Key{RemoteAddress: conv, ID: id, FromMe: wm.Key.FromMe, Participant: by},
		System: &model.SystemEvent{
			Type:   "pin",
			By:     by,
			Target: t.target.ID,
			TS:     now,
		},
	}
	return e.addIfAbsent(ctx, &messageRecord{
		msg: model.Message{
			SessionID:           e.sessionID,
			ID:                  id,
			ConversationAddress: conv,
			FromMe:              wm.Key.FromMe,
			SenderAddress:       by,
			Kind:                string(content.KindSystem),
			Body:                body,
			TimestampSec:        now,
			UpdatedAtSec:        now,
		},
		env: env,
	}, false, true)
}

// addMessage is the new/default transition: a content message joins the
// timeline unless its id is already known.
func (e *Engine) addMessage(ctx context.Context, wm transport.WebMessage, u *transport.Message, conv, sender string) error {
	id := wm.Key.ID
	if id == "" {
		log.Debug("Mirror: dropping message without id", "conversation", conv)
		return nil
	}
	kind := content.Classify(u)
	if !kind.IsStorable() {
		log.Debug("Mirror: skipping non-content message", "id", id, "type", content.ContentType(u))
		return nil
	}
	mentions := e.normalizeMentions(wm.Message)
	body := content.PreviewText(u, kind)
	now := e.nowSec()
	ts := normalizeTimestamp(wm.MessageTimestamp)
	if ts <= 0 {
		ts = now
	}
	defer e.touchAuthor(wm, conv, sender)

	known, preview, err := e.redeliver(ctx, wm, kind, body, mentions)
	if err != nil {
		return err
	}
	if known {
		return e.bumpConversation(ctx, conv, preview, ts)
	}

	env := &model.Envelope{
		Key:      wm.Key,
		Message:  wm.Message,
		PushName: wm.PushName,
		Starred:  wm.Starred,
	}
	env.Meta.Mentions = mentions
	if wm.Starred {
		env.Meta.StarredAt = now
	}
	return e.addIfAbsent(ctx, &messageRecord{
		msg: model.Message{
			SessionID:           e.sessionID,
			ID:                  id,
			ConversationAddress: conv,
			FromMe:              wm.Key.FromMe,
			SenderAddress:       sender,
			Kind:                string(kind),
			Body:                body,
			TimestampSec:        ts,
			UpdatedAtSec:        now,
		},
		env: env,
	}, !wm.Key.FromMe, false)
}

// redeliver handles a message id that was seen before. An unflushed record
// takes the fresh payload unless it was edited or tombstoned; a durable row
// is never rewritten. It returns the preview the conversation should show.
func (e *Engine) redeliver(ctx context.Context, wm transport.WebMessage, kind content.Kind, body string, mentions []string) (bool, string, error) {
	e.mu.Lock()
	if rec := e.messages[wm.Key.ID]; rec != nil {
		if !rec.inflight && !rec.env.Tombstoned() && !rec.env.Edited() {
			rec.env.Key = wm.Key
			rec.env.Message = wm.Message
			rec.env.PushName = firstNonEmpty(wm.PushName, rec.env.PushName)
			rec.env.Meta.Mentions = mentions
			rec.msg.Kind = string(kind)
			rec.msg.Body = body
		}
		preview := previewOf(&rec.msg, rec.env)
		e.mu.Unlock()
		return true, preview, nil
	}
	e.mu.Unlock()

	row, err := e.store.GetMessage(ctx, e.sessionID, wm.Key.ID)
	var nf *registrystore.NotFoundError
	if errors.As(err, &nf) {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("look up message %s: %w", wm.Key.ID, err)
	}
	env, err := row.Envelope()
	if err != nil {
		return false, "", err
	}
	if env.Tombstoned() {
		return true, content.DeletedOnRedelivery, nil
	}
	return true, previewOf(row, env), nil
}

// addIfAbsent stores rec as a new unflushed record and advances its
// conversation. Ids already in memory, or durable when checkDurable is set,
// are left alone.
func (e *Engine) addIfAbsent(ctx context.Context, rec *messageRecord, inbound, checkDurable bool) error {
	conv := rec.msg.ConversationAddress
	st, err := e.ensureConversation(ctx, conv)
	if err != nil {
		return err
	}
	if checkDurable {
		if _, err := e.store.GetMessage(ctx, e.sessionID, rec.msg.ID); err == nil {
			return nil
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.messages[rec.msg.ID]; dup {
		return nil
	}
	countUnread := inbound && rec.msg.Kind != string(content.KindSystem)
	e.messages[rec.msg.ID] = rec
	e.applyQueuedLocked(rec)
	st.hasMessages = true
	e.advancePreviewLocked(st, previewOf(&rec.msg, rec.env), rec.msg.TimestampSec)
	if countUnread {
		st.row.UnreadCount++
		st.dirty = true
	}
	return nil
}

func (e *Engine) bumpConversation(ctx context.Context, conv, preview string, ts int64) error {
	st, err := e.ensureConversation(ctx, conv)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.advancePreviewLocked(st, preview, ts)
	e.mu.Unlock()
	return nil
}

// advancePreviewLocked moves the conversation preview forward. An older
// message never replaces a newer preview.
func (e *Engine) advancePreviewLocked(st *conversationState, preview string, ts int64) {
	r := &st.row
	switch {
	case r.LastMessage == nil:
		r.LastMessageTS = max(r.LastMessageTS, ts)
	case ts < r.LastMessageTS:
		return
	default:
		r.LastMessageTS = ts
	}
	r.LastMessage = &preview
	r.UpdatedAtSec = e.nowSec()
	st.dirty = true
}

// touchAuthor records the push name of the message author: the participant
// in groups, the peer in 1:1 conversations.
func (e *Engine) touchAuthor(wm transport.WebMessage, conv, sender string) {
	if wm.Key.FromMe {
		return
	}
	addr := conv
	if identity.IsGroup(conv) {
		if !strings.HasSuffix(sender, identity.PublicSuffix) {
			return
		}
		addr = sender
	}
	e.touchIdentity(addr, identityUpdate{notify: wm.PushName, source: sourceMessage})
}

// previewOf is the text a message contributes to its conversation preview.
func previewOf(msg *model.Message, env *model.Envelope) string {
	if env != nil && env.EditedPreview != nil {
		return *env.EditedPreview
	}
	return msg.Body
}
