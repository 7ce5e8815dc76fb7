package mirror

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/content"
	"github.com/chirino/chat-mirror/internal/model"
	"github.com/chirino/chat-mirror/internal/transport"
)

// applyUpdates demultiplexes messages.update entries: edit, star, revoke,
// other control payloads through the transition table, and finally a merge
// of a replacement payload.
func (e *Engine) applyUpdates(ctx context.Context, updates []transport.MessageUpdate) {
	for _, up := range updates {
		if err := e.applyUpdate(ctx, up); err != nil {
			log.Error("Mirror: message update failed", "id", up.Key.ID, "err", err)
		}
	}
}

func (e *Engine) applyUpdate(ctx context.Context, up transport.MessageUpdate) error {
	u := content.Unwrap(up.Update.Message)
	ts := up.Update.MessageTimestamp
	asMessage := func() transport.WebMessage {
		return transport.WebMessage{
			Key:              up.Key,
			Message:          up.Update.Message,
			MessageTimestamp: ts,
			PushName:         up.Update.PushName,
		}
	}

	if u != nil {
		if _, ok := editPayload(u, ts, e.nowMs()); ok {
			e.upsertMessage(ctx, asMessage())
			return nil
		}
	}
	if up.Update.Starred != nil {
		if applied, err := e.setStarred(ctx, up.Key.ID, *up.Update.Starred, nil); err != nil || applied {
			return err
		}
	}
	if u != nil && u.Protocol != nil && u.Protocol.Type != nil && *u.Protocol.Type == transport.ProtocolRevoke {
		target := up.Key
		if u.Protocol.Key != nil && u.Protocol.Key.ID != "" {
			target = *u.Protocol.Key
		}
		by, ok := e.resolver.CanonicalizeUser(firstNonEmpty(up.Key.Participant, up.Key.RemoteAddress))
		if up.Key.FromMe || !ok {
			by = firstNonEmpty(e.selfAddress(), by)
		}
		return e.revoke(ctx, target, up.Key.FromMe, by)
	}
	// Reactions, pins, poll votes and non-content payloads never replace the
	// stored payload.
	if u != nil && (demux(u, ts, e.nowMs()).kind != transitionNew || !content.Classify(u).IsStorable()) {
		e.upsertMessage(ctx, asMessage())
		return nil
	}
	if up.Update.Message == nil || up.Key.ID == "" {
		return nil
	}
	return e.merge(ctx, up.Key.ID, up.Update.Message, up.Update.PushName)
}

// merge overlays a replacement payload onto a record that was neither
// edited nor tombstoned.
func (e *Engine) merge(ctx context.Context, id string, replacement *transport.Message, pushName string) error {
	u := content.Unwrap(replacement)
	kind := content.Classify(u)
	body := content.PreviewText(u, kind)
	now := e.nowSec()
	res, err := e.applyPatch(ctx, id, "merge", true, func(msg *model.Message, env *model.Envelope) bool {
		if env.Tombstoned() || env.Edited() || !kind.IsStorable() {
			return false
		}
		env.Message = replacement
		env.PushName = firstNonEmpty(pushName, env.PushName)
		msg.Kind = string(kind)
		msg.Body = body
		msg.UpdatedAtSec = now
		return true
	})
	if err != nil {
		return fmt.Errorf("merge message %s: %w", id, err)
	}
	if res.outcome == patchApplied {
		return e.refreshPreviewIfLatest(ctx, res.conversation, id)
	}
	return nil
}
