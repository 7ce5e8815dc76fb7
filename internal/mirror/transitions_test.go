package mirror_test

import (
	"crypto/sha256"
	"testing"

	"github.com/chirino/chat-mirror/internal/content"
	"github.com/chirino/chat-mirror/internal/model"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func editOf(id, remote string, fromMe bool, target string, tsMs int64, body string) transport.WebMessage {
	return transport.WebMessage{
		Key: transport.Key{RemoteAddress: remote, ID: id, FromMe: fromMe},
		Message: &transport.Message{Protocol: &transport.ProtocolMessage{
			Key:           &transport.Key{RemoteAddress: remote, ID: target, FromMe: fromMe},
			Type:          ptr(transport.ProtocolMessageEdit),
			EditedMessage: &transport.Message{Conversation: body},
			TimestampMs:   tsMs,
		}},
	}
}

func revokeOf(id, remote string, fromMe bool, target string) transport.WebMessage {
	return transport.WebMessage{
		Key: transport.Key{RemoteAddress: remote, ID: id, FromMe: fromMe},
		Message: &transport.Message{Protocol: &transport.ProtocolMessage{
			Key:  &transport.Key{RemoteAddress: remote, ID: target},
			Type: ptr(transport.ProtocolRevoke),
		}},
	}
}

func reactionOf(id, remote string, fromMe bool, target, emoji string) transport.WebMessage {
	return transport.WebMessage{
		Key: transport.Key{RemoteAddress: remote, ID: id, FromMe: fromMe},
		Message: &transport.Message{Reaction: &transport.ReactionMessage{
			Key:               transport.Key{RemoteAddress: remote, ID: target},
			Text:              emoji,
			SenderTimestampMs: 1_700_000_300_000,
		}},
	}
}

func voteOf(id, voter, poll string, refs ...[]byte) transport.WebMessage {
	return transport.WebMessage{
		Key: transport.Key{RemoteAddress: group, ID: id, Participant: voter},
		Message: &transport.Message{PollUpdate: &transport.PollUpdateMessage{
			PollCreationMessageKey: transport.Key{RemoteAddress: group, ID: poll},
			Vote:                   &transport.PollVote{SelectedOptions: refs},
			SenderTimestampMs:      1_700_000_400_000,
		}},
	}
}

func TestEdit_NewestWins(t *testing.T) {
	h := setup(t)
	h.apply(upsert(text("m1", alice, true, 1_700_000_100, "first")))
	h.flush(t)

	h.apply(upsert(editOf("e2", alice, true, "m1", 1_700_000_200_000, "second")))
	h.apply(upsert(editOf("e1", alice, true, "m1", 1_700_000_150_000, "stale")))
	h.flush(t)

	msg, env := h.message(t, "m1")
	assert.Equal(t, "second", msg.Body)
	require.Len(t, env.EditEvents, 1)
	assert.Equal(t, "first", env.EditEvents[0].Previous)
	assert.Equal(t, self, env.EditEvents[0].By)
	require.NotNil(t, env.MessageBeforeEdit)
	assert.Equal(t, "first", env.MessageBeforeEdit.Conversation)
	assert.Equal(t, int64(1_700_000_200_000), env.LastEditedMs)
	assert.Equal(t, "second", env.Message.Conversation)

	info := h.info(t, alice)
	require.NotNil(t, info.LastMessage)
	assert.Equal(t, "second", *info.LastMessage)

	_, err := h.e.GetMessage(h.ctx, "e2")
	var nf *registrystore.NotFoundError
	assert.ErrorAs(t, err, &nf, "edit frames are not stored as messages")
}

func TestEdit_WrappedShape(t *testing.T) {
	h := setup(t)
	h.apply(upsert(text("m1", alice, false, 1_700_000_100, "typo")))
	h.apply(upsert(transport.WebMessage{
		Key: transport.Key{RemoteAddress: alice, ID: "e1"},
		Message: &transport.Message{EditedMessage: &transport.FutureProofMessage{
			Message: &transport.Message{Protocol: &transport.ProtocolMessage{
				Key:           &transport.Key{RemoteAddress: alice, ID: "m1"},
				Type:          ptr(transport.ProtocolMessageEdit),
				EditedMessage: &transport.Message{Conversation: "fixed"},
			}},
		}},
		MessageTimestamp: 1_700_000_200,
	}))
	h.flush(t)

	msg, env := h.message(t, "m1")
	assert.Equal(t, "fixed", msg.Body)
	assert.Equal(t, int64(1_700_000_200_000), env.LastEditedMs)
}

func TestRevoke_IsFinal(t *testing.T) {
	h := setup(t)
	h.apply(upsert(text("m1", alice, false, 1_700_000_100, "secret")))
	h.flush(t)

	h.apply(upsert(revokeOf("r1", alice, false, "m1")))
	h.apply(upsert(editOf("e1", alice, false, "m1", 1_700_000_300_000, "after")))
	h.apply(upsert(reactionOf("x1", alice, true, "m1", "👍")))
	h.apply(upsert(text("m1", alice, false, 1_700_000_100, "secret")))
	h.flush(t)

	msg, env := h.message(t, "m1")
	assert.Equal(t, content.DeletedByOther, msg.Body)
	assert.Equal(t, string(content.KindSystem), msg.Kind)
	assert.True(t, env.Tombstoned())
	assert.Nil(t, env.Message)
	assert.Empty(t, env.EditEvents)
	assert.Empty(t, env.Meta.Reactions)
	assert.Equal(t, alice, env.Meta.DeletedBy)
	require.NotNil(t, env.MessageBeforeDelete)
	assert.Equal(t, "secret", env.MessageBeforeDelete.Conversation)
	assert.Nil(t, env.Redacted().MessageBeforeDelete)

	info := h.info(t, alice)
	require.NotNil(t, info.LastMessage)
	assert.Equal(t, content.DeletedOnRedelivery, *info.LastMessage)
}

func TestRevoke_BySelfInMemory(t *testing.T) {
	h := setup(t)
	h.apply(upsert(text("m1", alice, true, 1_700_000_100, "oops")))
	h.apply(upsert(revokeOf("r1", alice, true, "m1")))
	h.flush(t)

	msg, env := h.message(t, "m1")
	assert.Equal(t, content.DeletedBySelf, msg.Body)
	assert.Equal(t, self, env.Meta.DeletedBy)

	info := h.info(t, alice)
	require.NotNil(t, info.LastMessage)
	assert.Equal(t, content.DeletedBySelf, *info.LastMessage)
}

func TestReaction_OnePerSender(t *testing.T) {
	h := setup(t)
	h.apply(upsert(text("m1", alice, false, 1_700_000_100, "hi")))
	h.apply(
		upsert(reactionOf("x1", alice, false, "m1", "👍")),
		upsert(reactionOf("x2", alice, false, "m1", "👍")),
		upsert(reactionOf("x3", alice, true, "m1", "❤️")),
	)
	h.flush(t)

	_, env := h.message(t, "m1")
	assert.Len(t, env.Meta.Reactions, 2)

	h.apply(
		upsert(reactionOf("x4", alice, false, "m1", "🔥")),
		upsert(reactionOf("x5", alice, true, "m1", "")),
	)
	h.flush(t)

	_, env = h.message(t, "m1")
	require.Len(t, env.Meta.Reactions, 1)
	assert.Equal(t, alice, env.Meta.Reactions[0].By)
	assert.Equal(t, "🔥", env.Meta.Reactions[0].Text)
	assert.Equal(t, int64(1_700_000_300), env.Meta.Reactions[0].TS)
}

func TestPoll_LatestVotePerVoter(t *testing.T) {
	h := setup(t)
	h.apply(upsert(transport.WebMessage{
		Key: transport.Key{RemoteAddress: group, ID: "poll1", FromMe: true},
		Message: &transport.Message{PollCreation: &transport.PollCreationMessage{
			Name:                   "Lunch?",
			Options:                []transport.PollOption{{OptionName: "pizza"}, {OptionName: "sushi"}, {OptionName: "tacos"}},
			SelectableOptionsCount: 1,
		}},
		MessageTimestamp: 1_700_000_100,
	}))
	pizza := sha256.Sum256([]byte("pizza"))
	h.apply(
		upsert(voteOf("v1", alice, "poll1", pizza[:])),
		upsert(voteOf("v2", bob, "poll1", []byte("sushi"))),
	)
	h.flush(t)

	h.apply(
		upsert(voteOf("v3", alice, "poll1", []byte("1"))),
		upsert(voteOf("v4", bob, "poll1")),
		upsert(voteOf("v5", alice, "poll1", []byte("nope"))),
	)
	h.flush(t)

	msg, env := h.message(t, "poll1")
	assert.Equal(t, string(content.KindPoll), msg.Kind)
	require.Len(t, env.Meta.PollResults, 3)
	byName := map[string]model.PollResult{}
	for _, r := range env.Meta.PollResults {
		byName[r.Name] = r
	}
	assert.Equal(t, 0, byName["pizza"].Count)
	assert.Equal(t, []string{alice}, byName["sushi"].Voters)
	assert.Equal(t, 0, byName["tacos"].Count)

	require.NotNil(t, env.Meta.PollState)
	assert.Equal(t, map[string][]string{alice: {"sushi"}}, env.Meta.PollState.LatestByVoter)
	assert.Len(t, env.PollUpdates, 4)
	require.Len(t, env.Meta.PollEvents, 4)
	assert.Equal(t, []string{"pizza"}, env.Meta.PollEvents[2].Previous)
	assert.Equal(t, []string{"sushi"}, env.Meta.PollEvents[2].Selected)
}

func TestPin_AddsSystemNotice(t *testing.T) {
	h := setup(t)
	h.apply(upsert(groupText("m1", alice, 1_700_000_100, "pin me", "Alice")))
	h.apply(upsert(transport.WebMessage{
		Key: transport.Key{RemoteAddress: group, ID: "p1", FromMe: true},
		Message: &transport.Message{PinInChat: &transport.PinInChatMessage{
			Key:  transport.Key{RemoteAddress: group, ID: "m1"},
			Type: transport.PinForAll,
		}},
	}))
	h.flush(t)

	h.apply(upsert(transport.WebMessage{
		Key: transport.Key{RemoteAddress: group, ID: "p2", Participant: alice},
		Message: &transport.Message{PinInChat: &transport.PinInChatMessage{
			Key:  transport.Key{RemoteAddress: group, ID: "m1"},
			Type: transport.PinForAll,
		}},
	}))
	h.flush(t)

	_, env := h.message(t, "m1")
	require.NotNil(t, env.Meta.Pin)
	assert.Equal(t, alice, env.Meta.Pin.By)

	notice, noticeEnv := h.message(t, "sys_p1")
	assert.Equal(t, "[You pinned a message]", notice.Body)
	assert.Equal(t, string(content.KindSystem), notice.Kind)
	require.NotNil(t, noticeEnv.System)
	assert.Equal(t, "pin", noticeEnv.System.Type)
	assert.Equal(t, "m1", noticeEnv.System.Target)

	notice, _ = h.message(t, "sys_p2")
	assert.Equal(t, "[Alice pinned a message]", notice.Body)

	assert.Equal(t, 1, h.info(t, group).UnreadCount)

	h.apply(upsert(transport.WebMessage{
		Key: transport.Key{RemoteAddress: group, ID: "p3", FromMe: true},
		Message: &transport.Message{PinInChat: &transport.PinInChatMessage{
			Key:  transport.Key{RemoteAddress: group, ID: "m1"},
			Type: transport.UnpinForAll,
		}},
	}))
	h.flush(t)

	_, env = h.message(t, "m1")
	assert.Nil(t, env.Meta.Pin)
	_, err := h.e.GetMessage(h.ctx, "sys_p3")
	var nf *registrystore.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestUpdates_StarMergeAndRevoke(t *testing.T) {
	h := setup(t)
	h.apply(upsert(
		text("m1", alice, false, 1_700_000_100, "star me"),
		text("m2", alice, false, 1_700_000_101, "pending"),
		text("m3", alice, true, 1_700_000_102, "draft"),
	))
	h.apply(upsert(editOf("e3", alice, true, "m3", 1_700_000_200_000, "final")))
	h.flush(t)

	h.apply(transport.MessagesUpdate{Updates: []transport.MessageUpdate{
		{Key: transport.Key{RemoteAddress: alice, ID: "m1"}, Update: transport.UpdateContent{Starred: ptr(true)}},
		{Key: transport.Key{RemoteAddress: alice, ID: "m2"}, Update: transport.UpdateContent{Message: &transport.Message{Conversation: "delivered"}}},
		{Key: transport.Key{RemoteAddress: alice, ID: "m3", FromMe: true}, Update: transport.UpdateContent{Message: &transport.Message{Conversation: "overwritten"}}},
	}})
	h.flush(t)

	_, env := h.message(t, "m1")
	assert.True(t, env.Starred)

	msg, _ := h.message(t, "m2")
	assert.Equal(t, "delivered", msg.Body)

	msg, _ = h.message(t, "m3")
	assert.Equal(t, "final", msg.Body)

	h.apply(transport.MessagesUpdate{Updates: []transport.MessageUpdate{{
		Key: transport.Key{RemoteAddress: alice, ID: "m1"},
		Update: transport.UpdateContent{Message: &transport.Message{Protocol: &transport.ProtocolMessage{
			Type: ptr(transport.ProtocolRevoke),
		}}},
	}}})
	h.flush(t)

	msg, env = h.message(t, "m1")
	assert.True(t, env.Tombstoned())
	assert.Equal(t, content.DeletedByOther, msg.Body)

	applied, err := h.e.SetStarred(h.ctx, "m1", false)
	var conflict *registrystore.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "message_deleted", conflict.Code)
	assert.False(t, applied, "tombstoned messages keep their flags")
	_, env = h.message(t, "m1")
	assert.True(t, env.Starred)
}

func TestUpdates_ControlPayloadsKeepStoredMessage(t *testing.T) {
	h := setup(t)
	h.apply(upsert(text("m1", alice, false, 1_700_000_100, "hi")))
	h.flush(t)

	key := transport.Key{RemoteAddress: alice, ID: "m1"}
	h.apply(transport.MessagesUpdate{Updates: []transport.MessageUpdate{
		{Key: key, Update: transport.UpdateContent{Message: &transport.Message{
			Reaction: &transport.ReactionMessage{Key: key, Text: "👍", SenderTimestampMs: 1_700_000_300_000},
		}}},
		{Key: key, Update: transport.UpdateContent{Message: &transport.Message{
			SenderKeyDistribution: &transport.SenderKeyDistributionMessage{GroupID: group},
		}}},
	}})
	h.flush(t)

	msg, env := h.message(t, "m1")
	assert.Equal(t, "hi", msg.Body)
	require.NotNil(t, env.Message)
	assert.Equal(t, "hi", env.Message.Conversation)
	require.Len(t, env.Meta.Reactions, 1)
	assert.Equal(t, "👍", env.Meta.Reactions[0].Text)
	assert.Equal(t, alice, env.Meta.Reactions[0].By)
}

func TestDelete_RecomputesPreview(t *testing.T) {
	h := setup(t)
	h.apply(upsert(
		text("m1", alice, false, 1_700_000_100, "older"),
		text("m2", alice, false, 1_700_000_200, "newer"),
	))
	h.flush(t)

	h.apply(transport.MessagesDelete{Keys: []transport.Key{{RemoteAddress: alice, ID: "m2"}}})

	_, err := h.e.GetMessage(h.ctx, "m2")
	var nf *registrystore.NotFoundError
	assert.ErrorAs(t, err, &nf)

	info := h.info(t, alice)
	require.NotNil(t, info.LastMessage)
	assert.Equal(t, "older", *info.LastMessage)
	assert.Equal(t, int64(1_700_000_100), info.LastMessageTS)
}
