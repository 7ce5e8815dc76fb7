package model

import (
	"encoding/json"
	"testing"

	"github.com/chirino/chat-mirror/internal/transport"
	"github.com/stretchr/testify/require"
)

func TestSetReaction_LastWriteWinsAndEmptyRemoves(t *testing.T) {
	env := &Envelope{}
	env.SetReaction("a@s.whatsapp.net", "👍", 1)
	env.SetReaction("b@s.whatsapp.net", "😂", 2)
	require.True(t, env.SetReaction("a@s.whatsapp.net", "❤️", 3))
	require.False(t, env.SetReaction("a@s.whatsapp.net", "❤️", 4))
	require.Len(t, env.Meta.Reactions, 2)
	require.Equal(t, "❤️", env.Meta.Reactions[1].Text)

	env.SetReaction("a@s.whatsapp.net", "", 4)
	require.Equal(t, []Reaction{{By: "b@s.whatsapp.net", Text: "😂", TS: 2}}, env.Meta.Reactions)

	require.True(t, env.SetReaction("b@s.whatsapp.net", "", 5))
	require.Nil(t, env.Meta.Reactions)
	require.False(t, env.SetReaction("b@s.whatsapp.net", "", 6))
}

func TestEnvelope_RedactedDropsDeletedContent(t *testing.T) {
	env := &Envelope{
		DeletedAt:           10,
		MessageBeforeDelete: &transport.Message{Conversation: "secret"},
	}
	red := env.Redacted()
	require.Nil(t, red.MessageBeforeDelete)
	require.NotNil(t, env.MessageBeforeDelete)
	require.True(t, red.Tombstoned())
	require.Nil(t, (*Envelope)(nil).Redacted())
}

func TestMessage_EnvelopeRoundTrip(t *testing.T) {
	msg := Message{SessionID: "s1", ID: "m1", Kind: "conversation", Body: "hi"}
	require.NoError(t, msg.SetEnvelope(&Envelope{
		Key:     transport.Key{RemoteAddress: "6281234567890@s.whatsapp.net", ID: "m1"},
		Message: &transport.Message{Conversation: "hi"},
	}))

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.Contains(t, string(data), `"raw":{"key"`)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	require.Equal(t, "m1", back.ID)
	env, err := back.Envelope()
	require.NoError(t, err)
	require.Equal(t, "hi", env.Message.Conversation)
	require.False(t, env.Tombstoned())
	require.False(t, env.Edited())
}

func TestMessage_EmptyEnvelope(t *testing.T) {
	env, err := (&Message{}).Envelope()
	require.NoError(t, err)
	require.NotNil(t, env)

	_, err = (&Message{ID: "x", RawEnvelope: "{"}).Envelope()
	require.Error(t, err)
}

func TestIdentity_DisplayName(t *testing.T) {
	require.Equal(t, "Verified", Identity{VerifiedName: "Verified", Name: "Name"}.DisplayName())
	require.Equal(t, "Push", Identity{Notify: "Push"}.DisplayName())
	require.Empty(t, Identity{}.DisplayName())
}
