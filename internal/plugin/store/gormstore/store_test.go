package gormstore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chirino/chat-mirror/internal/config"
	"github.com/chirino/chat-mirror/internal/model"
	"github.com/chirino/chat-mirror/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/chat-mirror/internal/registry/migrate"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/testutil/testpg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const session = "s1"

func setupTestStore(t *testing.T) (registrystore.MirrorStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = filepath.Join(t.TempDir(), "mirror.db")
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	t.Cleanup(cancel)

	// Ensure store plugins are registered
	_ = gormstore.ForceImport

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)

	store, err := loader(ctx)
	require.NoError(t, err)

	return store, ctx
}

func strPtr(s string) *string { return &s }

func message(id, conv string, ts int64, kind, body string) model.Message {
	return model.Message{
		SessionID:           session,
		ID:                  id,
		ConversationAddress: conv,
		SenderAddress:       conv,
		Kind:                kind,
		Body:                body,
		TimestampSec:        ts,
		RawEnvelope:         `{"key":{"remoteJid":"` + conv + `","id":"` + id + `"}}`,
	}
}

const (
	alice = "6281111111111@s.whatsapp.net"
	bob   = "6282222222222@s.whatsapp.net"
	group = "6281111111111-1600000000@g.us"
)

func TestInsertMessages_SkipsExistingRows(t *testing.T) {
	store, ctx := setupTestStore(t)

	n, err := store.InsertMessages(ctx, []model.Message{
		message("m1", alice, 100, "conversation", "hello"),
		message("m2", alice, 101, "conversation", "again"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	dup := message("m1", alice, 100, "conversation", "overwritten?")
	n, err = store.InsertMessages(ctx, []model.Message{dup, message("m3", alice, 102, "conversation", "third")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetMessage(ctx, session, "m1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Body)
	env, err := got.Envelope()
	require.NoError(t, err)
	assert.Equal(t, "m1", env.Key.ID)
}

func TestGetMessage_NotFound(t *testing.T) {
	store, ctx := setupTestStore(t)

	_, err := store.GetMessage(ctx, session, "missing")
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "message", nf.Resource)
}

func TestUpdateAndDeleteMessage(t *testing.T) {
	store, ctx := setupTestStore(t)

	_, err := store.InsertMessages(ctx, []model.Message{message("m1", alice, 100, "conversation", "hello")})
	require.NoError(t, err)

	msg, err := store.GetMessage(ctx, session, "m1")
	require.NoError(t, err)
	msg.Body = "edited"
	msg.Kind = "extendedtextmessage"
	require.NoError(t, store.UpdateMessage(ctx, msg))

	got, err := store.GetMessage(ctx, session, "m1")
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Body)
	assert.Equal(t, "extendedtextmessage", got.Kind)

	missing := message("nope", alice, 1, "conversation", "x")
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(store.UpdateMessage(ctx, &missing), &nf))

	require.NoError(t, store.DeleteMessage(ctx, session, "m1"))
	_, err = store.GetMessage(ctx, session, "m1")
	require.True(t, errors.As(err, &nf))
}

func TestLatestMessage(t *testing.T) {
	store, ctx := setupTestStore(t)

	_, err := store.LatestMessage(ctx, session, alice)
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))

	_, err = store.InsertMessages(ctx, []model.Message{
		message("m1", alice, 100, "conversation", "old"),
		message("m2", alice, 300, "conversation", "new"),
		message("m3", alice, 200, "conversation", "middle"),
		message("b1", bob, 999, "conversation", "other chat"),
	})
	require.NoError(t, err)

	latest, err := store.LatestMessage(ctx, session, alice)
	require.NoError(t, err)
	assert.Equal(t, "m2", latest.ID)
}

func TestListMessages_Filters(t *testing.T) {
	store, ctx := setupTestStore(t)

	mine := message("m3", alice, 300, "imagemessage", "([Image]) beach")
	mine.FromMe = true
	_, err := store.InsertMessages(ctx, []model.Message{
		message("m1", alice, 100, "conversation", "Hello World"),
		message("m2", alice, 200, "conversation", "100% sure"),
		mine,
		message("m4", bob, 150, "conversation", "hello bob"),
	})
	require.NoError(t, err)

	page, err := store.ListMessages(ctx, session, alice, registrystore.MessageQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "m3", page.Items[0].ID)
	assert.Equal(t, "m1", page.Items[2].ID)

	start, end := int64(150), int64(250)
	page, err = store.ListMessages(ctx, session, alice, registrystore.MessageQuery{Start: &start, End: &end})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "m2", page.Items[0].ID)

	fromMe := true
	page, err = store.ListMessages(ctx, session, alice, registrystore.MessageQuery{FromMe: &fromMe})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "m3", page.Items[0].ID)

	page, err = store.ListMessages(ctx, session, alice, registrystore.MessageQuery{MediaOnly: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	page, err = store.ListMessages(ctx, session, alice, registrystore.MessageQuery{Search: "hello"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "m1", page.Items[0].ID)

	page, err = store.ListMessages(ctx, session, alice, registrystore.MessageQuery{Search: "0%"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "m2", page.Items[0].ID)

	page, err = store.ListMessages(ctx, session, alice, registrystore.MessageQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "m2", page.Items[0].ID)
}

func TestUpsertIdentities_KeepsKnownValues(t *testing.T) {
	store, ctx := setupTestStore(t)

	require.NoError(t, store.UpsertIdentities(ctx, []model.Identity{{
		SessionID: session, Address: alice, Phone: "+6281111111111", Name: "Alice", IsKnownContact: true, Source: "contacts",
	}}))
	require.NoError(t, store.UpsertIdentities(ctx, []model.Identity{{
		SessionID: session, Address: alice, Notify: "ally", Source: "message",
	}}))

	got, err := store.GetIdentity(ctx, session, alice)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, "ally", got.Notify)
	assert.Equal(t, "+6281111111111", got.Phone)
	assert.Equal(t, "message", got.Source)
	assert.True(t, got.IsKnownContact)

	require.NoError(t, store.DeleteIdentity(ctx, session, alice))
	_, err = store.GetIdentity(ctx, session, alice)
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(err, &nf))
}

func TestUpsertConversations_PreviewAndName(t *testing.T) {
	store, ctx := setupTestStore(t)

	require.NoError(t, store.UpsertConversations(ctx, []model.Conversation{{
		SessionID: session, Address: alice, Name: "Alice", UnreadCount: 2, LastMessage: strPtr("hi"), LastMessageTS: 100,
	}}))
	require.NoError(t, store.UpsertConversations(ctx, []model.Conversation{{
		SessionID: session, Address: alice, UnreadCount: 3,
	}}))

	got, err := store.GetConversation(ctx, session, alice)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)
	assert.Equal(t, 3, got.UnreadCount)
	require.NotNil(t, got.LastMessage)
	assert.Equal(t, "hi", *got.LastMessage)
	assert.Equal(t, int64(100), got.LastMessageTS)

	require.NoError(t, store.UpdateConversationPreview(ctx, session, alice, nil, 0))
	got, err = store.GetConversation(ctx, session, alice)
	require.NoError(t, err)
	assert.Nil(t, got.LastMessage)
	assert.Equal(t, int64(0), got.LastMessageTS)
}

func TestConversationsWithMessages(t *testing.T) {
	store, ctx := setupTestStore(t)

	_, err := store.InsertMessages(ctx, []model.Message{message("m1", alice, 100, "conversation", "x")})
	require.NoError(t, err)

	found, err := store.ConversationsWithMessages(ctx, session, []string{alice, bob})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{alice: true}, found)

	found, err = store.ConversationsWithMessages(ctx, session, nil)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func seedConversations(t *testing.T, ctx context.Context, store registrystore.MirrorStore) {
	t.Helper()
	require.NoError(t, store.UpsertConversations(ctx, []model.Conversation{
		{SessionID: session, Address: alice, Name: "alice-chat", LastMessage: strPtr("hi"), LastMessageTS: 300},
		{SessionID: session, Address: bob, LastMessage: strPtr("([Image])"), LastMessageTS: 200},
		{SessionID: session, Address: group, Name: "Zeta Team", IsGroup: true, LastMessage: strPtr("yo"), LastMessageTS: 100},
		{SessionID: session, Address: "6283333333333@s.whatsapp.net", Name: "No Messages"},
	}))
	require.NoError(t, store.UpsertIdentities(ctx, []model.Identity{
		{SessionID: session, Address: alice, Name: "Alice", VerifiedName: "Alice Corp"},
		{SessionID: session, Address: bob, Notify: "Bobby"},
	}))
	_, err := store.InsertMessages(ctx, []model.Message{
		message("a1", alice, 300, "conversation", "hi"),
		message("b1", bob, 200, "imagemessage", "([Image])"),
		message("g1", group, 100, "conversation", "yo"),
	})
	require.NoError(t, err)
}

func TestListConversations_SortAndDisplayName(t *testing.T) {
	store, ctx := setupTestStore(t)
	seedConversations(t, ctx, store)

	page, err := store.ListConversations(ctx, session, registrystore.ConversationQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 3)
	assert.Equal(t, alice, page.Items[0].Address)
	assert.Equal(t, "Alice Corp", page.Items[0].Name)
	assert.Equal(t, "Bobby", page.Items[1].Name)
	assert.Equal(t, "Zeta Team", page.Items[2].Name)
	assert.True(t, page.Items[2].IsGroup)

	page, err = store.ListConversations(ctx, session, registrystore.ConversationQuery{SortBy: registrystore.SortByName, SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, []string{"Alice Corp", "Bobby", "Zeta Team"},
		[]string{page.Items[0].Name, page.Items[1].Name, page.Items[2].Name})

	page, err = store.ListConversations(ctx, session, registrystore.ConversationQuery{SortBy: registrystore.SortByID, SortOrder: "asc", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, group, page.Items[0].Address)
}

func TestListConversations_Filters(t *testing.T) {
	store, ctx := setupTestStore(t)
	seedConversations(t, ctx, store)

	page, err := store.ListConversations(ctx, session, registrystore.ConversationQuery{HasMedia: true})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, bob, page.Items[0].Address)

	page, err = store.ListConversations(ctx, session, registrystore.ConversationQuery{Search: "zeta"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, group, page.Items[0].Address)

	page, err = store.ListConversations(ctx, session, registrystore.ConversationQuery{Search: "6282222"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, bob, page.Items[0].Address)

	page, err = store.ListConversations(ctx, session, registrystore.ConversationQuery{Exclude: []string{alice, ""}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
}

func TestDeleteConversations(t *testing.T) {
	store, ctx := setupTestStore(t)
	seedConversations(t, ctx, store)

	require.NoError(t, store.DeleteConversations(ctx, session, []string{alice}))

	var nf *registrystore.NotFoundError
	_, err := store.GetConversation(ctx, session, alice)
	require.True(t, errors.As(err, &nf))
	_, err = store.GetMessage(ctx, session, "a1")
	require.True(t, errors.As(err, &nf))
	_, err = store.GetIdentity(ctx, session, alice)
	require.True(t, errors.As(err, &nf))

	_, err = store.GetConversation(ctx, session, bob)
	require.NoError(t, err)
}

func TestPurgeAddresses(t *testing.T) {
	store, ctx := setupTestStore(t)
	seedConversations(t, ctx, store)
	require.NoError(t, store.UpsertConversations(ctx, []model.Conversation{
		{SessionID: session, Address: "status@broadcast"},
		{SessionID: session, Address: "120363000000000000@newsletter"},
	}))
	_, err := store.InsertMessages(ctx, []model.Message{
		message("s1", "status@broadcast", 1, "conversation", "story"),
	})
	require.NoError(t, err)

	ids, err := store.MessageIDs(ctx, session, []string{alice}, []string{"@broadcast", "@newsletter"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a1", "s1"}, ids)

	removed, err := store.PurgeAddresses(ctx, session, []string{alice}, []string{"@broadcast", "@newsletter"})
	require.NoError(t, err)
	// a1 + s1 messages, alice + status + newsletter conversations
	assert.Equal(t, int64(5), removed)

	page, err := store.ListConversations(ctx, session, registrystore.ConversationQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	removed, err = store.PurgeAddresses(ctx, session, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestSessionsAreIsolated(t *testing.T) {
	store, ctx := setupTestStore(t)

	other := message("m1", alice, 100, "conversation", "other session")
	other.SessionID = "s2"
	_, err := store.InsertMessages(ctx, []model.Message{message("m1", alice, 100, "conversation", "mine"), other})
	require.NoError(t, err)

	got, err := store.GetMessage(ctx, "s2", "m1")
	require.NoError(t, err)
	assert.Equal(t, "other session", got.Body)
	got, err = store.GetMessage(ctx, session, "m1")
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Body)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/x.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", gormstore.SQLiteDSN("/tmp/x.db"))
	assert.Equal(t, "file:x.db?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", gormstore.SQLiteDSN("sqlite://x.db"))
	assert.Equal(t, "file:x.db?cache=shared", gormstore.SQLiteDSN("file:x.db?cache=shared"))
}

func TestPostgresStore(t *testing.T) {
	if os.Getenv("CHAT_MIRROR_TEST_POSTGRES") != "1" {
		t.Skip("set CHAT_MIRROR_TEST_POSTGRES=1 to run against a postgres container")
	}
	cfg := config.DefaultConfig()
	cfg.DatastoreType = "postgres"
	cfg.DBURL = testpg.StartPostgres(t)
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	defer cancel()

	_ = gormstore.ForceImport
	require.NoError(t, registrymigrate.RunAll(ctx))
	loader, err := registrystore.Select("postgres")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)

	seedConversations(t, ctx, store)
	page, err := store.ListConversations(ctx, session, registrystore.ConversationQuery{SortBy: registrystore.SortByName, SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "Alice Corp", page.Items[0].Name)

	n, err := store.InsertMessages(ctx, []model.Message{message("a1", alice, 300, "conversation", "dup")})
	require.NoError(t, err)
	assert.Zero(t, n)
}
