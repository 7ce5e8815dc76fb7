package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-mirror/internal/model"
	"github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/telemetry"
)

// Wrap returns a MirrorStore that records StoreLatency for every operation.
func Wrap(inner store.MirrorStore) store.MirrorStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MirrorStore
}

func observe(op string, start time.Time) {
	if telemetry.StoreLatency == nil {
		return
	}
	telemetry.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) UpsertIdentities(ctx context.Context, rows []model.Identity) error {
	defer observe("upsert_identities", time.Now())
	return m.inner.UpsertIdentities(ctx, rows)
}

func (m *metricsStore) UpsertConversations(ctx context.Context, rows []model.Conversation) error {
	defer observe("upsert_conversations", time.Now())
	return m.inner.UpsertConversations(ctx, rows)
}

func (m *metricsStore) InsertMessages(ctx context.Context, rows []model.Message) (int64, error) {
	defer observe("insert_messages", time.Now())
	return m.inner.InsertMessages(ctx, rows)
}

func (m *metricsStore) GetMessage(ctx context.Context, sessionID, id string) (*model.Message, error) {
	defer observe("get_message", time.Now())
	return m.inner.GetMessage(ctx, sessionID, id)
}

func (m *metricsStore) UpdateMessage(ctx context.Context, msg *model.Message) error {
	defer observe("update_message", time.Now())
	return m.inner.UpdateMessage(ctx, msg)
}

func (m *metricsStore) DeleteMessage(ctx context.Context, sessionID, id string) error {
	defer observe("delete_message", time.Now())
	return m.inner.DeleteMessage(ctx, sessionID, id)
}

func (m *metricsStore) LatestMessage(ctx context.Context, sessionID, address string) (*model.Message, error) {
	defer observe("latest_message", time.Now())
	return m.inner.LatestMessage(ctx, sessionID, address)
}

func (m *metricsStore) ListMessages(ctx context.Context, sessionID, address string, query store.MessageQuery) (*store.MessagePage, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, sessionID, address, query)
}

func (m *metricsStore) GetConversation(ctx context.Context, sessionID, address string) (*model.Conversation, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, sessionID, address)
}

func (m *metricsStore) ConversationsWithMessages(ctx context.Context, sessionID string, addresses []string) (map[string]bool, error) {
	defer observe("conversations_with_messages", time.Now())
	return m.inner.ConversationsWithMessages(ctx, sessionID, addresses)
}

func (m *metricsStore) UpdateConversationPreview(ctx context.Context, sessionID, address string, lastMessage *string, lastMessageTS int64) error {
	defer observe("update_conversation_preview", time.Now())
	return m.inner.UpdateConversationPreview(ctx, sessionID, address, lastMessage, lastMessageTS)
}

func (m *metricsStore) ListConversations(ctx context.Context, sessionID string, query store.ConversationQuery) (*store.ConversationPage, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, sessionID, query)
}

func (m *metricsStore) DeleteConversations(ctx context.Context, sessionID string, addresses []string) error {
	defer observe("delete_conversations", time.Now())
	return m.inner.DeleteConversations(ctx, sessionID, addresses)
}

func (m *metricsStore) GetIdentity(ctx context.Context, sessionID, address string) (*model.Identity, error) {
	defer observe("get_identity", time.Now())
	return m.inner.GetIdentity(ctx, sessionID, address)
}

func (m *metricsStore) DeleteIdentity(ctx context.Context, sessionID, address string) error {
	defer observe("delete_identity", time.Now())
	return m.inner.DeleteIdentity(ctx, sessionID, address)
}

func (m *metricsStore) MessageIDs(ctx context.Context, sessionID string, exact []string, suffixes []string) ([]string, error) {
	defer observe("message_ids", time.Now())
	return m.inner.MessageIDs(ctx, sessionID, exact, suffixes)
}

func (m *metricsStore) PurgeAddresses(ctx context.Context, sessionID string, exact []string, suffixes []string) (int64, error) {
	defer observe("purge_addresses", time.Now())
	return m.inner.PurgeAddresses(ctx, sessionID, exact, suffixes)
}
