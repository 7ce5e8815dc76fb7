// Package gormstore implements the mirror store on GORM, backed by either
// PostgreSQL or SQLite. Both dialects share the same SQL; the only
// differences live in the schema files and the loaders.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chirino/chat-mirror/internal/content"
	"github.com/chirino/chat-mirror/internal/model"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/telemetry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	conversationsTable = "mirror_conversations"
	identitiesTable    = "mirror_identities"
	messagesTable      = "mirror_messages"

	defaultConversationLimit = 10
	defaultMessageLimit      = 20
	maxPageLimit             = 500
)

const likeEscape = ` ESCAPE '\'`

// displayNameExpr picks the best name for a conversation row joined with its identity.
const displayNameExpr = "COALESCE(NULLIF(i.verified_name, ''), NULLIF(i.name, ''), NULLIF(i.notify, ''), NULLIF(c.name, ''), '')"

// Store implements registrystore.MirrorStore.
type Store struct {
	db *gorm.DB
}

var _ registrystore.MirrorStore = (*Store)(nil)

// New wraps an open GORM handle whose schema is already migrated.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
}

func configurePool(ctx context.Context, db *gorm.DB, maxOpen, maxIdle int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying db: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if telemetry.DBPoolMaxConnections != nil {
		telemetry.DBPoolMaxConnections.Set(float64(maxOpen))
	}

	// Periodically update the open connections gauge.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if telemetry.DBPoolOpenConnections != nil {
					telemetry.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()
	return nil
}

// keepUnlessEmpty keeps the stored value when the incoming one is blank.
func keepUnlessEmpty(table, column string) clause.Expr {
	return gorm.Expr(fmt.Sprintf("COALESCE(NULLIF(excluded.%[2]s, ''), %[1]s.%[2]s)", table, column))
}

func excluded(column string) clause.Expr {
	return gorm.Expr("excluded." + column)
}

// --- Batched flush writes ---

func (s *Store) UpsertIdentities(ctx context.Context, rows []model.Identity) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"phone":            keepUnlessEmpty(identitiesTable, "phone"),
			"name":             keepUnlessEmpty(identitiesTable, "name"),
			"notify":           keepUnlessEmpty(identitiesTable, "notify"),
			"verified_name":    keepUnlessEmpty(identitiesTable, "verified_name"),
			"source":           keepUnlessEmpty(identitiesTable, "source"),
			"is_me":            gorm.Expr("excluded.is_me OR " + identitiesTable + ".is_me"),
			"is_known_contact": gorm.Expr("excluded.is_known_contact OR " + identitiesTable + ".is_known_contact"),
			"is_group":         excluded("is_group"),
			"updated_at_sec":   excluded("updated_at_sec"),
			"updated_at":       excluded("updated_at"),
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert identities: %w", err)
	}
	return nil
}

func (s *Store) UpsertConversations(ctx context.Context, rows []model.Conversation) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "address"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"name":         keepUnlessEmpty(conversationsTable, "name"),
			"is_group":     excluded("is_group"),
			"unread_count": excluded("unread_count"),
			"last_message": gorm.Expr("COALESCE(excluded.last_message, " + conversationsTable + ".last_message)"),
			"last_message_ts": gorm.Expr("CASE WHEN excluded.last_message IS NULL THEN " +
				conversationsTable + ".last_message_ts ELSE excluded.last_message_ts END"),
			"ephemeral_expiry": excluded("ephemeral_expiry"),
			"updated_at_sec":   excluded("updated_at_sec"),
			"updated_at":       excluded("updated_at"),
		}),
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert conversations: %w", err)
	}
	return nil
}

func (s *Store) InsertMessages(ctx context.Context, rows []model.Message) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if result.Error != nil {
		return 0, fmt.Errorf("insert messages: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// --- Messages ---

func (s *Store) GetMessage(ctx context.Context, sessionID, id string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND id = ?", sessionID, id).
		Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

func (s *Store) UpdateMessage(ctx context.Context, msg *model.Message) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("session_id = ? AND id = ?", msg.SessionID, msg.ID).
		Updates(map[string]interface{}{
			"kind":           msg.Kind,
			"body":           msg.Body,
			"raw_envelope":   msg.RawEnvelope,
			"updated_at_sec": now.Unix(),
			"updated_at":     now,
		})
	if result.Error != nil {
		return fmt.Errorf("update message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "message", ID: msg.ID}
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, sessionID, id string) error {
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND id = ?", sessionID, id).
		Delete(&model.Message{}).Error
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (s *Store) LatestMessage(ctx context.Context, sessionID, address string) (*model.Message, error) {
	var msg model.Message
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND conversation_address = ?", sessionID, address).
		Order("timestamp_sec DESC").Order("created_at DESC").Order("id DESC").
		Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "message", ID: address}
	}
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return &msg, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID, address string, query registrystore.MessageQuery) (*registrystore.MessagePage, error) {
	base := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&model.Message{}).
			Where("session_id = ? AND conversation_address = ?", sessionID, address)
		if query.Start != nil {
			q = q.Where("timestamp_sec >= ?", *query.Start)
		}
		if query.End != nil {
			q = q.Where("timestamp_sec <= ?", *query.End)
		}
		if query.FromMe != nil {
			q = q.Where("from_me = ?", *query.FromMe)
		}
		if query.MediaOnly {
			q = q.Where("kind IN ?", mediaKinds())
		}
		if search := strings.TrimSpace(query.Search); search != "" {
			q = q.Where("LOWER(body) LIKE ?"+likeEscape, likePattern(search))
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	items := []model.Message{}
	err := base().
		Order("timestamp_sec DESC").Order("id DESC").
		Limit(pageLimit(query.Limit, defaultMessageLimit)).
		Offset(max(query.Offset, 0)).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &registrystore.MessagePage{Total: total, Items: items}, nil
}

// --- Conversations ---

func (s *Store) GetConversation(ctx context.Context, sessionID, address string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND address = ?", sessionID, address).
		Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "conversation", ID: address}
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &conv, nil
}

func (s *Store) ConversationsWithMessages(ctx context.Context, sessionID string, addresses []string) (map[string]bool, error) {
	found := map[string]bool{}
	if len(addresses) == 0 {
		return found, nil
	}
	var rows []string
	err := s.db.WithContext(ctx).Model(&model.Message{}).
		Distinct("conversation_address").
		Where("session_id = ? AND conversation_address IN ?", sessionID, addresses).
		Pluck("conversation_address", &rows).Error
	if err != nil {
		return nil, fmt.Errorf("conversations with messages: %w", err)
	}
	for _, addr := range rows {
		found[addr] = true
	}
	return found, nil
}

func (s *Store) UpdateConversationPreview(ctx context.Context, sessionID, address string, lastMessage *string, lastMessageTS int64) error {
	now := time.Now()
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("session_id = ? AND address = ?", sessionID, address).
		Updates(map[string]interface{}{
			"last_message":    lastMessage,
			"last_message_ts": lastMessageTS,
			"updated_at_sec":  now.Unix(),
			"updated_at":      now,
		}).Error
	if err != nil {
		return fmt.Errorf("update conversation preview: %w", err)
	}
	return nil
}

func (s *Store) ListConversations(ctx context.Context, sessionID string, query registrystore.ConversationQuery) (*registrystore.ConversationPage, error) {
	base := func() *gorm.DB {
		q := s.db.WithContext(ctx).Table(conversationsTable+" AS c").
			Joins("LEFT JOIN "+identitiesTable+" AS i ON i.session_id = c.session_id AND i.address = c.address").
			Where("c.session_id = ?", sessionID).
			Where("EXISTS (SELECT 1 FROM " + messagesTable + " m WHERE m.session_id = c.session_id AND m.conversation_address = c.address)")
		if exclude := nonEmpty(query.Exclude); len(exclude) > 0 {
			q = q.Where("c.address NOT IN ?", exclude)
		}
		if query.HasMedia {
			q = q.Where("EXISTS (SELECT 1 FROM "+messagesTable+" mm WHERE mm.session_id = c.session_id AND mm.conversation_address = c.address AND mm.kind IN ?)", mediaKinds())
		}
		if search := strings.TrimSpace(query.Search); search != "" {
			pattern := likePattern(search)
			q = q.Where("(LOWER(c.address) LIKE ?"+likeEscape+" OR LOWER("+displayNameExpr+") LIKE ?"+likeEscape+")", pattern, pattern)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}

	direction := "DESC"
	if strings.EqualFold(query.SortOrder, "asc") {
		direction = "ASC"
	}
	var order string
	switch query.SortBy {
	case registrystore.SortByID:
		order = "c.address " + direction
	case registrystore.SortByName:
		order = "LOWER(" + displayNameExpr + ") " + direction + ", c.address ASC"
	default:
		order = "c.last_message_ts " + direction + ", c.address ASC"
	}

	items := []registrystore.ConversationSummary{}
	err := base().
		Select("c.address AS address, " + displayNameExpr + " AS name, c.is_group AS is_group, c.unread_count AS unread_count, " +
			"c.last_message AS last_message, c.last_message_ts AS last_message_ts, c.ephemeral_expiry AS ephemeral_expiry").
		Order(order).
		Limit(pageLimit(query.Limit, defaultConversationLimit)).
		Offset(max(query.Offset, 0)).
		Scan(&items).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return &registrystore.ConversationPage{Total: total, Items: items}, nil
}

func (s *Store) DeleteConversations(ctx context.Context, sessionID string, addresses []string) error {
	addresses = nonEmpty(addresses)
	if len(addresses) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ? AND conversation_address IN ?", sessionID, addresses).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("delete conversation messages: %w", err)
		}
		if err := tx.Where("session_id = ? AND address IN ?", sessionID, addresses).Delete(&model.Conversation{}).Error; err != nil {
			return fmt.Errorf("delete conversations: %w", err)
		}
		if err := tx.Where("session_id = ? AND address IN ?", sessionID, addresses).Delete(&model.Identity{}).Error; err != nil {
			return fmt.Errorf("delete conversation identities: %w", err)
		}
		return nil
	})
}

// --- Identities ---

func (s *Store) GetIdentity(ctx context.Context, sessionID, address string) (*model.Identity, error) {
	var ident model.Identity
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND address = ?", sessionID, address).
		Take(&ident).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &registrystore.NotFoundError{Resource: "identity", ID: address}
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &ident, nil
}

func (s *Store) DeleteIdentity(ctx context.Context, sessionID, address string) error {
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND address = ?", sessionID, address).
		Delete(&model.Identity{}).Error
	if err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	return nil
}

// matchAddresses restricts tx to rows of sessionID whose column equals one of
// exact or ends with one of suffixes.
func (s *Store) matchAddresses(tx *gorm.DB, sessionID, column string, exact, suffixes []string) *gorm.DB {
	cond := s.db.Where("1 = 0")
	if len(exact) > 0 {
		cond = cond.Or(column+" IN ?", exact)
	}
	for _, suffix := range suffixes {
		cond = cond.Or(column+" LIKE ?"+likeEscape, "%"+escapeLike(suffix))
	}
	return tx.Where("session_id = ?", sessionID).Where(cond)
}

func (s *Store) MessageIDs(ctx context.Context, sessionID string, exact []string, suffixes []string) ([]string, error) {
	exact = nonEmpty(exact)
	suffixes = nonEmpty(suffixes)
	if len(exact) == 0 && len(suffixes) == 0 {
		return nil, nil
	}
	var ids []string
	err := s.matchAddresses(s.db.WithContext(ctx).Model(&model.Message{}), sessionID, "conversation_address", exact, suffixes).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list message ids: %w", err)
	}
	return ids, nil
}

func (s *Store) PurgeAddresses(ctx context.Context, sessionID string, exact []string, suffixes []string) (int64, error) {
	exact = nonEmpty(exact)
	suffixes = nonEmpty(suffixes)
	if len(exact) == 0 && len(suffixes) == 0 {
		return 0, nil
	}

	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := s.matchAddresses(tx, sessionID, "conversation_address", exact, suffixes).Delete(&model.Message{})
		if res.Error != nil {
			return fmt.Errorf("purge messages: %w", res.Error)
		}
		removed += res.RowsAffected
		res = s.matchAddresses(tx, sessionID, "address", exact, suffixes).Delete(&model.Conversation{})
		if res.Error != nil {
			return fmt.Errorf("purge conversations: %w", res.Error)
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func mediaKinds() []string {
	out := make([]string, 0, len(content.MediaKinds))
	for _, k := range content.MediaKinds {
		out = append(out, string(k))
	}
	return out
}

func likePattern(search string) string {
	return "%" + escapeLike(strings.ToLower(search)) + "%"
}

// escapeLike quotes LIKE wildcards for use with likeEscape.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

func pageLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	return min(limit, maxPageLimit)
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
