// Package mirror reconciles transport events into a durable, queryable replica
// of one messaging session.
//
// Events are applied in arrival order to in-memory state. Mutations on
// messages that are already durable are read-modify-written against the store;
// mutations on messages that are not yet known are queued and replayed once
// the message row exists. A FlushScheduler writes memory state in batches.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-mirror/internal/config"
	"github.com/chirino/chat-mirror/internal/identity"
	"github.com/chirino/chat-mirror/internal/model"
	registrycache "github.com/chirino/chat-mirror/internal/registry/cache"
	registrystore "github.com/chirino/chat-mirror/internal/registry/store"
	"github.com/chirino/chat-mirror/internal/service"
	"github.com/chirino/chat-mirror/internal/telemetry"
	"github.com/chirino/chat-mirror/internal/transport"
)

// Identity provenance tags stored in the source column.
const (
	sourceContacts     = "contacts"
	sourceChat         = "chat"
	sourceHistory      = "history"
	sourceMessage      = "message"
	sourceParticipants = "participants"
	sourceSelf         = "self"
)

// Options configures an Engine.
type Options struct {
	SessionID   string
	SelfAddress string
	CountryCode string

	Store registrystore.MirrorStore
	// Cache is optional; nil disables the durable read cache.
	Cache    registrycache.MessageCache
	CacheTTL time.Duration
	// Votes decrypts poll votes. Nil falls back to plaintext votes.
	Votes transport.VoteDecoder

	FlushDebounce         time.Duration
	FlushInterval         time.Duration
	IdentityBatchSize     int
	ConversationBatchSize int
	MessageBatchSize      int

	// Now overrides the clock in tests.
	Now func() time.Time
}

// OptionsFromConfig maps process configuration onto engine options.
func OptionsFromConfig(cfg *config.Config, store registrystore.MirrorStore, cache registrycache.MessageCache) Options {
	return Options{
		SessionID:             cfg.SessionID,
		SelfAddress:           cfg.SelfAddress,
		CountryCode:           cfg.DefaultCountryCode,
		Store:                 store,
		Cache:                 cache,
		CacheTTL:              cfg.CacheMessageTTL,
		FlushDebounce:         cfg.FlushDebounce,
		FlushInterval:         cfg.FlushInterval,
		IdentityBatchSize:     cfg.IdentityBatchSize,
		ConversationBatchSize: cfg.ConversationBatchSize,
		MessageBatchSize:      cfg.MessageBatchSize,
	}
}

type identityState struct {
	row   model.Identity
	dirty bool
}

type conversationState struct {
	row         model.Conversation
	dirty       bool
	hasMessages bool
}

// messageRecord is a message that has not been flushed yet. inflight is set
// while a flush is inserting it.
type messageRecord struct {
	msg      model.Message
	env      *model.Envelope
	inflight bool
}

// Engine is the event reconciler and query surface for one session.
type Engine struct {
	sessionID   string
	countryCode string
	store       registrystore.MirrorStore
	cache       registrycache.MessageCache
	cacheTTL    time.Duration
	votes       transport.VoteDecoder
	resolver    *identity.Resolver
	scheduler   *service.FlushScheduler
	now         func() time.Time

	identityBatch     int
	conversationBatch int
	messageBatch      int

	// applyMu serializes event application and API mutations.
	applyMu sync.Mutex
	// patchMu serializes read-modify-write of durable rows.
	patchMu sync.Mutex

	mu            sync.Mutex
	self          string
	identities    map[string]*identityState
	conversations map[string]*conversationState
	messages      map[string]*messageRecord
	pending       map[string][]pendingPatch
	pendingCount  int
	// dropped holds ids deleted while a flush was inserting them.
	dropped map[string]struct{}
}

// New creates an engine. Call Bind or Apply to feed it events.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("mirror: store is required")
	}
	if opts.SessionID == "" {
		return nil, fmt.Errorf("mirror: session id is required")
	}
	defaults := config.DefaultConfig()
	e := &Engine{
		sessionID:         opts.SessionID,
		countryCode:       opts.CountryCode,
		store:             opts.Store,
		cache:             opts.Cache,
		cacheTTL:          opts.CacheTTL,
		votes:             opts.Votes,
		resolver:          identity.NewResolver(opts.CountryCode),
		now:               opts.Now,
		identityBatch:     positiveOr(opts.IdentityBatchSize, defaults.IdentityBatchSize),
		conversationBatch: positiveOr(opts.ConversationBatchSize, defaults.ConversationBatchSize),
		messageBatch:      positiveOr(opts.MessageBatchSize, defaults.MessageBatchSize),
		identities:        make(map[string]*identityState),
		conversations:     make(map[string]*conversationState),
		messages:          make(map[string]*messageRecord),
		pending:           make(map[string][]pendingPatch),
		dropped:           make(map[string]struct{}),
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.cache != nil && !e.cache.Available() {
		e.cache = nil
	}
	if e.cacheTTL <= 0 {
		e.cacheTTL = defaults.CacheMessageTTL
	}
	debounce := opts.FlushDebounce
	if debounce <= 0 {
		debounce = defaults.FlushDebounce
	}
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = defaults.FlushInterval
	}
	e.scheduler = service.NewFlushScheduler(e.flush, debounce, interval)
	if opts.SelfAddress != "" {
		e.SetSelfAddress(opts.SelfAddress)
	}
	return e, nil
}

// Resolver exposes the session's identity resolver.
func (e *Engine) Resolver() *identity.Resolver { return e.resolver }

// SetSelfAddress records the session owner. Invalid addresses are ignored.
func (e *Engine) SetSelfAddress(addr string) {
	canonical, ok := e.resolver.CanonicalizeUser(addr)
	if !ok {
		log.Warn("Mirror: ignoring invalid self address", "address", addr)
		return
	}
	e.mu.Lock()
	e.self = canonical
	e.mu.Unlock()
	e.touchIdentity(canonical, identityUpdate{isMe: true, source: sourceSelf})
	e.scheduler.Schedule()
}

func (e *Engine) selfAddress() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.self
}

// Bind starts the periodic flush and applies every event from src in order.
// The returned channel closes once src is drained or ctx is done.
func (e *Engine) Bind(ctx context.Context, src transport.Source) <-chan struct{} {
	done := make(chan struct{})
	go e.scheduler.Start(ctx)
	go func() {
		defer close(done)
		events := src.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				e.Apply(ctx, ev)
			}
		}
	}()
	return done
}

// Apply reconciles one event. Errors are logged, never returned: a bad event
// must not stall the stream.
func (e *Engine) Apply(ctx context.Context, ev transport.Event) {
	if ev == nil {
		return
	}
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	var err error
	outcome := "ok"
	switch ev := ev.(type) {
	case transport.ContactsUpsert:
		e.upsertContacts(ev.Contacts, sourceContacts)
		e.scheduler.Schedule()
	case transport.ContactsSet:
		e.upsertContacts(ev.Contacts, sourceContacts)
		e.scheduler.Kick()
	case transport.ChatsUpsert:
		err = e.upsertChats(ctx, ev.Chats, false)
		e.scheduler.Schedule()
	case transport.ChatsSet:
		err = e.upsertChats(ctx, ev.Chats, true)
		e.scheduler.Kick()
	case transport.ChatsDelete:
		err = e.deleteConversations(ctx, ev.IDs)
	case transport.HistorySet:
		e.upsertContacts(ev.Contacts, sourceHistory)
		err = e.upsertChats(ctx, ev.Chats, true)
		for _, m := range ev.Messages {
			e.upsertMessage(ctx, m)
		}
		e.scheduler.Kick()
	case transport.MessagesUpsert:
		for _, m := range ev.Messages {
			e.upsertMessage(ctx, m)
		}
		e.scheduler.Schedule()
	case transport.MessagesUpdate:
		e.applyUpdates(ctx, ev.Updates)
		e.scheduler.Schedule()
	case transport.MessagesDelete:
		err = e.deleteMessages(ctx, ev.Keys)
	case transport.GroupParticipantsUpdate:
		err = e.applyParticipants(ctx, ev)
		e.scheduler.Schedule()
	default:
		outcome = "ignored"
		log.Debug("Mirror: ignoring event", "event", ev.EventName())
	}
	if err != nil {
		outcome = "error"
		log.Error("Mirror: event failed", "event", ev.EventName(), "err", err)
	}
	telemetry.ObserveEvent(ev.EventName(), outcome)
}

// IngestBatch applies messages as if delivered by one messages.upsert event.
func (e *Engine) IngestBatch(ctx context.Context, messages []transport.WebMessage) {
	e.Apply(ctx, transport.MessagesUpsert{Type: "append", Messages: messages})
}

// Flush writes all unflushed state synchronously. No-op after Dispose.
func (e *Engine) Flush(ctx context.Context) error {
	return e.scheduler.Flush(ctx)
}

// Dispose stops all scheduled flushes. Callers flush first to keep state.
func (e *Engine) Dispose() {
	e.scheduler.Dispose()
}

// ensureConversation returns the memory state of addr, hydrating it from the
// store on first touch.
func (e *Engine) ensureConversation(ctx context.Context, addr string) (*conversationState, error) {
	e.mu.Lock()
	st := e.conversations[addr]
	e.mu.Unlock()
	if st != nil {
		return st, nil
	}

	row, err := e.store.GetConversation(ctx, e.sessionID, addr)
	var nf *registrystore.NotFoundError
	switch {
	case err == nil:
		st = &conversationState{row: *row}
	case errors.As(err, &nf):
		now := e.nowSec()
		st = &conversationState{
			row: model.Conversation{
				SessionID:    e.sessionID,
				Address:      addr,
				Name:         fallbackName(addr),
				IsGroup:      identity.IsGroup(addr),
				CreatedAtSec: now,
				UpdatedAtSec: now,
			},
			dirty: true,
		}
	default:
		return nil, fmt.Errorf("load conversation %s: %w", addr, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing := e.conversations[addr]; existing != nil {
		return existing, nil
	}
	e.conversations[addr] = st
	return st, nil
}

type identityUpdate struct {
	name         string
	notify       string
	verifiedName string
	knownContact bool
	isMe         bool
	source       string
}

// touchIdentity merges u into the memory identity of addr. Empty fields keep
// the values already known.
func (e *Engine) touchIdentity(addr string, u identityUpdate) {
	now := e.nowSec()
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.identities[addr]
	if st == nil {
		st = &identityState{row: model.Identity{
			SessionID: e.sessionID,
			Address:   addr,
			IsGroup:   identity.IsGroup(addr),
		}}
		if !st.row.IsGroup {
			st.row.Phone = identity.LocalPart(addr)
		}
		e.identities[addr] = st
	}
	r := &st.row
	r.Name = firstNonEmpty(u.name, r.Name)
	r.Notify = firstNonEmpty(u.notify, r.Notify)
	r.VerifiedName = firstNonEmpty(u.verifiedName, r.VerifiedName)
	r.IsKnownContact = r.IsKnownContact || u.knownContact
	r.IsMe = r.IsMe || u.isMe
	// message-derived updates never overwrite an explicit provenance
	if u.source != "" && (r.Source == "" || u.source != sourceMessage) {
		r.Source = u.source
	}
	r.UpdatedAtSec = now
	st.dirty = true
}

// displayName renders addr for synthetic system messages.
func (e *Engine) displayName(ctx context.Context, addr string) string {
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
		if name = row.DisplayName(); name != "" {
			return name
		}
	}
	return fallbackName(addr)
}

func (e *Engine) nowSec() int64 { return e.now().Unix() }

func (e *Engine) nowMs() int64 { return e.now().UnixMilli() }

// fallbackName is the conversation name used until the transport reports one.
func fallbackName(addr string) string {
	if identity.IsGroup(addr) {
		return identity.LocalPart(addr)
	}
	return identity.PhoneLabel(identity.LocalPart(addr))
}

// normalizeTimestamp converts transport timestamps to unix seconds.
// Millisecond values are detected by magnitude.
func normalizeTimestamp(ts int64) int64 {
	if ts > 2_000_000_000_000 {
		return ts / 1000
	}
	return ts
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
