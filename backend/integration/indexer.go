// Copyright (C) 2025 efchat.net <tj@efchat.net>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package integration

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/ciphindex/backend/chain"
	"github.com/efchatnet/ciphindex/backend/conversation"
	"github.com/efchatnet/ciphindex/backend/handlers"
	"github.com/efchatnet/ciphindex/backend/logging"
	"github.com/efchatnet/ciphindex/backend/metrics"
	"github.com/efchatnet/ciphindex/backend/middleware"
	"github.com/efchatnet/ciphindex/backend/reconcile"
	"github.com/efchatnet/ciphindex/backend/storage"
	"github.com/efchatnet/ciphindex/backend/storage/memory"
	"github.com/efchatnet/ciphindex/backend/storage/postgres"
	"github.com/efchatnet/ciphindex/backend/verifier"
)

// Settings are the policy knobs of an embedded indexer.
type Settings struct {
	SupportAddress       string
	StrictSenderBinding  bool
	AcceptMissingPayload bool
	RequestTimeout       time.Duration
	ReconcileInterval    time.Duration
	TrackedAddresses     []string
	JWTSecret            string
	JWTIssuer            string
}

// Config holds configuration for the indexer integration
type Config struct {
	// DB selects the Postgres engine together with Redis. A nil DB keeps
	// everything in process memory.
	DB    *sql.DB
	Redis *redis.Client

	Settings Settings
	Logger   logging.Logger
	// Metrics is shared with components built by the caller. When nil it
	// is created and registered on Registerer.
	Metrics    *metrics.Metrics
	Registerer prometheus.Registerer

	Chains chain.Networks
	// Remote feeds the reconciliation loop. Nil disables reconciliation.
	Remote reconcile.Source
}

// Indexer wires the conversation indexer so it can be embedded into efchat
type Indexer struct {
	store    *conversation.Store
	persist  storage.Store
	pg       *postgres.Store
	verifier *verifier.Verifier
	loop     *reconcile.Loop

	handshakeHandler    *handlers.HandshakeHandler
	messageHandler      *handlers.MessageHandler
	conversationHandler *handlers.ConversationHandler

	jwtSecret string
	jwtIssuer string
	log       logging.Logger
}

// NewIndexer creates the store, verifier and reconciliation loop. With a
// database configured the schema is migrated first.
func NewIndexer(config *Config) (*Indexer, error) {
	log := logging.OrNop(config.Logger)
	m := config.Metrics
	if m == nil {
		m = metrics.New(config.Registerer)
	}
	s := config.Settings

	ix := &Indexer{
		jwtSecret: s.JWTSecret,
		jwtIssuer: s.JWTIssuer,
		log:       log.With("component", "integration"),
	}

	if config.DB != nil {
		if config.Redis == nil {
			return nil, fmt.Errorf("postgres engine needs a redis client for messages")
		}
		ix.pg = postgres.NewStore(config.DB, config.Redis)
		if err := ix.pg.Migrate(); err != nil {
			return nil, err
		}
		ix.persist = ix.pg
	} else {
		ix.persist = memory.NewStore()
	}

	ix.store = conversation.NewStore(s.SupportAddress, log, m)
	ix.verifier = verifier.New(config.Chains, verifier.Config{
		StrictSenderBinding:  s.StrictSenderBinding,
		AcceptMissingPayload: s.AcceptMissingPayload,
		Timeout:              s.RequestTimeout,
	}, log, m)

	var tracker handlers.Tracker
	if config.Remote != nil {
		addrs := append([]string(nil), s.TrackedAddresses...)
		if s.SupportAddress != "" {
			addrs = append(addrs, s.SupportAddress)
		}
		ix.loop = reconcile.New(config.Remote, ix.store, ix.persist, reconcile.Config{
			Interval:  s.ReconcileInterval,
			Timeout:   s.RequestTimeout,
			Addresses: addrs,
		}, log, m)
		tracker = ix.loop
	}

	ix.handshakeHandler = handlers.NewHandshakeHandler(ix.store, ix.persist, ix.verifier, tracker, log)
	ix.messageHandler = handlers.NewMessageHandler(ix.store, ix.persist, ix.verifier, log)
	ix.conversationHandler = handlers.NewConversationHandler(ix.store, ix.persist, tracker, s.SupportAddress, log)
	return ix, nil
}

// RegisterRoutes adds indexer routes to an existing router
// If authMiddleware is nil, it will use the built-in JWT validation
func (ix *Indexer) RegisterRoutes(router *mux.Router, authMiddleware func(http.Handler) http.Handler) {
	router.HandleFunc("/api/indexer/health", handlers.Health(ix.Ping)).Methods("GET")

	api := router.PathPrefix("/api/indexer").Subrouter()
	if authMiddleware != nil {
		api.Use(authMiddleware)
	} else {
		api.Use(middleware.NewAuthMiddleware(ix.jwtSecret, ix.jwtIssuer))
	}

	api.HandleFunc("/handshake/prepare", ix.handshakeHandler.PrepareHandshake).Methods("POST", "OPTIONS")
	api.HandleFunc("/handshake/submit", ix.handshakeHandler.SubmitHandshake).Methods("POST", "OPTIONS")

	api.HandleFunc("/message/prepare", ix.messageHandler.PrepareMessage).Methods("POST", "OPTIONS")
	api.HandleFunc("/message/submit", ix.messageHandler.SubmitMessage).Methods("POST", "OPTIONS")

	// Fixed paths first, {id} would swallow them
	api.HandleFunc("/conversations", ix.conversationHandler.ListConversations).Methods("GET", "OPTIONS")
	api.HandleFunc("/conversations/pending", ix.conversationHandler.PendingConversations).Methods("GET", "OPTIONS")
	api.HandleFunc("/conversations/active", ix.conversationHandler.ActiveConversations).Methods("GET", "OPTIONS")
	api.HandleFunc("/conversations/{id}", ix.conversationHandler.GetConversation).Methods("GET", "OPTIONS")
	api.HandleFunc("/conversations/{id}/messages", ix.conversationHandler.GetMessages).Methods("GET", "OPTIONS")
	api.HandleFunc("/conversations/{id}/archive", ix.conversationHandler.ArchiveConversation).Methods("POST", "OPTIONS")

	api.HandleFunc("/classify", handlers.Classify).Methods("POST", "OPTIONS")
}

// Warm loads persisted state into the store. Records with garbage
// transaction hashes are dropped and logged.
func (ix *Indexer) Warm(ctx context.Context) error {
	convs, err := ix.persist.ListConversationsByStatus(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load conversations: %w", err)
	}
	loaded, dropped := ix.store.Load(ctx, convs)

	hs, err := ix.persist.ListHandshakes(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load handshakes: %w", err)
	}
	hsLoaded, hsDropped := ix.store.LoadHandshakes(ctx, hs)

	msgLoaded, msgDropped := 0, 0
	for _, c := range ix.store.Snapshot().Conversations {
		msgs, err := ix.persist.GetMessages(ctx, c.ID, 0)
		if err != nil {
			return fmt.Errorf("failed to load messages of %s: %w", c.ID, err)
		}
		l, d := ix.store.LoadMessages(ctx, msgs)
		msgLoaded += l
		msgDropped += d
	}

	ix.log.Info(ctx, "store warmed",
		"conversations", loaded, "conversations_dropped", dropped,
		"handshakes", hsLoaded, "handshakes_dropped", hsDropped,
		"messages", msgLoaded, "messages_dropped", msgDropped)
	return nil
}

// Start begins reconciliation. It returns immediately.
func (ix *Indexer) Start(ctx context.Context) {
	if ix.loop == nil {
		ix.log.Warn(ctx, "no remote indexer configured, reconciliation disabled")
		return
	}
	ix.loop.Start(ctx)
}

func (ix *Indexer) Stop() {
	if ix.loop != nil {
		ix.loop.Stop()
	}
}

// Ping checks the persistence engine.
func (ix *Indexer) Ping(ctx context.Context) error {
	if ix.pg == nil {
		return nil
	}
	return ix.pg.Ping(ctx)
}

// Store returns the in-memory conversation store
func (ix *Indexer) Store() *conversation.Store {
	return ix.store
}

// Persistence returns the underlying storage implementation
func (ix *Indexer) Persistence() storage.Store {
	return ix.persist
}

// Loop returns the reconciliation loop, nil when disabled.
func (ix *Indexer) Loop() *reconcile.Loop {
	return ix.loop
}
