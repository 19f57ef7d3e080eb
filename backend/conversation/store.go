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

// Package conversation is the in-memory view of conversations, handshake
// records and messages. A single Store is shared by the request handlers
// and the reconciliation loop; every exported method is safe for
// concurrent use and returns copies.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/efchatnet/ciphindex/backend/logging"
	"github.com/efchatnet/ciphindex/backend/metrics"
	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/protocol"
)

var (
	ErrNotFound             = errors.New("conversation not found")
	ErrInvalidTxHash        = errors.New("invalid transaction hash")
	ErrInvalidConversation  = errors.New("invalid conversation record")
	ErrConversationMismatch = errors.New("conversation id belongs to another pair of addresses")
	ErrNotParticipant       = errors.New("address is not a participant of the conversation")
	ErrArchived             = errors.New("conversation is archived")
)

type Store struct {
	mu sync.RWMutex

	conversations map[string]*models.Conversation
	handshakes    map[string][]models.HandshakeRecord
	handshakeTx   map[string]string
	messages      map[string][]models.IndexedMessage
	messageTx     map[string]string

	support string
	now     func() time.Time
	log     logging.Logger
	metrics *metrics.Metrics
}

// NewStore creates an empty store. Conversations with supportAddress as a
// participant are flagged as admin conversations.
func NewStore(supportAddress string, log logging.Logger, m *metrics.Metrics) *Store {
	return &Store{
		conversations: make(map[string]*models.Conversation),
		handshakes:    make(map[string][]models.HandshakeRecord),
		handshakeTx:   make(map[string]string),
		messages:      make(map[string][]models.IndexedMessage),
		messageTx:     make(map[string]string),
		support:       supportAddress,
		now:           time.Now,
		log:           logging.OrNop(log).With("component", "conversation"),
		metrics:       m,
	}
}

// SetClock replaces the time source. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// UpsertConversation merges c into the store and reports whether the stored
// record changed. Incoming data is treated as authoritative for status and
// transaction references; locally known aliases survive.
func (s *Store) UpsertConversation(c models.Conversation) (models.Conversation, bool, error) {
	if err := s.validate(&c); err != nil {
		return models.Conversation{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.conversations[c.ID]
	if !ok {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now()
		}
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = c.CreatedAt
		}
		c.IsAdminConversation = s.isAdmin(c)
		stored := c.Clone()
		s.conversations[c.ID] = &stored
		return c.Clone(), true, nil
	}

	if !samePair(*existing, c) {
		s.reject("mismatch")
		return models.Conversation{}, false, fmt.Errorf("%w: %s", ErrConversationMismatch, c.ID)
	}

	merged := merge(*existing, c)
	merged.IsAdminConversation = s.isAdmin(merged)
	if merged.Equal(*existing) {
		return existing.Clone(), false, nil
	}
	switch {
	case c.UpdatedAt.After(existing.UpdatedAt):
		merged.UpdatedAt = c.UpdatedAt
	default:
		merged.UpdatedAt = s.later(existing.UpdatedAt)
	}
	*existing = merged
	return merged.Clone(), true, nil
}

func merge(existing, in models.Conversation) models.Conversation {
	m := existing.Clone()
	switch {
	case m.Status == models.StatusArchived:
	case in.Status == models.StatusArchived:
		m.Status = models.StatusArchived
	case in.Status == models.StatusActive && (m.Status != models.StatusActive || m.ResponseTxHash != in.ResponseTxHash):
		m.Status = models.StatusActive
		m.HandshakeTxHash = in.HandshakeTxHash
		m.ResponseTxHash = in.ResponseTxHash
	}
	if m.HandshakeTxHash == "" {
		m.HandshakeTxHash = in.HandshakeTxHash
	}
	if m.InitiatorAlias == "" {
		m.InitiatorAlias = in.InitiatorAlias
	}
	if m.RecipientAlias == "" {
		m.RecipientAlias = in.RecipientAlias
	}
	if !in.CreatedAt.IsZero() && (m.CreatedAt.IsZero() || in.CreatedAt.Before(m.CreatedAt)) {
		m.CreatedAt = in.CreatedAt
	}
	if in.LastMessageAt != nil && (m.LastMessageAt == nil || in.LastMessageAt.After(*m.LastMessageAt)) {
		t := *in.LastMessageAt
		m.LastMessageAt = &t
	}
	return m
}

func (s *Store) validate(c *models.Conversation) error {
	c.ID = protocol.NormalizeConversationID(c.ID)
	if c.ID == "" || c.InitiatorAddress == "" || c.RecipientAddress == "" {
		s.reject("invalid")
		return fmt.Errorf("%w: id and both addresses are required", ErrInvalidConversation)
	}
	if c.Status == "" {
		c.Status = models.StatusPending
	}
	if !c.Status.Valid() {
		s.reject("invalid")
		return fmt.Errorf("%w: status %q", ErrInvalidConversation, c.Status)
	}
	for _, h := range []string{c.HandshakeTxHash, c.ResponseTxHash} {
		if h != "" && !protocol.ValidTxHash(h) {
			s.reject("invalid_tx_hash")
			return fmt.Errorf("%w: %.16q", ErrInvalidTxHash, h)
		}
	}
	if c.Status == models.StatusActive && (c.HandshakeTxHash == "" || c.ResponseTxHash == "") {
		s.reject("invalid")
		return fmt.Errorf("%w: active conversation %s without both handshakes", ErrInvalidConversation, c.ID)
	}
	return nil
}

func (s *Store) GetConversation(id string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[protocol.NormalizeConversationID(id)]
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	return c.Clone(), nil
}

// ConversationsForWallet lists the conversations address takes part in,
// most recent first. Address comparison ignores case and network prefix.
func (s *Store) ConversationsForWallet(address string) []models.Conversation {
	return s.filter(func(c *models.Conversation) bool { return c.HasParticipant(address) })
}

func (s *Store) PendingConversations() []models.Conversation {
	return s.filter(func(c *models.Conversation) bool { return c.Status == models.StatusPending })
}

func (s *Store) ActiveConversations() []models.Conversation {
	return s.filter(func(c *models.Conversation) bool { return c.Status == models.StatusActive })
}

// ArchiveConversation closes a conversation. A non-empty by must be one of
// the participants.
func (s *Store) ArchiveConversation(id, by string) (models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[protocol.NormalizeConversationID(id)]
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	if by != "" && !c.HasParticipant(by) {
		s.reject("not_participant")
		return models.Conversation{}, ErrNotParticipant
	}
	if c.Status != models.StatusArchived {
		c.Status = models.StatusArchived
		c.UpdatedAt = s.later(c.UpdatedAt)
	}
	return c.Clone(), nil
}

// Load seeds the store from persistence. Records that fail validation, such
// as garbage transaction hashes left by older clients, are dropped.
func (s *Store) Load(ctx context.Context, convs []models.Conversation) (loaded, dropped int) {
	for _, c := range convs {
		if _, _, err := s.UpsertConversation(c); err != nil {
			dropped++
			s.log.Warn(ctx, "dropping stored conversation", "id", c.ID, "error", err)
			continue
		}
		loaded++
	}
	return loaded, dropped
}

func (s *Store) filter(keep func(*models.Conversation) bool) []models.Conversation {
	s.mu.RLock()
	out := make([]models.Conversation, 0)
	for _, c := range s.conversations {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()
	sortRecent(out)
	return out
}

func sortRecent(cs []models.Conversation) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i].RecentAt(), cs[j].RecentAt()
		if !a.Equal(b) {
			return a.After(b)
		}
		return cs[i].ID < cs[j].ID
	})
}

func (s *Store) isAdmin(c models.Conversation) bool {
	return strings.TrimSpace(s.support) != "" && c.HasParticipant(s.support)
}

// later returns now, or just after t when the clock has not moved past it.
func (s *Store) later(t time.Time) time.Time {
	now := s.now()
	if now.After(t) {
		return now
	}
	return t.Add(time.Millisecond)
}

func (s *Store) reject(reason string) {
	s.metrics.ObserveRejected(reason)
}

func samePair(a, b models.Conversation) bool {
	return (protocol.SameAddress(a.InitiatorAddress, b.InitiatorAddress) && protocol.SameAddress(a.RecipientAddress, b.RecipientAddress)) ||
		(protocol.SameAddress(a.InitiatorAddress, b.RecipientAddress) && protocol.SameAddress(a.RecipientAddress, b.InitiatorAddress))
}
