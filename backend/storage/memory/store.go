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

// Package memory is a process-local storage.Store used when no database is
// configured and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/storage"
)

type Store struct {
	mu            sync.RWMutex
	conversations map[string]models.Conversation
	handshakes    map[string]models.HandshakeRecord
	messages      map[string]models.IndexedMessage
}

func NewStore() *Store {
	return &Store{
		conversations: make(map[string]models.Conversation),
		handshakes:    make(map[string]models.HandshakeRecord),
		messages:      make(map[string]models.IndexedMessage),
	}
}

var _ storage.Store = (*Store)(nil)

func (s *Store) CreateConversation(ctx context.Context, c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c.Clone()
	return nil
}

func (s *Store) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus, responseTxHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Status = status
	if responseTxHash != "" {
		c.ResponseTxHash = responseTxHash
	}
	s.conversations[id] = c
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := c.Clone()
	return &cp, nil
}

func (s *Store) ListConversationsByStatus(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error) {
	s.mu.RLock()
	var out []models.Conversation
	for _, c := range s.conversations {
		if status == "" || c.Status == status {
			out = append(out, c.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveHandshake(ctx context.Context, rec models.HandshakeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handshakes[rec.TxHash]; !ok {
		s.handshakes[rec.TxHash] = rec
	}
	return nil
}

func (s *Store) ListHandshakes(ctx context.Context, conversationID string) ([]models.HandshakeRecord, error) {
	s.mu.RLock()
	var out []models.HandshakeRecord
	for _, h := range s.handshakes {
		if conversationID == "" || h.ConversationID == conversationID {
			out = append(out, h)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].TxHash < out[j].TxHash
	})
	return out, nil
}

func (s *Store) CreatePrivateMessage(ctx context.Context, msg models.IndexedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.TxHash]; !ok {
		s.messages[msg.TxHash] = msg
	}
	return nil
}

func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int) ([]models.IndexedMessage, error) {
	s.mu.RLock()
	var out []models.IndexedMessage
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].TxHash < out[j].TxHash
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
