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

package conversation

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/protocol"
)

// AppendMessage attaches a verified comm message to its conversation. The
// boolean is false when the transaction was already indexed, in which case
// the stored message is returned.
func (s *Store) AppendMessage(msg models.IndexedMessage) (models.IndexedMessage, bool, error) {
	msg.ConversationID = protocol.NormalizeConversationID(msg.ConversationID)
	if !protocol.ValidTxHash(msg.TxHash) {
		s.reject("invalid_tx_hash")
		return models.IndexedMessage{}, false, fmt.Errorf("%w: %.16q", ErrInvalidTxHash, msg.TxHash)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if convID, seen := s.messageTx[msg.TxHash]; seen {
		for _, m := range s.messages[convID] {
			if m.TxHash == msg.TxHash {
				return m, false, nil
			}
		}
	}

	c, ok := s.conversations[msg.ConversationID]
	if !ok {
		s.reject("not_found")
		return models.IndexedMessage{}, false, ErrNotFound
	}
	if c.Status == models.StatusArchived {
		s.reject("archived")
		return models.IndexedMessage{}, false, ErrArchived
	}
	if !c.HasParticipant(msg.SenderAddress) {
		s.reject("not_participant")
		return models.IndexedMessage{}, false, ErrNotParticipant
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	s.insertMessage(msg)
	if c.LastMessageAt == nil || msg.Timestamp.After(*c.LastMessageAt) {
		t := msg.Timestamp
		c.LastMessageAt = &t
	}
	return msg, true, nil
}

// insertMessage keeps each conversation's slice ordered by timestamp.
// Messages with equal timestamps stay in arrival order.
func (s *Store) insertMessage(msg models.IndexedMessage) {
	list := s.messages[msg.ConversationID]
	i := sort.Search(len(list), func(i int) bool { return list[i].Timestamp.After(msg.Timestamp) })
	list = append(list, models.IndexedMessage{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	s.messages[msg.ConversationID] = list
	s.messageTx[msg.TxHash] = msg.ConversationID
}

// MessagesFor returns messages oldest first. A limit of zero or less
// returns everything after offset.
func (s *Store) MessagesFor(conversationID string, limit, offset int) []models.IndexedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[protocol.NormalizeConversationID(conversationID)]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []models.IndexedMessage{}
	}
	end := len(list)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]models.IndexedMessage, end-offset)
	copy(out, list[offset:end])
	return out
}

// LoadMessages restores persisted messages. Messages of unknown
// conversations or with malformed tx hashes are dropped.
func (s *Store) LoadMessages(ctx context.Context, msgs []models.IndexedMessage) (loaded, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		m.ConversationID = protocol.NormalizeConversationID(m.ConversationID)
		c, ok := s.conversations[m.ConversationID]
		if !ok || !protocol.ValidTxHash(m.TxHash) {
			dropped++
			s.reject("invalid_tx_hash")
			s.log.Warn(ctx, "dropping stored message", "tx", m.TxHash, "conversation", m.ConversationID)
			continue
		}
		if _, seen := s.messageTx[m.TxHash]; seen {
			continue
		}
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		s.insertMessage(m)
		if c.LastMessageAt == nil || m.Timestamp.After(*c.LastMessageAt) {
			t := m.Timestamp
			c.LastMessageAt = &t
		}
		loaded++
	}
	return loaded, dropped
}

// Snapshot is a deterministic copy of the whole store.
type Snapshot struct {
	Conversations []models.Conversation
	Handshakes    []models.HandshakeRecord
	Messages      []models.IndexedMessage
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap Snapshot
	ids := make([]string, 0, len(s.conversations))
	for id := range s.conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snap.Conversations = append(snap.Conversations, s.conversations[id].Clone())
		hs := append([]models.HandshakeRecord(nil), s.handshakes[id]...)
		sortHandshakes(hs)
		snap.Handshakes = append(snap.Handshakes, hs...)
		snap.Messages = append(snap.Messages, s.messages[id]...)
	}
	return snap
}
