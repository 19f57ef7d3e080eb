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

	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/protocol"
)

// RecordHandshake applies a verified handshake to the state machine.
//
// An initiating handshake opens a pending conversation, or is attached to
// the existing one for the same pair. A response activates a conversation
// only if it exists under the same id and the response travels from its
// recipient back to its initiator, so a response replayed into another
// conversation changes nothing. Recording the same transaction twice is a
// no-op.
func (s *Store) RecordHandshake(rec models.HandshakeRecord) (models.Conversation, error) {
	rec.ConversationID = protocol.NormalizeConversationID(rec.ConversationID)
	if !protocol.ValidTxHash(rec.TxHash) {
		s.reject("invalid_tx_hash")
		return models.Conversation{}, fmt.Errorf("%w: %.16q", ErrInvalidTxHash, rec.TxHash)
	}
	if rec.ConversationID == "" || rec.SenderAddress == "" || rec.RecipientAddress == "" {
		s.reject("invalid")
		return models.Conversation{}, fmt.Errorf("%w: handshake needs a conversation id and both addresses", ErrInvalidConversation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	c, exists := s.conversations[rec.ConversationID]
	if convID, seen := s.handshakeTx[rec.TxHash]; seen {
		if convID != rec.ConversationID || !exists {
			s.reject("mismatch")
			return models.Conversation{}, fmt.Errorf("%w: tx %s already recorded for %s", ErrConversationMismatch, rec.TxHash, convID)
		}
		return c.Clone(), nil
	}

	if rec.IsResponse {
		if err := s.activate(c, exists, rec); err != nil {
			return models.Conversation{}, err
		}
	} else {
		var err error
		if c, err = s.open(c, exists, rec); err != nil {
			return models.Conversation{}, err
		}
	}

	s.handshakeTx[rec.TxHash] = rec.ConversationID
	s.handshakes[rec.ConversationID] = append(s.handshakes[rec.ConversationID], rec)
	return c.Clone(), nil
}

func (s *Store) open(c *models.Conversation, exists bool, rec models.HandshakeRecord) (*models.Conversation, error) {
	if !exists {
		c = &models.Conversation{
			ID:               rec.ConversationID,
			InitiatorAddress: rec.SenderAddress,
			RecipientAddress: rec.RecipientAddress,
			InitiatorAlias:   protocol.SanitizeAlias(rec.SenderAlias),
			Status:           models.StatusPending,
			HandshakeTxHash:  rec.TxHash,
			CreatedAt:        rec.Timestamp,
			UpdatedAt:        rec.Timestamp,
		}
		c.IsAdminConversation = s.isAdmin(*c)
		s.conversations[c.ID] = c
		return c, nil
	}
	probe := models.Conversation{InitiatorAddress: rec.SenderAddress, RecipientAddress: rec.RecipientAddress}
	if !samePair(*c, probe) {
		s.reject("mismatch")
		return nil, fmt.Errorf("%w: %s", ErrConversationMismatch, c.ID)
	}
	if c.HandshakeTxHash == "" {
		c.HandshakeTxHash = rec.TxHash
		c.UpdatedAt = s.later(c.UpdatedAt)
	}
	return c, nil
}

func (s *Store) activate(c *models.Conversation, exists bool, rec models.HandshakeRecord) error {
	if !exists {
		s.reject("not_found")
		return fmt.Errorf("%w: no handshake opened %s", ErrNotFound, rec.ConversationID)
	}
	if c.Status == models.StatusArchived {
		s.reject("archived")
		return ErrArchived
	}
	if !protocol.SameAddress(rec.SenderAddress, c.RecipientAddress) || !protocol.SameAddress(rec.RecipientAddress, c.InitiatorAddress) {
		s.reject("not_participant")
		return fmt.Errorf("%w: response must come from the recipient of %s", ErrNotParticipant, c.ID)
	}
	if c.HandshakeTxHash == "" {
		s.reject("not_found")
		return fmt.Errorf("%w: conversation %s has no initiating handshake", ErrNotFound, c.ID)
	}
	if c.Status == models.StatusActive {
		return nil
	}
	c.Status = models.StatusActive
	c.ResponseTxHash = rec.TxHash
	if c.RecipientAlias == "" {
		c.RecipientAlias = protocol.SanitizeAlias(rec.SenderAlias)
	}
	if rec.Timestamp.After(c.UpdatedAt) {
		c.UpdatedAt = rec.Timestamp
	} else {
		c.UpdatedAt = s.later(c.UpdatedAt)
	}
	return nil
}

// Handshakes returns the recorded handshakes of a conversation with the
// given response flag, oldest first.
func (s *Store) Handshakes(conversationID string, isResponse bool) []models.HandshakeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.HandshakeRecord, 0)
	for _, h := range s.handshakes[protocol.NormalizeConversationID(conversationID)] {
		if h.IsResponse == isResponse {
			out = append(out, h)
		}
	}
	sortHandshakes(out)
	return out
}

// LoadHandshakes restores persisted records without replaying the state
// machine; conversation state comes from Load.
func (s *Store) LoadHandshakes(ctx context.Context, recs []models.HandshakeRecord) (loaded, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		rec.ConversationID = protocol.NormalizeConversationID(rec.ConversationID)
		_, known := s.conversations[rec.ConversationID]
		if !protocol.ValidTxHash(rec.TxHash) || !known {
			dropped++
			if known {
				s.reject("invalid_tx_hash")
			} else {
				s.reject("orphan")
			}
			s.log.Warn(ctx, "dropping stored handshake", "tx", rec.TxHash, "conversation", rec.ConversationID)
			continue
		}
		if _, seen := s.handshakeTx[rec.TxHash]; seen {
			continue
		}
		s.handshakeTx[rec.TxHash] = rec.ConversationID
		s.handshakes[rec.ConversationID] = append(s.handshakes[rec.ConversationID], rec)
		loaded++
	}
	return loaded, dropped
}

func sortHandshakes(hs []models.HandshakeRecord) {
	sort.Slice(hs, func(i, j int) bool {
		if !hs[i].Timestamp.Equal(hs[j].Timestamp) {
			return hs[i].Timestamp.Before(hs[j].Timestamp)
		}
		return hs[i].TxHash < hs[j].TxHash
	})
}
