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

package models

import (
	"time"

	"github.com/efchatnet/ciphindex/backend/protocol"
)

type ConversationStatus string

const (
	// StatusPending means a handshake was sent and no response seen yet
	StatusPending ConversationStatus = "pending"
	// StatusActive means a response handshake was observed
	StatusActive ConversationStatus = "active"
	// StatusArchived means the conversation was explicitly closed
	StatusArchived ConversationStatus = "archived"
)

func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusArchived:
		return true
	}
	return false
}

// Conversation is a two-party conversation between wallet addresses
type Conversation struct {
	ID                  string             `json:"id" db:"conversation_id"`
	InitiatorAddress    string             `json:"initiator_address" db:"initiator_address"`
	RecipientAddress    string             `json:"recipient_address" db:"recipient_address"`
	InitiatorAlias      string             `json:"initiator_alias,omitempty" db:"initiator_alias"`
	RecipientAlias      string             `json:"recipient_alias,omitempty" db:"recipient_alias"`
	Status              ConversationStatus `json:"status" db:"status"`
	HandshakeTxHash     string             `json:"handshake_tx_hash,omitempty" db:"handshake_tx_hash"`
	ResponseTxHash      string             `json:"response_tx_hash,omitempty" db:"response_tx_hash"`
	IsAdminConversation bool               `json:"is_admin_conversation" db:"is_admin_conversation"`
	CreatedAt           time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at" db:"updated_at"`
	LastMessageAt       *time.Time         `json:"last_message_at,omitempty" db:"last_message_at"`
}

// HasParticipant reports whether addr is one of the two parties
func (c Conversation) HasParticipant(addr string) bool {
	return protocol.SameAddress(c.InitiatorAddress, addr) || protocol.SameAddress(c.RecipientAddress, addr)
}

// Peer returns the other party from addr's point of view
func (c Conversation) Peer(addr string) string {
	if protocol.SameAddress(c.InitiatorAddress, addr) {
		return c.RecipientAddress
	}
	return c.InitiatorAddress
}

// RecentAt is the timestamp conversations are sorted by
func (c Conversation) RecentAt() time.Time {
	if c.LastMessageAt != nil && c.LastMessageAt.After(c.UpdatedAt) {
		return *c.LastMessageAt
	}
	return c.UpdatedAt
}

// Equal compares every field, treating times by instant
func (c Conversation) Equal(o Conversation) bool {
	if c.ID != o.ID ||
		c.InitiatorAddress != o.InitiatorAddress ||
		c.RecipientAddress != o.RecipientAddress ||
		c.InitiatorAlias != o.InitiatorAlias ||
		c.RecipientAlias != o.RecipientAlias ||
		c.Status != o.Status ||
		c.HandshakeTxHash != o.HandshakeTxHash ||
		c.ResponseTxHash != o.ResponseTxHash ||
		c.IsAdminConversation != o.IsAdminConversation ||
		!c.CreatedAt.Equal(o.CreatedAt) ||
		!c.UpdatedAt.Equal(o.UpdatedAt) {
		return false
	}
	switch {
	case c.LastMessageAt == nil && o.LastMessageAt == nil:
		return true
	case c.LastMessageAt == nil || o.LastMessageAt == nil:
		return false
	}
	return c.LastMessageAt.Equal(*o.LastMessageAt)
}

// Clone copies the conversation including the LastMessageAt pointer target
func (c Conversation) Clone() Conversation {
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		c.LastMessageAt = &t
	}
	return c
}
