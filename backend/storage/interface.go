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

package storage

import (
	"context"
	"errors"

	"github.com/efchatnet/ciphindex/backend/models"
)

var ErrNotFound = errors.New("record not found")

type ConversationStore interface {
	// CreateConversation inserts or replaces the record with the same id
	CreateConversation(ctx context.Context, c models.Conversation) error
	UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus, responseTxHash string) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// ListConversationsByStatus returns every conversation when status is empty
	ListConversationsByStatus(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error)
}

type HandshakeStore interface {
	// SaveHandshake ignores records whose tx hash is already stored
	SaveHandshake(ctx context.Context, rec models.HandshakeRecord) error
	// ListHandshakes returns records oldest first, all of them for an empty id
	ListHandshakes(ctx context.Context, conversationID string) ([]models.HandshakeRecord, error)
}

type MessageStore interface {
	// CreatePrivateMessage ignores messages whose tx hash is already stored
	CreatePrivateMessage(ctx context.Context, msg models.IndexedMessage) error
	// GetMessages returns the newest limit messages, oldest first
	GetMessages(ctx context.Context, conversationID string, limit int) ([]models.IndexedMessage, error)
}

type Store interface {
	ConversationStore
	HandshakeStore
	MessageStore
}
