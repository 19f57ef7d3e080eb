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

import "time"

// HandshakeRecord is an observed handshake or handshake response.
// Records are never mutated; later ones for the same conversation accumulate.
type HandshakeRecord struct {
	TxHash           string    `json:"tx_hash" db:"tx_hash"`
	ConversationID   string    `json:"conversation_id" db:"conversation_id"`
	SenderAddress    string    `json:"sender_address" db:"sender_address"`
	RecipientAddress string    `json:"recipient_address" db:"recipient_address"`
	SenderAlias      string    `json:"sender_alias,omitempty" db:"sender_alias"`
	IsResponse       bool      `json:"is_response" db:"is_response"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
}

// IndexedMessage is a comm message attached to a conversation.
// EncryptedContent is the hex-decoded payload body; it is not sealed.
type IndexedMessage struct {
	ID               string    `json:"id"`
	TxHash           string    `json:"tx_hash"`
	ConversationID   string    `json:"conversation_id"`
	SenderAddress    string    `json:"sender_address"`
	EncryptedContent string    `json:"encrypted_content"`
	Timestamp        time.Time `json:"timestamp"`
}
