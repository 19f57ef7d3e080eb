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

package postgres

func (s *Store) Migrate() error {
	migrations := []string{
		// Conversations table
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id VARCHAR(64) PRIMARY KEY,
			initiator_address VARCHAR(128) NOT NULL,
			recipient_address VARCHAR(128) NOT NULL,
			initiator_alias VARCHAR(32) NOT NULL DEFAULT '',
			recipient_alias VARCHAR(32) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL CHECK (status IN ('pending', 'active', 'archived')),
			handshake_tx_hash CHAR(64),
			response_tx_hash CHAR(64),
			is_admin_conversation BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_message_at TIMESTAMP
		)`,

		// Index for listing by status
		`CREATE INDEX IF NOT EXISTS idx_conversations_status
		ON conversations(status, updated_at DESC)`,

		// Index for finding a wallet's conversations
		`CREATE INDEX IF NOT EXISTS idx_conversations_participants
		ON conversations(LOWER(initiator_address), LOWER(recipient_address))`,

		// Handshake records table (append only)
		`CREATE TABLE IF NOT EXISTS handshake_records (
			tx_hash CHAR(64) PRIMARY KEY,
			conversation_id VARCHAR(64) NOT NULL,
			sender_address VARCHAR(128) NOT NULL,
			recipient_address VARCHAR(128) NOT NULL,
			sender_alias VARCHAR(32) NOT NULL DEFAULT '',
			is_response BOOLEAN NOT NULL DEFAULT FALSE,
			timestamp TIMESTAMP NOT NULL
		)`,

		// Index for handshake lookup per conversation
		`CREATE INDEX IF NOT EXISTS idx_handshake_conversation
		ON handshake_records(conversation_id, timestamp)`,

		// Note: indexed messages are stored in Redis
		// No PostgreSQL tables needed for messages
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
