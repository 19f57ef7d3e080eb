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

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/efchatnet/ciphindex/backend/models"
)

const handshakeColumns = `tx_hash, conversation_id, sender_address, recipient_address, sender_alias, is_response, timestamp`

func (s *Store) SaveHandshake(ctx context.Context, rec models.HandshakeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO handshake_records (`+handshakeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash) DO NOTHING`,
		rec.TxHash, rec.ConversationID, rec.SenderAddress, rec.RecipientAddress,
		rec.SenderAlias, rec.IsResponse, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("save handshake %s: %w", rec.TxHash, err)
	}
	return nil
}

func (s *Store) ListHandshakes(ctx context.Context, conversationID string) ([]models.HandshakeRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if conversationID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+handshakeColumns+` FROM handshake_records
			ORDER BY timestamp, tx_hash`)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+handshakeColumns+` FROM handshake_records
			WHERE conversation_id = $1
			ORDER BY timestamp, tx_hash`, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("list handshakes: %w", err)
	}
	defer rows.Close()

	var out []models.HandshakeRecord
	for rows.Next() {
		var h models.HandshakeRecord
		if err := rows.Scan(&h.TxHash, &h.ConversationID, &h.SenderAddress, &h.RecipientAddress,
			&h.SenderAlias, &h.IsResponse, &h.Timestamp); err != nil {
			return nil, fmt.Errorf("scan handshake: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
