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
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/storage"
)

const conversationColumns = `conversation_id, initiator_address, recipient_address, initiator_alias,
	recipient_alias, status, handshake_tx_hash, response_tx_hash, is_admin_conversation,
	created_at, updated_at, last_message_at`

var allStatuses = []string{
	string(models.StatusPending),
	string(models.StatusActive),
	string(models.StatusArchived),
}

// CreateConversation upserts the full record. The conversation store has
// already merged local and remote state, so the row is overwritten.
func (s *Store) CreateConversation(ctx context.Context, c models.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (conversation_id) DO UPDATE
		SET initiator_alias = $4, recipient_alias = $5, status = $6,
			handshake_tx_hash = $7, response_tx_hash = $8, is_admin_conversation = $9,
			created_at = $10, updated_at = $11, last_message_at = $12`,
		c.ID, c.InitiatorAddress, c.RecipientAddress, c.InitiatorAlias, c.RecipientAlias,
		string(c.Status), nullString(c.HandshakeTxHash), nullString(c.ResponseTxHash),
		c.IsAdminConversation, c.CreatedAt, c.UpdatedAt, nullTime(c.LastMessageAt))
	if err != nil {
		return fmt.Errorf("upsert conversation %s: %w", c.ID, err)
	}
	return nil
}

// UpdateConversationStatus sets the status, and the response tx hash when
// one is given.
func (s *Store) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus, responseTxHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = $2, response_tx_hash = COALESCE($3, response_tx_hash), updated_at = CURRENT_TIMESTAMP
		WHERE conversation_id = $1`,
		id, string(status), nullString(responseTxHash))
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE conversation_id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) ListConversationsByStatus(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error) {
	statuses := allStatuses
	if status != "" {
		statuses = []string{string(status)}
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE status = ANY($1)
		ORDER BY conversation_id`,
		pq.Array(statuses))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var (
		c         models.Conversation
		status    string
		handshake sql.NullString
		response  sql.NullString
		last      sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.InitiatorAddress, &c.RecipientAddress, &c.InitiatorAlias,
		&c.RecipientAlias, &status, &handshake, &response, &c.IsAdminConversation,
		&c.CreatedAt, &c.UpdatedAt, &last); err != nil {
		return nil, err
	}
	c.Status = models.ConversationStatus(status)
	c.HandshakeTxHash = handshake.String
	c.ResponseTxHash = response.String
	if last.Valid {
		t := last.Time
		c.LastMessageAt = &t
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
