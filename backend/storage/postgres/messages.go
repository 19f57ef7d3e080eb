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

	"github.com/efchatnet/ciphindex/backend/models"
)

func (s *Store) CreatePrivateMessage(ctx context.Context, msg models.IndexedMessage) error {
	return s.msgStore.CreatePrivateMessage(ctx, msg)
}

func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int) ([]models.IndexedMessage, error) {
	return s.msgStore.GetMessages(ctx, conversationID, limit)
}
