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

// Package postgres stores conversations and handshake records in
// PostgreSQL. Indexed messages are delegated to the Redis message store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/ciphindex/backend/storage"
	redisStore "github.com/efchatnet/ciphindex/backend/storage/redis"
)

type Store struct {
	db       *sql.DB
	redis    *redis.Client
	msgStore *redisStore.MessageStore
}

func NewStore(db *sql.DB, redis *redis.Client) *Store {
	return &Store{
		db:       db,
		redis:    redis,
		msgStore: redisStore.NewMessageStore(redis),
	}
}

var _ storage.Store = (*Store)(nil)

// Ping checks the database and Redis connections.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}
