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

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/storage"
)

const (
	// Redis key prefixes
	msgConversationPrefix = "msg:conv:"   // msg:conv:{conversationId} - sorted set of tx hashes scored by timestamp
	msgDataPrefix         = "msg:data:"   // msg:data:{txHash} - message JSON
	msgNotifyPrefix       = "msg:notify:" // msg:notify:{conversationId} - pub/sub channel
)

// MessageStore keeps indexed messages in Redis. Messages mirror on-chain
// data, so by default they never expire.
type MessageStore struct {
	rdb       *redis.Client
	retention time.Duration
}

func NewMessageStore(rdb *redis.Client) *MessageStore {
	return &MessageStore{rdb: rdb}
}

// WithRetention sets a TTL on stored messages. Zero keeps them forever.
func (s *MessageStore) WithRetention(ttl time.Duration) *MessageStore {
	s.retention = ttl
	return s
}

var _ storage.MessageStore = (*MessageStore)(nil)

// CreatePrivateMessage stores msg unless its tx hash is already known and
// notifies subscribers of the conversation.
func (s *MessageStore) CreatePrivateMessage(ctx context.Context, msg models.IndexedMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	created, err := s.rdb.SetNX(ctx, msgDataPrefix+msg.TxHash, data, s.retention).Result()
	if err != nil {
		return fmt.Errorf("failed to store message: %w", err)
	}
	if !created {
		return nil
	}

	convKey := msgConversationPrefix + msg.ConversationID
	if err := s.rdb.ZAdd(ctx, convKey, redis.Z{
		Score:  float64(msg.Timestamp.UnixMilli()),
		Member: msg.TxHash,
	}).Err(); err != nil {
		return fmt.Errorf("failed to index message: %w", err)
	}

	notification, _ := json.Marshal(map[string]string{
		"type":            "new_message",
		"conversation_id": msg.ConversationID,
		"tx_hash":         msg.TxHash,
		"sender_address":  msg.SenderAddress,
	})
	s.rdb.Publish(ctx, msgNotifyPrefix+msg.ConversationID, notification)
	return nil
}

// GetMessages returns the newest limit messages oldest first; limit <= 0
// returns all of them.
func (s *MessageStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]models.IndexedMessage, error) {
	convKey := msgConversationPrefix + conversationID

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	txHashes, err := s.rdb.ZRange(ctx, convKey, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get message index: %w", err)
	}

	msgs := make([]models.IndexedMessage, 0, len(txHashes))
	for _, txHash := range txHashes {
		data, err := s.rdb.Get(ctx, msgDataPrefix+txHash).Result()
		if err == redis.Nil {
			// Expired, drop it from the index
			s.rdb.ZRem(ctx, convKey, txHash)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("failed to get message: %w", err)
		}

		var msg models.IndexedMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue // Skip malformed messages
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Subscribe listens for new messages of a conversation.
func (s *MessageStore) Subscribe(ctx context.Context, conversationID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, msgNotifyPrefix+conversationID)
}
