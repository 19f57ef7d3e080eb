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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/ciphindex/backend/models"
)

func newTestStore(t *testing.T) (*MessageStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewMessageStore(rdb), mr
}

func message(i int) models.IndexedMessage {
	return models.IndexedMessage{
		ID:               fmt.Sprintf("id-%d", i),
		TxHash:           fmt.Sprintf("%064x", i),
		ConversationID:   "a1b2c3d4",
		SenderAddress:    "kaspa:qalice",
		EncryptedContent: fmt.Sprintf("hello %d", i),
		Timestamp:        time.UnixMilli(int64(1735689600000 + i)),
	}
}

func TestCreatePrivateMessage_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.CreatePrivateMessage(ctx, message(1)))
	dup := message(1)
	dup.EncryptedContent = "changed"
	require.NoError(t, s.CreatePrivateMessage(ctx, dup))

	members, err := mr.ZMembers(msgConversationPrefix + "a1b2c3d4")
	require.NoError(t, err)
	assert.Len(t, members, 1)

	msgs, err := s.GetMessages(ctx, "a1b2c3d4", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello 1", msgs[0].EncryptedContent)
}

func TestGetMessages_NewestWindowOldestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, i := range []int{3, 1, 4, 2, 5} {
		require.NoError(t, s.CreatePrivateMessage(ctx, message(i)))
	}

	msgs, err := s.GetMessages(ctx, "a1b2c3d4", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello 4", msgs[0].EncryptedContent)
	assert.Equal(t, "hello 5", msgs[1].EncryptedContent)

	all, err := s.GetMessages(ctx, "a1b2c3d4", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.True(t, all[0].Timestamp.Before(all[4].Timestamp))
}

func TestGetMessages_DropsExpired(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	s.WithRetention(time.Minute)

	require.NoError(t, s.CreatePrivateMessage(ctx, message(1)))
	mr.FastForward(2 * time.Minute)

	msgs, err := s.GetMessages(ctx, "a1b2c3d4", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	members, err := mr.ZMembers(msgConversationPrefix + "a1b2c3d4")
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestCreatePrivateMessage_Notifies(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	sub := s.Subscribe(ctx, "a1b2c3d4")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, s.CreatePrivateMessage(ctx, message(7)))

	select {
	case m := <-sub.Channel():
		var note map[string]string
		require.NoError(t, json.Unmarshal([]byte(m.Payload), &note))
		assert.Equal(t, "new_message", note["type"])
		assert.Equal(t, fmt.Sprintf("%064x", 7), note["tx_hash"])
	case <-time.After(2 * time.Second):
		t.Fatal("no notification received")
	}
}
