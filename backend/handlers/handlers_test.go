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

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/ciphindex/backend/broadcast"
	"github.com/efchatnet/ciphindex/backend/chain"
	"github.com/efchatnet/ciphindex/backend/chain/chaintest"
	"github.com/efchatnet/ciphindex/backend/conversation"
	"github.com/efchatnet/ciphindex/backend/middleware"
	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/protocol"
	"github.com/efchatnet/ciphindex/backend/storage"
	"github.com/efchatnet/ciphindex/backend/storage/memory"
	"github.com/efchatnet/ciphindex/backend/verifier"
)

const (
	alice   = "kaspa:qypalice0000000000000000000000000000000000000000000000000"
	bob     = "kaspa:qypbob000000000000000000000000000000000000000000000000000"
	carol   = "kaspa:qypcarol000000000000000000000000000000000000000000000000"
	support = "kaspa:qypsupport0000000000000000000000000000000000000000000000"
	convID  = "a1b2c3d4"
)

var stamp = time.UnixMilli(1735689600000)

func tx(c byte) string { return strings.Repeat(string(c), 64) }

type fakeTracker struct {
	mu      sync.Mutex
	tracked map[string]bool
	kicked  []string
}

func (f *fakeTracker) Track(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tracked[address] {
		return false
	}
	f.tracked[address] = true
	return true
}

func (f *fakeTracker) Kick(address string) {
	f.mu.Lock()
	f.kicked = append(f.kicked, address)
	f.mu.Unlock()
}

type env struct {
	chain   *chaintest.Fake
	store   *conversation.Store
	persist *memory.Store
	tracker *fakeTracker
	router  *mux.Router
}

// asCaller stands in for the JWT middleware.
func asCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if addr := r.Header.Get("X-Address"); addr != "" {
			r = r.WithContext(middleware.WithAddress(r.Context(), addr))
		}
		next.ServeHTTP(w, r)
	})
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWith(t, func(s *memory.Store) storage.Store { return s })
}

// newEnvWith lets a test wrap the engine the handlers write to.
func newEnvWith(t *testing.T, wrap func(*memory.Store) storage.Store) *env {
	t.Helper()
	e := &env{
		chain:   chaintest.New(),
		store:   conversation.NewStore(support, nil, nil),
		persist: memory.NewStore(),
		tracker: &fakeTracker{tracked: make(map[string]bool)},
		router:  mux.NewRouter(),
	}
	v := verifier.New(chain.Networks{Mainnet: e.chain}, verifier.Config{AcceptMissingPayload: true}, nil, nil)
	persist := wrap(e.persist)
	hs := NewHandshakeHandler(e.store, persist, v, e.tracker, nil)
	msgs := NewMessageHandler(e.store, persist, v, nil)
	convs := NewConversationHandler(e.store, persist, e.tracker, support, nil)

	api := e.router.PathPrefix("/api/indexer").Subrouter()
	api.Use(asCaller)
	api.HandleFunc("/handshake/prepare", hs.PrepareHandshake).Methods("POST")
	api.HandleFunc("/handshake/submit", hs.SubmitHandshake).Methods("POST")
	api.HandleFunc("/message/prepare", msgs.PrepareMessage).Methods("POST")
	api.HandleFunc("/message/submit", msgs.SubmitMessage).Methods("POST")
	api.HandleFunc("/conversations", convs.ListConversations).Methods("GET")
	api.HandleFunc("/conversations/pending", convs.PendingConversations).Methods("GET")
	api.HandleFunc("/conversations/active", convs.ActiveConversations).Methods("GET")
	api.HandleFunc("/conversations/{id}", convs.GetConversation).Methods("GET")
	api.HandleFunc("/conversations/{id}/messages", convs.GetMessages).Methods("GET")
	api.HandleFunc("/conversations/{id}/archive", convs.ArchiveConversation).Methods("POST")
	api.HandleFunc("/classify", Classify).Methods("POST")
	return e
}

func (e *env) do(t *testing.T, method, path, as string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as != "" {
		req.Header.Set("X-Address", as)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) broadcastHandshake(t *testing.T, txHash, from, to, alias string, response bool) {
	t.Helper()
	payload, err := protocol.Handshake{
		SenderAlias:      alias,
		RecipientAddress: to,
		ConversationID:   convID,
		IsResponse:       response,
	}.Encode(stamp)
	require.NoError(t, err)
	e.chain.Broadcast(txHash, payload, from)
}

func submit(txHash, to, alias string, response bool) map[string]interface{} {
	return map[string]interface{}{
		"tx_hash":           txHash,
		"recipient_address": to,
		"conversation_id":   convID,
		"alias":             alias,
		"is_response":       response,
	}
}

func decodeConversation(t *testing.T, rec *httptest.ResponseRecorder) models.Conversation {
	t.Helper()
	var out struct {
		Conversation models.Conversation `json:"conversation"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out.Conversation
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out["error"]
}

// openActive runs the alice to bob handshake and response through the API.
func (e *env) openActive(t *testing.T) {
	t.Helper()
	e.broadcastHandshake(t, tx('1'), alice, bob, "Alice", false)
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/api/indexer/handshake/submit", alice, submit(tx('1'), bob, "Alice", false)).Code)
	e.broadcastHandshake(t, tx('2'), bob, alice, "Bob", true)
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/api/indexer/handshake/submit", bob, submit(tx('2'), alice, "Bob", true)).Code)
}

func TestPrepareHandshake(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/api/indexer/handshake/prepare", alice, map[string]interface{}{
		"recipient_address": bob,
		"alias":             "Alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var prepared broadcast.Prepared
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&prepared))
	assert.Equal(t, protocol.ConversationID(alice, bob), prepared.ConversationID)
	assert.Equal(t, protocol.KindHandshake, protocol.Decode(prepared.PayloadHex).Kind)
	assert.True(t, strings.HasPrefix(prepared.MessageToSign, "ciph_msg:sign:handshake:"))

	rec = e.do(t, "POST", "/api/indexer/handshake/prepare", bob, map[string]interface{}{
		"recipient_address": alice,
		"conversation_id":   convID,
		"alias":             "Bob",
		"is_response":       true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&prepared))
	assert.Equal(t, convID, prepared.ConversationID)
	assert.Equal(t, protocol.KindHandshakeResponse, protocol.Decode(prepared.PayloadHex).Kind)

	assert.Equal(t, http.StatusBadRequest, e.do(t, "POST", "/api/indexer/handshake/prepare", alice, map[string]string{"recipient_address": alice}).Code)
	assert.Equal(t, http.StatusUnauthorized, e.do(t, "POST", "/api/indexer/handshake/prepare", "", map[string]string{"recipient_address": bob}).Code)
}

func TestSubmitHandshake_PendingThenActive(t *testing.T) {
	e := newEnv(t)

	e.broadcastHandshake(t, tx('1'), alice, bob, "Alice", false)
	rec := e.do(t, "POST", "/api/indexer/handshake/submit", alice, submit(tx('1'), bob, "Alice", false))
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decodeConversation(t, rec)
	assert.Equal(t, models.StatusPending, c.Status)
	assert.Equal(t, "Alice", c.InitiatorAlias)

	e.broadcastHandshake(t, tx('2'), bob, alice, "Bob", true)
	rec = e.do(t, "POST", "/api/indexer/handshake/submit", bob, submit(tx('2'), alice, "Bob", true))
	require.Equal(t, http.StatusCreated, rec.Code)
	c = decodeConversation(t, rec)
	assert.Equal(t, models.StatusActive, c.Status)
	assert.Equal(t, tx('1'), c.HandshakeTxHash)
	assert.Equal(t, tx('2'), c.ResponseTxHash)

	saved, err := e.persist.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, saved.Status)
	hs, err := e.persist.ListHandshakes(context.Background(), convID)
	require.NoError(t, err)
	assert.Len(t, hs, 2)
	assert.True(t, e.tracker.tracked[alice])
}

func TestSubmitHandshake_Rejections(t *testing.T) {
	e := newEnv(t)

	// Handshake into another conversation replayed as ours
	forged, err := protocol.Handshake{SenderAlias: "Alice", RecipientAddress: bob, ConversationID: "deadbeef"}.Encode(stamp)
	require.NoError(t, err)
	e.chain.Broadcast(tx('3'), forged, alice)
	e.chain.Broadcast(tx('4'), protocol.ToHex(protocol.EncodeComm(convID, "hi")), alice)
	e.broadcastHandshake(t, tx('5'), carol, bob, "Carol", false)

	cases := []struct {
		name   string
		as     string
		body   map[string]interface{}
		status int
		code   string
	}{
		{"unknown tx", alice, submit(tx('9'), bob, "Alice", false), http.StatusNotFound, "tx_not_found"},
		{"forged conversation", alice, submit(tx('3'), bob, "Alice", false), http.StatusConflict, "binding_mismatch"},
		{"comm as handshake", alice, submit(tx('4'), bob, "Alice", false), http.StatusUnprocessableEntity, "type_mismatch"},
		{"someone else's tx", alice, submit(tx('5'), bob, "Alice", false), http.StatusConflict, "binding_mismatch"},
		{"malformed hash", alice, submit("{\"tx\":1}", bob, "Alice", false), http.StatusBadRequest, "invalid_tx_hash"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, "POST", "/api/indexer/handshake/submit", tc.as, tc.body)
			require.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
	assert.Empty(t, e.store.Snapshot().Conversations)
}

func TestSubmitHandshake_ResponseWithoutHandshake(t *testing.T) {
	e := newEnv(t)
	e.broadcastHandshake(t, tx('2'), bob, alice, "Bob", true)

	rec := e.do(t, "POST", "/api/indexer/handshake/submit", bob, submit(tx('2'), alice, "Bob", true))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "conversation_not_found", errorCode(t, rec))
}

func TestSubmitHandshake_ChainUnavailable(t *testing.T) {
	e := newEnv(t)
	e.chain.Err = errors.New("node down")

	rec := e.do(t, "POST", "/api/indexer/handshake/submit", alice, submit(tx('1'), bob, "Alice", false))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "chain_unavailable", errorCode(t, rec))
}

func TestMessages(t *testing.T) {
	e := newEnv(t)
	e.openActive(t)

	rec := e.do(t, "POST", "/api/indexer/message/prepare", alice, map[string]string{"conversation_id": convID, "content": "hello bob"})
	require.Equal(t, http.StatusOK, rec.Code)
	var prepared broadcast.Prepared
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&prepared))
	e.chain.Broadcast(tx('a'), prepared.PayloadHex, alice)

	body := map[string]string{"tx_hash": tx('a'), "conversation_id": convID, "content": "tampered"}
	rec = e.do(t, "POST", "/api/indexer/message/submit", alice, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = e.do(t, "POST", "/api/indexer/message/submit", alice, body)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, "GET", "/api/indexer/conversations/"+convID+"/messages?limit=10", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Messages []models.IndexedMessage `json:"messages"`
		Count    int                     `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Equal(t, 1, page.Count)
	assert.Equal(t, "hello bob", page.Messages[0].EncryptedContent)

	stored, err := e.persist.GetMessages(context.Background(), convID, 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	assert.Equal(t, http.StatusBadRequest, e.do(t, "GET", "/api/indexer/conversations/"+convID+"/messages?offset=-1", bob, nil).Code)
}

func TestSubmitMessage_Rejections(t *testing.T) {
	e := newEnv(t)
	e.openActive(t)

	e.chain.Broadcast(tx('b'), protocol.ToHex(protocol.EncodeComm(convID, "from carol")), carol)
	e.chain.Broadcast(tx('c'), protocol.ToHex(protocol.EncodeComm("deadbeef", "elsewhere")), bob)

	rec := e.do(t, "POST", "/api/indexer/message/submit", bob, map[string]string{"tx_hash": tx('b'), "conversation_id": convID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, "POST", "/api/indexer/message/submit", bob, map[string]string{"tx_hash": tx('c'), "conversation_id": convID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, "POST", "/api/indexer/message/submit", carol, map[string]string{"tx_hash": tx('b'), "conversation_id": convID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, "POST", "/api/indexer/message/prepare", alice, map[string]string{"conversation_id": "00000000", "content": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Empty(t, e.store.MessagesFor(convID, 0, 0))
}

func TestConversations(t *testing.T) {
	e := newEnv(t)
	e.openActive(t)

	rec := e.do(t, "GET", "/api/indexer/conversations", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Conversations []models.Conversation `json:"conversations"`
		Count         int                   `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)
	assert.Empty(t, e.tracker.kicked, "submitting already tracked bob")

	e.do(t, "GET", "/api/indexer/conversations", support, nil)
	e.do(t, "GET", "/api/indexer/conversations", support, nil)
	assert.Equal(t, []string{support}, e.tracker.kicked)

	assert.Equal(t, http.StatusOK, e.do(t, "GET", "/api/indexer/conversations/"+convID, alice, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, "GET", "/api/indexer/conversations/"+convID, carol, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, "GET", "/api/indexer/conversations/"+convID, support, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, "GET", "/api/indexer/conversations/00000000", alice, nil).Code)

	assert.Equal(t, http.StatusForbidden, e.do(t, "GET", "/api/indexer/conversations/active", alice, nil).Code)
	rec = e.do(t, "GET", "/api/indexer/conversations/active", support, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 1, list.Count)
	rec = e.do(t, "GET", "/api/indexer/conversations/pending", support, nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, 0, list.Count)
}

func TestArchiveConversation(t *testing.T) {
	e := newEnv(t)
	e.openActive(t)

	assert.Equal(t, http.StatusForbidden, e.do(t, "POST", "/api/indexer/conversations/"+convID+"/archive", carol, nil).Code)
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/api/indexer/conversations/"+convID+"/archive", bob, nil).Code)

	saved, err := e.persist.GetConversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, saved.Status)

	rec := e.do(t, "POST", "/api/indexer/message/prepare", alice, map[string]string{"conversation_id": convID, "content": "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestClassifyAndHealth(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, "POST", "/api/indexer/classify", alice, map[string]string{"payload_hex": protocol.ToHex(protocol.EncodeComm(convID, "x"))})
	require.Equal(t, http.StatusOK, rec.Code)
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	assert.Equal(t, "comm", out["kind"])
	assert.Equal(t, true, out["is_protocol"])

	rec = httptest.NewRecorder()
	Health()(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	Health(func(context.Context) error { return errors.New("down") })(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// deadlineStore records the deadline of every write.
type deadlineStore struct {
	*memory.Store
	mu        sync.Mutex
	deadlines []time.Duration
}

func (d *deadlineStore) note(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	left := time.Duration(-1)
	if dl, ok := ctx.Deadline(); ok {
		left = time.Until(dl)
	}
	d.deadlines = append(d.deadlines, left)
}

func (d *deadlineStore) SaveHandshake(ctx context.Context, rec models.HandshakeRecord) error {
	d.note(ctx)
	return d.Store.SaveHandshake(ctx, rec)
}

func (d *deadlineStore) CreateConversation(ctx context.Context, c models.Conversation) error {
	d.note(ctx)
	return d.Store.CreateConversation(ctx, c)
}

func (d *deadlineStore) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus, responseTxHash string) error {
	d.note(ctx)
	return d.Store.UpdateConversationStatus(ctx, id, status, responseTxHash)
}

func (d *deadlineStore) CreatePrivateMessage(ctx context.Context, msg models.IndexedMessage) error {
	d.note(ctx)
	return d.Store.CreatePrivateMessage(ctx, msg)
}

func TestPersistenceWritesHaveDeadline(t *testing.T) {
	rec := &deadlineStore{}
	e := newEnvWith(t, func(s *memory.Store) storage.Store {
		rec.Store = s
		return rec
	})
	e.openActive(t)

	e.chain.Broadcast(tx('a'), protocol.ToHex(protocol.EncodeComm(convID, "sealed")), alice)
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/api/indexer/message/submit", alice, map[string]string{
		"tx_hash":         tx('a'),
		"conversation_id": convID,
	}).Code)
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/api/indexer/conversations/"+convID+"/archive", alice, nil).Code)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// two writes per handshake, one message, one archive
	require.Len(t, rec.deadlines, 6)
	for _, left := range rec.deadlines {
		assert.Greater(t, left, time.Duration(0))
		assert.LessOrEqual(t, left, persistTimeout)
	}
}
