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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/efchatnet/ciphindex/backend/conversation"
	"github.com/efchatnet/ciphindex/backend/middleware"
	"github.com/efchatnet/ciphindex/backend/protocol"
	"github.com/efchatnet/ciphindex/backend/verifier"
)

// TxVerifier checks a broadcast transaction against what the caller claims.
type TxVerifier interface {
	Verify(ctx context.Context, txHash string, expected protocol.Kind, b verifier.Binding) (*verifier.Result, error)
}

// persistTimeout bounds the storage writes made while answering a request.
const persistTimeout = 5 * time.Second

func persistContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), persistTimeout)
}

// Tracker is told about every wallet that lists its conversations.
type Tracker interface {
	Track(address string) bool
	Kick(address string)
}

type failure struct {
	status int
	code   string
}

// failures maps sentinel errors to a status and a stable code. Callers need
// the code to tell a missing transaction from a forged one.
var failures = []struct {
	err error
	failure
}{
	{verifier.ErrTxNotFound, failure{http.StatusNotFound, "tx_not_found"}},
	{verifier.ErrBindingMismatch, failure{http.StatusConflict, "binding_mismatch"}},
	{verifier.ErrSenderUnresolved, failure{http.StatusConflict, "sender_unresolved"}},
	{verifier.ErrTypeMismatch, failure{http.StatusUnprocessableEntity, "type_mismatch"}},
	{verifier.ErrNotProtocol, failure{http.StatusUnprocessableEntity, "not_protocol"}},
	{verifier.ErrChainUnavailable, failure{http.StatusBadGateway, "chain_unavailable"}},
	{conversation.ErrNotFound, failure{http.StatusNotFound, "conversation_not_found"}},
	{conversation.ErrNotParticipant, failure{http.StatusForbidden, "not_participant"}},
	{conversation.ErrArchived, failure{http.StatusConflict, "archived"}},
	{conversation.ErrConversationMismatch, failure{http.StatusConflict, "conversation_mismatch"}},
	{conversation.ErrInvalidTxHash, failure{http.StatusBadRequest, "invalid_tx_hash"}},
	{conversation.ErrInvalidConversation, failure{http.StatusBadRequest, "invalid_conversation"}},
}

func classifyError(err error) failure {
	for _, f := range failures {
		if errors.Is(err, f.err) {
			return f.failure
		}
	}
	return failure{http.StatusInternalServerError, "internal"}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError reports err with the status its sentinel maps to.
func writeError(w http.ResponseWriter, err error) {
	f := classifyError(err)
	msg := err.Error()
	if f.status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, f.status, map[string]string{
		"error":  f.code,
		"detail": msg,
	})
}

func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr, ok := middleware.GetAddress(r)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return addr, ok
}
