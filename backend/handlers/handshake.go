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
	"encoding/json"
	"net/http"

	"github.com/efchatnet/ciphindex/backend/broadcast"
	"github.com/efchatnet/ciphindex/backend/conversation"
	"github.com/efchatnet/ciphindex/backend/logging"
	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/protocol"
	"github.com/efchatnet/ciphindex/backend/storage"
	"github.com/efchatnet/ciphindex/backend/verifier"
)

type HandshakeHandler struct {
	store    *conversation.Store
	persist  storage.Store
	verifier TxVerifier
	preparer broadcast.Preparer
	tracker  Tracker
	log      logging.Logger
}

func NewHandshakeHandler(store *conversation.Store, persist storage.Store, v TxVerifier, tracker Tracker, log logging.Logger) *HandshakeHandler {
	return &HandshakeHandler{
		store:    store,
		persist:  persist,
		verifier: v,
		tracker:  tracker,
		log:      logging.OrNop(log).With("component", "handshake_handler"),
	}
}

type handshakeRequest struct {
	TxHash           string `json:"tx_hash"`
	RecipientAddress string `json:"recipient_address"`
	ConversationID   string `json:"conversation_id"`
	Alias            string `json:"alias"`
	IsResponse       bool   `json:"is_response"`
}

// PrepareHandshake builds the payload the caller's wallet must broadcast
func (h *HandshakeHandler) PrepareHandshake(w http.ResponseWriter, r *http.Request) {
	sender, ok := caller(w, r)
	if !ok {
		return
	}

	var req handshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RecipientAddress == "" || protocol.SameAddress(sender, req.RecipientAddress) {
		http.Error(w, "Invalid recipient address", http.StatusBadRequest)
		return
	}

	prepared, err := h.preparer.PrepareHandshake(sender, req.RecipientAddress, req.ConversationID, req.Alias, req.IsResponse)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, prepared)
}

// SubmitHandshake verifies a broadcast handshake and records it. A response
// activates the conversation it answers.
func (h *HandshakeHandler) SubmitHandshake(w http.ResponseWriter, r *http.Request) {
	sender, ok := caller(w, r)
	if !ok {
		return
	}

	var req handshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RecipientAddress == "" || protocol.SameAddress(sender, req.RecipientAddress) {
		http.Error(w, "Invalid recipient address", http.StatusBadRequest)
		return
	}
	if !protocol.ValidTxHash(req.TxHash) {
		writeError(w, conversation.ErrInvalidTxHash)
		return
	}

	convID := protocol.NormalizeConversationID(req.ConversationID)
	if convID == "" {
		convID = protocol.ConversationID(sender, req.RecipientAddress)
	}
	kind := protocol.KindHandshake
	if req.IsResponse {
		kind = protocol.KindHandshakeResponse
	}

	res, err := h.verifier.Verify(r.Context(), req.TxHash, kind, verifier.Binding{
		ConversationID:   convID,
		RecipientAddress: req.RecipientAddress,
		SenderAddress:    sender,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	alias := req.Alias
	if res.Payload.Alias != "" {
		alias = res.Payload.Alias
	}
	rec := models.HandshakeRecord{
		TxHash:           req.TxHash,
		ConversationID:   convID,
		SenderAddress:    sender,
		RecipientAddress: req.RecipientAddress,
		SenderAlias:      protocol.SanitizeAlias(alias),
		IsResponse:       req.IsResponse,
		Timestamp:        res.BlockTime,
	}
	conv, err := h.store.RecordHandshake(rec)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = conv.UpdatedAt
	}

	if h.persist != nil {
		ctx, cancel := persistContext(r)
		defer cancel()
		if err := h.persist.SaveHandshake(ctx, rec); err != nil {
			h.log.Error(r.Context(), "persist handshake failed", "tx", rec.TxHash, "error", err)
			http.Error(w, "Failed to save handshake", http.StatusInternalServerError)
			return
		}
		if err := h.persist.CreateConversation(ctx, conv); err != nil {
			h.log.Error(r.Context(), "persist conversation failed", "id", conv.ID, "error", err)
			http.Error(w, "Failed to save conversation", http.StatusInternalServerError)
			return
		}
	}
	if h.tracker != nil {
		h.tracker.Track(sender)
	}

	h.log.Info(r.Context(), "handshake recorded", "tx", rec.TxHash, "conversation", conv.ID, "status", string(conv.Status))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"conversation":     conv,
		"payload_verified": res.PayloadVerified,
	})
}
