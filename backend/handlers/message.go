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
	"errors"
	"net/http"

	"github.com/efchatnet/ciphindex/backend/broadcast"
	"github.com/efchatnet/ciphindex/backend/conversation"
	"github.com/efchatnet/ciphindex/backend/logging"
	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/protocol"
	"github.com/efchatnet/ciphindex/backend/storage"
	"github.com/efchatnet/ciphindex/backend/verifier"
)

type MessageHandler struct {
	store    *conversation.Store
	persist  storage.Store
	verifier TxVerifier
	preparer broadcast.Preparer
	log      logging.Logger
}

func NewMessageHandler(store *conversation.Store, persist storage.Store, v TxVerifier, log logging.Logger) *MessageHandler {
	return &MessageHandler{
		store:    store,
		persist:  persist,
		verifier: v,
		log:      logging.OrNop(log).With("component", "message_handler"),
	}
}

// participantConversation loads id and checks addr takes part in it.
func (h *MessageHandler) participantConversation(id, addr string) (models.Conversation, error) {
	c, err := h.store.GetConversation(id)
	if err != nil {
		return c, err
	}
	if !c.HasParticipant(addr) {
		return c, conversation.ErrNotParticipant
	}
	if c.Status == models.StatusArchived {
		return c, conversation.ErrArchived
	}
	return c, nil
}

// PrepareMessage builds a comm payload for a conversation of the caller
func (h *MessageHandler) PrepareMessage(w http.ResponseWriter, r *http.Request) {
	sender, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		ConversationID string `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.participantConversation(req.ConversationID, sender)
	if err != nil {
		writeError(w, err)
		return
	}
	prepared, err := h.preparer.PrepareMessage(c.ID, req.Content)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, prepared)
}

// SubmitMessage verifies a broadcast comm transaction and indexes it. The
// content is taken from the chain; the request may only supply it when the
// node returned no payload.
func (h *MessageHandler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	sender, ok := caller(w, r)
	if !ok {
		return
	}

	var req struct {
		TxHash         string `json:"tx_hash"`
		ConversationID string `json:"conversation_id"`
		Content        string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !protocol.ValidTxHash(req.TxHash) {
		writeError(w, conversation.ErrInvalidTxHash)
		return
	}

	c, err := h.participantConversation(req.ConversationID, sender)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.verifier.Verify(r.Context(), req.TxHash, protocol.KindComm, verifier.Binding{
		ConversationID: c.ID,
		SenderAddress:  sender,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	content := res.Payload.Content
	if !res.PayloadVerified {
		content = protocol.TruncateContent(req.Content)
	}
	if content == "" {
		writeError(w, &verifier.Rejection{TxHash: req.TxHash, Reason: verifier.ErrNotProtocol, Detail: "message has no content"})
		return
	}

	msg, created, err := h.store.AppendMessage(models.IndexedMessage{
		TxHash:           req.TxHash,
		ConversationID:   c.ID,
		SenderAddress:    sender,
		EncryptedContent: content,
		Timestamp:        res.BlockTime,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !created && !protocol.SameAddress(msg.SenderAddress, sender) {
		writeError(w, errors.Join(conversation.ErrNotParticipant, errors.New("transaction indexed for another sender")))
		return
	}

	if h.persist != nil {
		ctx, cancel := persistContext(r)
		defer cancel()
		if err := h.persist.CreatePrivateMessage(ctx, msg); err != nil {
			h.log.Error(r.Context(), "persist message failed", "tx", msg.TxHash, "error", err)
			http.Error(w, "Failed to save message", http.StatusInternalServerError)
			return
		}
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]interface{}{
		"message":          msg,
		"payload_verified": res.PayloadVerified,
	})
}
