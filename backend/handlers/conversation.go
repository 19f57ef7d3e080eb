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
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/efchatnet/ciphindex/backend/conversation"
	"github.com/efchatnet/ciphindex/backend/logging"
	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/protocol"
	"github.com/efchatnet/ciphindex/backend/storage"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
)

type ConversationHandler struct {
	store   *conversation.Store
	persist storage.ConversationStore
	tracker Tracker
	support string
	log     logging.Logger
}

func NewConversationHandler(store *conversation.Store, persist storage.ConversationStore, tracker Tracker, supportAddress string, log logging.Logger) *ConversationHandler {
	return &ConversationHandler{
		store:   store,
		persist: persist,
		tracker: tracker,
		support: supportAddress,
		log:     logging.OrNop(log).With("component", "conversation_handler"),
	}
}

func (h *ConversationHandler) isAdmin(addr string) bool {
	return h.support != "" && protocol.SameAddress(h.support, addr)
}

// visible loads a conversation the caller may read.
func (h *ConversationHandler) visible(r *http.Request, addr string) (models.Conversation, error) {
	c, err := h.store.GetConversation(mux.Vars(r)["id"])
	if err != nil {
		return c, err
	}
	if !c.HasParticipant(addr) && !h.isAdmin(addr) {
		return c, conversation.ErrNotParticipant
	}
	return c, nil
}

// ListConversations returns the caller's conversations, most recent first.
// A wallet listing for the first time is tracked for reconciliation.
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	if h.tracker != nil && h.tracker.Track(addr) {
		h.tracker.Kick(addr)
	}

	convs := h.store.ConversationsForWallet(addr)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"count":         len(convs),
	})
}

func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	c, err := h.visible(r, addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetMessages pages through a conversation oldest first
func (h *ConversationHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	c, err := h.visible(r, addr)
	if err != nil {
		writeError(w, err)
		return
	}

	limit, ok := queryInt(w, r, "limit", defaultMessageLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}
	if limit <= 0 || limit > maxMessageLimit {
		limit = maxMessageLimit
	}

	msgs := h.store.MessagesFor(c.ID, limit, offset)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"count":    len(msgs),
		"limit":    limit,
		"offset":   offset,
	})
}

// ArchiveConversation closes a conversation for both participants
func (h *ConversationHandler) ArchiveConversation(w http.ResponseWriter, r *http.Request) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	by := addr
	if h.isAdmin(addr) {
		by = ""
	}
	c, err := h.store.ArchiveConversation(mux.Vars(r)["id"], by)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.persist != nil {
		ctx, cancel := persistContext(r)
		defer cancel()
		err := h.persist.UpdateConversationStatus(ctx, c.ID, models.StatusArchived, "")
		if errors.Is(err, storage.ErrNotFound) {
			err = h.persist.CreateConversation(ctx, c)
		}
		if err != nil {
			h.log.Error(r.Context(), "persist archive failed", "id", c.ID, "error", err)
			http.Error(w, "Failed to archive conversation", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, c)
}

// PendingConversations is restricted to the support address
func (h *ConversationHandler) PendingConversations(w http.ResponseWriter, r *http.Request) {
	h.adminList(w, r, h.store.PendingConversations)
}

// ActiveConversations is restricted to the support address
func (h *ConversationHandler) ActiveConversations(w http.ResponseWriter, r *http.Request) {
	h.adminList(w, r, h.store.ActiveConversations)
}

func (h *ConversationHandler) adminList(w http.ResponseWriter, r *http.Request, list func() []models.Conversation) {
	addr, ok := caller(w, r)
	if !ok {
		return
	}
	if !h.isAdmin(addr) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	convs := list()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": convs,
		"count":         len(convs),
	})
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		http.Error(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}
