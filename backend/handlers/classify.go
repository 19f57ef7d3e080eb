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
	"net/http"

	"github.com/efchatnet/ciphindex/backend/broadcast"
	"github.com/efchatnet/ciphindex/backend/protocol"
)

// Classify tells a caller whether a payload is a protocol message
func Classify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PayloadHex string `json:"payload_hex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	kind := broadcast.Classify(req.PayloadHex)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":        kind.String(),
		"is_protocol": kind != protocol.KindNone,
	})
}

// Health reports OK when every check passes
func Health(checks ...func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("Storage unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
