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

package indexer

import (
	"sort"

	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/protocol"
)

type decoded struct {
	Record
	payload protocol.Payload
}

// Reconstruct derives the conversations of address from its sent and
// received handshakes. Records are processed in block order:
//
//  1. initiating handshakes open a pending conversation, the earliest
//     handshake for an id wins
//  2. a response activates the conversation with the same id, provided it
//     travels from the recipient back to the initiator
//  3. responses that carry no id, or an id in a legacy non-compact form,
//     are matched to the pending conversation of the same pair. A compact
//     id that names no conversation activates nothing.
//
// The result is sorted by conversation id.
func Reconstruct(address string, sent, received []Record) []models.Conversation {
	records := collect(sent, received)

	convs := make(map[string]*models.Conversation)
	var responses, unmatched []decoded

	for _, r := range records {
		if r.payload.Kind == protocol.KindHandshakeResponse {
			responses = append(responses, r)
			continue
		}
		id := protocol.NormalizeConversationID(r.payload.ConversationID)
		if id == "" {
			id = protocol.ConversationID(r.Sender, r.Receiver)
		}
		if _, ok := convs[id]; ok {
			continue
		}
		at := r.BlockTime.Time()
		convs[id] = &models.Conversation{
			ID:               id,
			InitiatorAddress: r.Sender,
			RecipientAddress: r.Receiver,
			InitiatorAlias:   protocol.SanitizeAlias(r.payload.Alias),
			Status:           models.StatusPending,
			HandshakeTxHash:  r.TxID,
			CreatedAt:        at,
			UpdatedAt:        at,
		}
	}

	for _, r := range responses {
		id := protocol.NormalizeConversationID(r.payload.ConversationID)
		if c, ok := convs[id]; ok && id != "" && answers(c, r) {
			activate(c, r)
			continue
		}
		if !compactID(r.payload.ConversationID) {
			unmatched = append(unmatched, r)
		}
	}

	// The pair is the only binding left for legacy responses.
	for _, r := range unmatched {
		if c := pendingBetween(convs, r); c != nil {
			activate(c, r)
		}
	}

	out := make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		if c.HasParticipant(address) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// collect merges both directions, drops duplicates and anything that is
// not a handshake with a well-formed tx id, and orders by block time.
func collect(sent, received []Record) []decoded {
	seen := make(map[string]bool, len(sent)+len(received))
	var out []decoded
	for _, list := range [2][]Record{sent, received} {
		for _, r := range list {
			if seen[r.TxID] || !protocol.ValidTxHash(r.TxID) || r.Sender == "" || r.Receiver == "" {
				continue
			}
			p := protocol.Decode(r.MessagePayload)
			if !p.Kind.IsHandshake() {
				continue
			}
			seen[r.TxID] = true
			out = append(out, decoded{Record: r, payload: p})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockTime != out[j].BlockTime {
			return out[i].BlockTime < out[j].BlockTime
		}
		return out[i].TxID < out[j].TxID
	})
	return out
}

func answers(c *models.Conversation, r decoded) bool {
	return protocol.SameAddress(r.Sender, c.RecipientAddress) && protocol.SameAddress(r.Receiver, c.InitiatorAddress)
}

func activate(c *models.Conversation, r decoded) {
	if c.Status == models.StatusActive {
		return
	}
	c.Status = models.StatusActive
	c.ResponseTxHash = r.TxID
	if alias := protocol.SanitizeAlias(r.payload.Alias); alias != "" {
		c.RecipientAlias = alias
	}
	if at := r.BlockTime.Time(); at.After(c.UpdatedAt) {
		c.UpdatedAt = at
	}
}

func pendingBetween(convs map[string]*models.Conversation, r decoded) *models.Conversation {
	var best *models.Conversation
	for _, c := range convs {
		if c.Status != models.StatusPending || !answers(c, r) || r.BlockTime.Time().Before(c.CreatedAt) {
			continue
		}
		if best == nil || c.CreatedAt.Before(best.CreatedAt) || (c.CreatedAt.Equal(best.CreatedAt) && c.ID < best.ID) {
			best = c
		}
	}
	return best
}

// compactID reports whether id has the exact shape ConversationID produces.
func compactID(id string) bool {
	if len(id) != protocol.ConversationIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
