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

// Package broadcast builds payloads for an external signer. It performs no
// I/O and holds no state besides the clock used to stamp handshakes.
package broadcast

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/efchatnet/ciphindex/backend/protocol"
)

var ErrEmptyContent = errors.New("message content is empty")

// Prepared is a payload ready to be put in a transaction.
type Prepared struct {
	Kind           protocol.Kind `json:"kind"`
	ConversationID string        `json:"conversation_id"`
	Payload        string        `json:"payload"`
	PayloadHex     string        `json:"payload_hex"`
	// MessageToSign is the canonical string the wallet signs to authorise
	// the broadcast.
	MessageToSign string `json:"message_to_sign"`
}

type Preparer struct {
	// Clock stamps handshakes. Nil means time.Now.
	Clock func() time.Time
}

// PrepareHandshake builds a handshake from sender to recipient, or the
// response when isResponse is set. An empty conversationID is derived from
// the pair so both sides agree on it. A response to a conversation with any
// other id must pass that id.
func (p Preparer) PrepareHandshake(sender, recipient, conversationID, alias string, isResponse bool) (Prepared, error) {
	conv := protocol.NormalizeConversationID(conversationID)
	if conv == "" {
		conv = protocol.ConversationID(sender, recipient)
	}
	raw, err := protocol.Handshake{
		SenderAlias:      alias,
		RecipientAddress: recipient,
		ConversationID:   conv,
		IsResponse:       isResponse,
	}.Raw(p.now())
	if err != nil {
		return Prepared{}, err
	}
	kind := protocol.KindHandshake
	if isResponse {
		kind = protocol.KindHandshakeResponse
	}
	return prepared(kind, conv, raw), nil
}

// PrepareMessage builds a comm payload for a conversation.
func (p Preparer) PrepareMessage(conversationID, content string) (Prepared, error) {
	conv := protocol.NormalizeConversationID(conversationID)
	if conv == "" {
		return Prepared{}, protocol.ErrMissingConversation
	}
	if strings.TrimSpace(content) == "" {
		return Prepared{}, ErrEmptyContent
	}
	return prepared(protocol.KindComm, conv, protocol.EncodeComm(conv, content)), nil
}

// Classify tells protocol payloads apart from arbitrary ones.
func Classify(payloadHex string) protocol.Kind {
	return protocol.Decode(payloadHex).Kind
}

// SigningMessage is ciph_msg:sign:{kind}:{conversation}:{sha256(payload)}.
func SigningMessage(kind protocol.Kind, conversationID, payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return strings.Join([]string{protocol.Prefix, "sign", kind.String(), conversationID, hex.EncodeToString(sum[:])}, ":")
}

func prepared(kind protocol.Kind, conv, raw string) Prepared {
	return Prepared{
		Kind:           kind,
		ConversationID: conv,
		Payload:        raw,
		PayloadHex:     protocol.ToHex(raw),
		MessageToSign:  SigningMessage(kind, conv, raw),
	}
}

func (p Preparer) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}
