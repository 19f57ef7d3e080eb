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

package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	AliasLen   = 6
	AddressLen = 20

	// MaxHandshakeBytes is the hard budget for a raw handshake before hex
	// doubling. It is driven by the storage mass limit of the chain.
	MaxHandshakeBytes = 80

	// MaxCommContent bounds the plain content of a comm message.
	MaxCommContent = 500
)

var (
	ErrPayloadTooLarge     = errors.New("payload exceeds byte budget")
	ErrMissingConversation = errors.New("conversation id is required")
)

// Handshake describes a handshake or handshake response to encode.
type Handshake struct {
	SenderAlias      string
	RecipientAddress string
	ConversationID   string
	IsResponse       bool
	// Legacy selects the long handshake/handshake_r tags.
	Legacy bool
}

// EncodeHandshake returns the hex payload for a handshake stamped with the
// current time.
func EncodeHandshake(senderAlias, recipientAddress, conversationID string, isResponse bool) (string, error) {
	return Handshake{
		SenderAlias:      senderAlias,
		RecipientAddress: recipientAddress,
		ConversationID:   conversationID,
		IsResponse:       isResponse,
	}.Encode(time.Now())
}

// Raw builds prefix:version:tag:conv:addr:alias:ts. Every variable field is
// truncated to its fixed width so the result is deterministic for a given
// input and timestamp.
func (h Handshake) Raw(ts time.Time) (string, error) {
	conv := NormalizeConversationID(h.ConversationID)
	if conv == "" {
		return "", ErrMissingConversation
	}
	raw := strings.Join([]string{
		Prefix,
		Version,
		h.tag(),
		conv,
		TruncateAddress(h.RecipientAddress),
		SanitizeAlias(h.SenderAlias),
		strconv.FormatInt(ts.UnixMilli(), 36),
	}, ":")
	if len(raw) > MaxHandshakeBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(raw), MaxHandshakeBytes)
	}
	return raw, nil
}

// Encode hex encodes Raw for the transaction payload field.
func (h Handshake) Encode(ts time.Time) (string, error) {
	raw, err := h.Raw(ts)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString([]byte(raw)), nil
}

func (h Handshake) tag() string {
	switch {
	case h.Legacy && h.IsResponse:
		return TagLegacyResponse
	case h.Legacy:
		return TagLegacyHandshake
	case h.IsResponse:
		return TagResponse
	default:
		return TagHandshake
	}
}

// EncodeComm builds prefix:version:comm:alias:hex(content). Only the content
// segment is hex; content longer than MaxCommContent is cut first.
func EncodeComm(conversationAlias, content string) string {
	return strings.Join([]string{
		Prefix,
		Version,
		TagComm,
		NormalizeConversationID(conversationAlias),
		hex.EncodeToString([]byte(TruncateContent(content))),
	}, ":")
}

// SanitizeAlias keeps the first AliasLen alphanumeric characters.
func SanitizeAlias(alias string) string {
	return alnum(alias, AliasLen)
}

// TruncateContent cuts s to MaxCommContent bytes without splitting a rune.
func TruncateContent(s string) string {
	if len(s) <= MaxCommContent {
		return s
	}
	cut := MaxCommContent
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ToHex encodes a raw payload for the transaction payload field.
func ToHex(raw string) string {
	return hex.EncodeToString([]byte(raw))
}
