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

// Package protocol implements the ciph_msg wire format carried in
// transaction payloads: handshakes, handshake responses and comm messages,
// including every historical handshake layout still found on chain.
package protocol

import "time"

const (
	Prefix  = "ciph_msg"
	Version = "1"

	TagHandshake       = "hs"
	TagResponse        = "hr"
	TagLegacyHandshake = "handshake"
	TagLegacyResponse  = "handshake_r"
	TagComm            = "comm"
)

// Kind classifies a decoded payload.
type Kind int

const (
	// KindNone is anything that is not a ciph_msg payload at all,
	// including malformed hex.
	KindNone Kind = iota
	// KindUnknown carries the protocol prefix but matches no known layout.
	KindUnknown
	KindHandshake
	KindHandshakeResponse
	KindComm
)

var kindNames = map[Kind]string{
	KindNone:              "none",
	KindUnknown:           "unknown",
	KindHandshake:         "handshake",
	KindHandshakeResponse: "handshake_response",
	KindComm:              "comm",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "none"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return KindNone, false
}

func (k Kind) IsHandshake() bool {
	return k == KindHandshake || k == KindHandshakeResponse
}

// Format records which layout a handshake was decoded from.
type Format int

const (
	FormatNone Format = iota
	// FormatCompact is conv:addr:alias:ts after the tag.
	FormatCompact
	// FormatCompactShort is the older conv:addr:ts layout without an alias.
	FormatCompactShort
	// FormatLegacyJSON embeds a JSON object, usually hex encoded.
	FormatLegacyJSON
	// FormatMinimal recovers nothing but the response flag.
	FormatMinimal
	FormatComm
)

// Payload is the result of Decode. Fields not carried by the matched
// format are left empty.
type Payload struct {
	Kind    Kind
	Format  Format
	Version string
	Tag     string

	ConversationID string
	// Address is the recipient for handshakes: truncated in compact
	// layouts, complete in legacy JSON.
	Address   string
	Alias     string
	Timestamp time.Time

	// Content is the hex-decoded body of a comm message.
	Content string

	Raw string
}

func (p Payload) IsProtocol() bool {
	return p.Kind != KindNone
}

func (p Payload) IsResponse() bool {
	return p.Kind == KindHandshakeResponse
}
