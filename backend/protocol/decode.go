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
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// matcher tries one handshake layout. base already has Kind, Tag, Version
// and Raw filled in.
type matcher func(base Payload, fields []string) (Payload, bool)

// handshakeMatchers run in order; the first match wins. The minimal
// fallback always matches, so a handshake tag never decodes as unknown.
var handshakeMatchers = []matcher{
	matchCompact,
	matchLegacyJSON,
	matchMinimal,
}

// Decode parses a payload given either as hex (as stored on chain) or as
// the raw protocol string. It never fails: input that is not a protocol
// message yields KindNone, a protocol prefix with an unrecognised shape
// yields KindUnknown.
func Decode(input string) Payload {
	raw, ok := rawPayload(input)
	if !ok || !strings.HasPrefix(raw, Prefix) {
		return Payload{Kind: KindNone}
	}

	base := Payload{Kind: KindUnknown, Raw: raw}
	fields := strings.Split(raw, ":")
	if fields[0] != Prefix || len(fields) < 3 {
		return base
	}
	base.Version = fields[1]
	base.Tag = fields[2]

	switch base.Tag {
	case TagComm:
		if p, ok := matchComm(base, raw); ok {
			return p
		}
	case TagHandshake, TagLegacyHandshake:
		base.Kind = KindHandshake
		return matchHandshake(base, fields)
	case TagResponse, TagLegacyResponse:
		base.Kind = KindHandshakeResponse
		return matchHandshake(base, fields)
	}
	base.Kind = KindUnknown
	return base
}

func matchHandshake(base Payload, fields []string) Payload {
	for _, m := range handshakeMatchers {
		if p, ok := m(base, fields); ok {
			return p
		}
	}
	base.Kind = KindUnknown
	return base
}

func rawPayload(input string) (string, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", false
	}
	if strings.HasPrefix(s, Prefix) {
		return s, true
	}
	b, err := hex.DecodeString(s)
	if err != nil || !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

func matchCompact(base Payload, fields []string) (Payload, bool) {
	var conv, addr, alias, ts string
	switch len(fields) {
	case 7:
		conv, addr, alias, ts = fields[3], fields[4], fields[5], fields[6]
		base.Format = FormatCompact
	case 6:
		conv, addr, ts = fields[3], fields[4], fields[5]
		base.Format = FormatCompactShort
	default:
		return Payload{}, false
	}
	if conv == "" || !isAlnum(conv) || !isAlnum(addr) || !isAlnum(alias) {
		return Payload{}, false
	}
	millis, err := strconv.ParseInt(ts, 36, 64)
	if err != nil {
		return Payload{}, false
	}
	base.ConversationID = strings.ToLower(conv)
	base.Address = strings.ToLower(addr)
	base.Alias = alias
	base.Timestamp = time.UnixMilli(millis)
	return base, true
}

type legacyHandshake struct {
	Type             string          `json:"type"`
	Alias            string          `json:"alias"`
	ConversationID   string          `json:"conversationId"`
	RecipientAddress string          `json:"recipientAddress"`
	Timestamp        json.RawMessage `json:"timestamp"`
	IsResponse       bool            `json:"isResponse"`
	Version          json.RawMessage `json:"version"`
}

func matchLegacyJSON(base Payload, fields []string) (Payload, bool) {
	if len(fields) < 4 {
		return Payload{}, false
	}
	body := strings.Join(fields[3:], ":")

	var lh legacyHandshake
	if !decodeLegacyBody(body, &lh) {
		return Payload{}, false
	}
	if lh.IsResponse || lh.Type == "handshake_response" {
		base.Kind = KindHandshakeResponse
	}
	base.Format = FormatLegacyJSON
	base.ConversationID = strings.ToLower(strings.TrimSpace(lh.ConversationID))
	base.Address = NormalizeAddress(lh.RecipientAddress)
	base.Alias = lh.Alias
	base.Timestamp = legacyTime(lh.Timestamp)
	return base, true
}

func decodeLegacyBody(body string, out *legacyHandshake) bool {
	if b, err := hex.DecodeString(body); err == nil {
		if json.Unmarshal(b, out) == nil {
			return true
		}
	}
	return json.Unmarshal([]byte(body), out) == nil
}

// legacyTime accepts unix milliseconds or an RFC 3339 string.
func legacyTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var ms int64
	if json.Unmarshal(raw, &ms) == nil {
		return time.UnixMilli(ms)
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func matchMinimal(base Payload, fields []string) (Payload, bool) {
	rest := ""
	if len(fields) > 3 {
		rest = strings.Join(fields[3:], ":")
		if b, err := hex.DecodeString(rest); err == nil {
			rest = string(b)
		}
	}
	compact := strings.ReplaceAll(rest, " ", "")
	if strings.Contains(compact, `"isResponse":true`) {
		base.Kind = KindHandshakeResponse
	}
	base.Format = FormatMinimal
	return base, true
}

func matchComm(base Payload, raw string) (Payload, bool) {
	parts := strings.SplitN(raw, ":", 5)
	if len(parts) != 5 {
		return Payload{}, false
	}
	content, err := hex.DecodeString(parts[4])
	if err != nil || !utf8.Valid(content) {
		return Payload{}, false
	}
	base.Kind = KindComm
	base.Format = FormatComm
	base.Alias = parts[3]
	base.ConversationID = NormalizeConversationID(parts[3])
	base.Content = string(content)
	return base, true
}

func isAlnum(s string) bool {
	return alnum(s, len(s)) == s
}
