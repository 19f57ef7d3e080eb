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
	"fmt"
	"strings"
)

// ConversationIDLen is the width of a conversation id and of the id field
// in compact handshakes.
const ConversationIDLen = 8

// ConversationID derives the id both participants compute independently:
// a 32-bit polynomial hash over the sorted pair of normalized addresses.
func ConversationID(a, b string) string {
	x, y := StripNetworkPrefix(a), StripNetworkPrefix(b)
	if x > y {
		x, y = y, x
	}
	var h uint32
	for _, s := range [2]string{x, y} {
		for i := 0; i < len(s); i++ {
			h = h*31 + uint32(s[i])
		}
	}
	return fmt.Sprintf("%08x", h)
}

// NormalizeConversationID lower-cases an id and cuts legacy long ids down
// to the compact width.
func NormalizeConversationID(id string) string {
	return strings.ToLower(alnum(strings.TrimSpace(id), ConversationIDLen))
}

// SameConversation compares ids across the compact and legacy widths.
func SameConversation(a, b string) bool {
	x := NormalizeConversationID(a)
	return x != "" && x == NormalizeConversationID(b)
}

// ValidTxHash is the shape check applied to stored transaction references:
// exactly 64 hex characters. Serialized JSON and other leftovers from older
// clients fail it.
func ValidTxHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
