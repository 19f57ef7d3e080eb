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
	"strings"
)

const (
	MainnetPrefix = "kaspa:"
	TestnetPrefix = "kaspatest:"
)

// Network selects which indexer and chain endpoints serve an address.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// NormalizeAddress trims and lower-cases an address. Kaspa addresses are
// bech32 so case carries no meaning.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// StripNetworkPrefix returns the normalized address without its "kaspa:"
// or "kaspatest:" prefix.
func StripNetworkPrefix(addr string) string {
	a := NormalizeAddress(addr)
	if i := strings.IndexByte(a, ':'); i >= 0 {
		return a[i+1:]
	}
	return a
}

// NetworkOf reports the network implied by an address prefix. Unprefixed
// addresses are treated as mainnet.
func NetworkOf(addr string) Network {
	if strings.HasPrefix(NormalizeAddress(addr), TestnetPrefix) {
		return NetworkTestnet
	}
	return NetworkMainnet
}

// SameAddress compares two addresses ignoring case, surrounding whitespace
// and the network prefix.
func SameAddress(a, b string) bool {
	x := StripNetworkPrefix(a)
	return x != "" && x == StripNetworkPrefix(b)
}

// TruncateAddress is the form carried by compact handshakes: the prefix is
// dropped and at most AddressLen characters are kept.
func TruncateAddress(addr string) string {
	return alnum(StripNetworkPrefix(addr), AddressLen)
}

// MatchesTruncated reports whether a decoded recipient refers to addr. Compact
// payloads only carry a truncated address, legacy ones the full address.
func MatchesTruncated(decoded, addr string) bool {
	d := StripNetworkPrefix(decoded)
	if d == "" {
		return false
	}
	if len(d) > AddressLen {
		return SameAddress(d, addr)
	}
	return d == TruncateAddress(addr)
}

func alnum(s string, max int) string {
	var b strings.Builder
	for i := 0; i < len(s) && b.Len() < max; i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteByte(c)
		}
	}
	return b.String()
}
