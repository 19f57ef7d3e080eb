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
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "kaspa:qypr7ayn2kzxkq3e9y2sbkkfms3xfpwa9zq2e4z6g0dscn6ewx8qu0qkwcaxnhe"
	bob   = "kaspa:qzn54t6vpasykvudztupcpwn2gelxf8y9p84szksr73me39mzf69uaalnymtx"
)

var fixedTS = time.UnixMilli(1735689600000)

func TestConversationID_OrderIndependent(t *testing.T) {
	pairs := [][2]string{
		{alice, bob},
		{"kaspa:a", "kaspa:b"},
		{"kaspatest:qq1", "kaspatest:qq2"},
		{"", "kaspa:x"},
	}
	for _, p := range pairs {
		assert.Equal(t, ConversationID(p[0], p[1]), ConversationID(p[1], p[0]))
	}
}

func TestConversationID_CaseAndWhitespaceVariants(t *testing.T) {
	want := ConversationID(alice, bob)
	assert.Equal(t, want, ConversationID("  "+strings.ToUpper(bob)+"\n", alice))
	assert.Equal(t, want, ConversationID(strings.TrimPrefix(alice, MainnetPrefix), bob))
	assert.Len(t, want, ConversationIDLen)
	assert.NotEqual(t, want, ConversationID(alice, alice))
}

func TestEncodeHandshake_RoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		alias string
		addr  string
		conv  string
		resp  bool
	}{
		{"basic", "Alice", bob, "a1b2c3d4", false},
		{"response", "Bob", alice, "a1b2c3d4", true},
		{"long alias", "Alexandria", bob, "deadbeef", false},
		{"symbols in alias", "a.l-i_c e!", bob, "00ff00ff", false},
		{"empty alias", "", bob, "12345678", true},
		{"testnet", "t", "kaspatest:qrxyz0123456789abcdefghijklmn", "cafebabe", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Handshake{SenderAlias: tc.alias, RecipientAddress: tc.addr, ConversationID: tc.conv, IsResponse: tc.resp}.Encode(fixedTS)
			require.NoError(t, err)

			p := Decode(out)
			require.True(t, p.IsProtocol())
			assert.Equal(t, FormatCompact, p.Format)
			assert.Equal(t, tc.resp, p.IsResponse())
			assert.Equal(t, tc.conv, p.ConversationID)
			assert.Equal(t, TruncateAddress(tc.addr), p.Address)
			assert.Equal(t, SanitizeAlias(tc.alias), p.Alias)
			assert.True(t, fixedTS.Equal(p.Timestamp))
		})
	}
}

func TestEncodeHandshake_ByteBudget(t *testing.T) {
	aliases := []string{"", "a", "Alice", "abcdef", "abcdefghijkl"}
	addrs := []string{bob, "kaspa:" + strings.Repeat("q", 90), "q"}
	for _, legacy := range []bool{false, true} {
		for _, a := range aliases {
			for _, addr := range addrs {
				raw, err := Handshake{SenderAlias: a, RecipientAddress: addr, ConversationID: "ffffffffffff", IsResponse: true, Legacy: legacy}.Raw(time.Now())
				require.NoError(t, err)
				assert.LessOrEqual(t, len(raw), MaxHandshakeBytes, raw)
			}
		}
	}
}

func TestEncodeHandshake_FarFutureTimestampStillFits(t *testing.T) {
	raw, err := Handshake{SenderAlias: "abcdef", RecipientAddress: bob, ConversationID: "a1b2c3d4", Legacy: true, IsResponse: true}.
		Raw(time.UnixMilli(1 << 62))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(raw), MaxHandshakeBytes)
}

func TestEncodeHandshake_RequiresConversation(t *testing.T) {
	_, err := Handshake{RecipientAddress: bob}.Raw(fixedTS)
	assert.ErrorIs(t, err, ErrMissingConversation)

	_, err = EncodeHandshake("a", bob, ":::", false)
	assert.ErrorIs(t, err, ErrMissingConversation)
}

func TestEncodeHandshake_LegacyTags(t *testing.T) {
	raw, err := Handshake{SenderAlias: "x", RecipientAddress: bob, ConversationID: "a1b2c3d4", Legacy: true, IsResponse: true}.Raw(fixedTS)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "ciph_msg:1:handshake_r:a1b2c3d4:"))

	p := Decode(raw)
	assert.Equal(t, KindHandshakeResponse, p.Kind)
	assert.Equal(t, FormatCompact, p.Format)
}

func TestDecode_ShortCompact(t *testing.T) {
	raw := "ciph_msg:1:hs:a1b2c3d4:qzn54t6vpasykvudztup:" + strconv.FormatInt(fixedTS.UnixMilli(), 36)
	p := Decode(hex.EncodeToString([]byte(raw)))
	assert.Equal(t, KindHandshake, p.Kind)
	assert.Equal(t, FormatCompactShort, p.Format)
	assert.Equal(t, "a1b2c3d4", p.ConversationID)
	assert.Empty(t, p.Alias)
}

func TestDecode_LegacyJSON(t *testing.T) {
	body := `{"type":"handshake","alias":"alice1","conversationId":"A1B2C3D4","recipientAddress":"` + bob + `","timestamp":"2025-01-01T00:00:00Z","isResponse":true,"version":1}`

	hexed := Decode("ciph_msg:1:handshake:" + hex.EncodeToString([]byte(body)))
	assert.Equal(t, KindHandshakeResponse, hexed.Kind)
	assert.Equal(t, FormatLegacyJSON, hexed.Format)
	assert.Equal(t, "a1b2c3d4", hexed.ConversationID)
	assert.Equal(t, bob, hexed.Address)
	assert.Equal(t, "alice1", hexed.Alias)
	assert.Equal(t, 2025, hexed.Timestamp.Year())

	plain := Decode(hex.EncodeToString([]byte("ciph_msg:1:handshake:" + body)))
	assert.Equal(t, FormatLegacyJSON, plain.Format)
	assert.Equal(t, "a1b2c3d4", plain.ConversationID)
}

func TestDecode_MinimalFallback(t *testing.T) {
	p := Decode("ciph_msg:1:handshake:" + hex.EncodeToString([]byte(`{"isResponse": true, "broken`)))
	assert.Equal(t, KindHandshakeResponse, p.Kind)
	assert.Equal(t, FormatMinimal, p.Format)
	assert.Empty(t, p.ConversationID)

	p = Decode("ciph_msg:1:hs:not a compact payload")
	assert.Equal(t, KindHandshake, p.Kind)
	assert.Equal(t, FormatMinimal, p.Format)
}

func TestDecode_Comm(t *testing.T) {
	raw := EncodeComm("A1B2C3D4", "hello: world")
	assert.Equal(t, "ciph_msg:1:comm:a1b2c3d4:"+hex.EncodeToString([]byte("hello: world")), raw)

	for _, in := range []string{raw, ToHex(raw)} {
		p := Decode(in)
		assert.Equal(t, KindComm, p.Kind)
		assert.Equal(t, "a1b2c3d4", p.ConversationID)
		assert.Equal(t, "hello: world", p.Content)
	}
}

func TestDecode_CommContentTruncated(t *testing.T) {
	long := strings.Repeat("é", MaxCommContent)
	p := Decode(EncodeComm("a1b2c3d4", long))
	require.Equal(t, KindComm, p.Kind)
	assert.LessOrEqual(t, len(p.Content), MaxCommContent)
	assert.True(t, strings.HasPrefix(long, p.Content))
}

func TestDecode_FailsClosed(t *testing.T) {
	cases := map[string]Kind{
		"":                               KindNone,
		"zz-not-hex":                     KindNone,
		"abc":                            KindNone,
		hex.EncodeToString([]byte("hi")): KindNone,
		"ciph_msg":                       KindUnknown,
		"ciph_msg:1":                     KindUnknown,
		"ciph_msg:1:ping:x":              KindUnknown,
		"ciph_msg:1:comm:a1b2c3d4:zz":    KindUnknown,
		"ciph_msg:1:comm:short":          KindUnknown,
		"ciph_msgx:1:hs:a:b:c:d":         KindUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, Decode(in).Kind, "input %q", in)
	}
}

func TestKindNames(t *testing.T) {
	for _, k := range []Kind{KindNone, KindUnknown, KindHandshake, KindHandshakeResponse, KindComm} {
		got, ok := ParseKind(k.String())
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("bogus")
	assert.False(t, ok)
}

func TestAddresses(t *testing.T) {
	assert.Equal(t, NetworkTestnet, NetworkOf(" KaspaTest:qq "))
	assert.Equal(t, NetworkMainnet, NetworkOf(bob))
	assert.Equal(t, NetworkMainnet, NetworkOf("qq"))

	assert.True(t, SameAddress(bob, strings.ToUpper(strings.TrimPrefix(bob, MainnetPrefix))))
	assert.False(t, SameAddress("", ""))
	assert.Len(t, TruncateAddress(bob), AddressLen)

	assert.True(t, MatchesTruncated(TruncateAddress(bob), bob))
	assert.True(t, MatchesTruncated(bob, strings.ToUpper(bob)))
	assert.False(t, MatchesTruncated(TruncateAddress(alice), bob))
	assert.False(t, MatchesTruncated("", bob))
}

func TestValidTxHash(t *testing.T) {
	assert.True(t, ValidTxHash(strings.Repeat("ab", 32)))
	assert.True(t, ValidTxHash(strings.Repeat("AB", 32)))
	assert.False(t, ValidTxHash(""))
	assert.False(t, ValidTxHash(strings.Repeat("a", 63)))
	assert.False(t, ValidTxHash(strings.Repeat("g", 64)))
	assert.False(t, ValidTxHash(`{"txid":"`+strings.Repeat("a", 54)+`"}`))
}
