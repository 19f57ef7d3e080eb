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
//

package commands

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efchatnet/ciphindex/backend/middleware"
	"github.com/efchatnet/ciphindex/backend/protocol"
	"github.com/efchatnet/ciphindex/backend/verifier"
)

const (
	alice  = "kaspa:qypalice0000000000000000000000000000000000000000000000000"
	bob    = "kaspa:qypbob000000000000000000000000000000000000000000000000000"
	convID = "a1b2c3d4"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConvID(t *testing.T) {
	ab, err := run(t, "convid", alice, bob)
	require.NoError(t, err)
	ba, err := run(t, "convid", bob, alice)
	require.NoError(t, err)

	assert.Equal(t, protocol.ConversationID(alice, bob)+"\n", ab)
	assert.Equal(t, ab, ba)

	_, err = run(t, "convid", alice)
	assert.Error(t, err)
}

func TestEncodeHandshake(t *testing.T) {
	want, err := protocol.Handshake{
		SenderAlias:      "Alice",
		RecipientAddress: bob,
		ConversationID:   convID,
	}.Raw(time.UnixMilli(1000))
	require.NoError(t, err)

	out, err := run(t, "encode-handshake", "--alias", "Alice", "--recipient", bob,
		"--conversation", convID, "--at", "1000", "--raw")
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out)

	out, err = run(t, "encode-handshake", "--alias", "Bob", "--recipient", alice,
		"--sender", bob, "--response")
	require.NoError(t, err)
	p := protocol.Decode(strings.TrimSpace(out))
	assert.Equal(t, protocol.KindHandshakeResponse, p.Kind)
	assert.Equal(t, protocol.ConversationID(alice, bob), p.ConversationID)

	_, err = run(t, "encode-handshake", "--recipient", bob)
	assert.Error(t, err, "no conversation and no sender")
	_, err = run(t, "encode-handshake", "--conversation", convID)
	assert.Error(t, err, "recipient is required")
}

func TestEncodeComm(t *testing.T) {
	out, err := run(t, "encode-comm", "--conversation", convID, "--raw", "sealed")
	require.NoError(t, err)
	assert.Equal(t, "ciph_msg:1:comm:"+convID+":"+hex.EncodeToString([]byte("sealed"))+"\n", out)

	_, err = run(t, "encode-comm", "sealed")
	assert.ErrorIs(t, err, protocol.ErrMissingConversation)
}

func TestDecode(t *testing.T) {
	out, err := run(t, "decode", protocol.ToHex(protocol.EncodeComm(convID, "sealed")))
	require.NoError(t, err)

	var d decoded
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	assert.Equal(t, "comm", d.Kind)
	assert.Equal(t, convID, d.ConversationID)
	assert.Equal(t, "sealed", d.Content)

	_, err = run(t, "decode", "not a payload")
	assert.Error(t, err)
}

func chainServer(t *testing.T, txHash, payload, sender string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimPrefix(r.URL.Path, "/transactions/") != txHash {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"transaction_id": txHash,
			"payload":        payload,
			"block_time":     1735689600000,
			"inputs": []map[string]string{{
				"previous_outpoint_hash":    strings.Repeat("f", 64),
				"previous_outpoint_index":   "0",
				"previous_outpoint_address": sender,
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestVerify(t *testing.T) {
	txHash := strings.Repeat("1", 64)
	payload, err := protocol.EncodeHandshake("Alice", bob, convID, false)
	require.NoError(t, err)
	base := chainServer(t, txHash, payload, alice)

	out, err := run(t, "verify", txHash, "--chain", base, "--kind", "handshake",
		"--conversation", convID, "--recipient", bob, "--sender", alice)
	require.NoError(t, err)

	var v verified
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.True(t, v.PayloadVerified)
	assert.Equal(t, alice, v.Sender)
	assert.Equal(t, "handshake", v.Payload.Kind)
	assert.Equal(t, "Alice", v.Payload.Alias)

	tests := []struct {
		name string
		hash string
		args []string
		want error
	}{
		{"other conversation", txHash, []string{"--conversation", "deadbeef"}, verifier.ErrBindingMismatch},
		{"other sender", txHash, []string{"--conversation", convID, "--sender", bob}, verifier.ErrBindingMismatch},
		{"wrong kind", txHash, []string{"--kind", "comm"}, verifier.ErrTypeMismatch},
		{"unknown tx", strings.Repeat("2", 64), nil, verifier.ErrTxNotFound},
		{"malformed hash", "abc", nil, verifier.ErrTxNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"verify", tt.hash, "--chain", base}, tt.args...)...)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = run(t, "verify", txHash, "--chain", base, "--kind", "bogus")
	assert.Error(t, err)
}

func TestToken(t *testing.T) {
	out, err := run(t, "token", strings.ToUpper(alice), "--secret", "s3cret", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := middleware.ParseToken(strings.TrimSpace(out), &middleware.JWTConfig{Secret: "s3cret", Issuer: "efchat"})
	require.NoError(t, err)
	assert.Equal(t, alice, claims.Address)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestToken_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("JWT_ISSUER", "ciph")

	out, err := run(t, "token", alice)
	require.NoError(t, err)

	_, err = middleware.ParseToken(strings.TrimSpace(out), &middleware.JWTConfig{Secret: "from-env", Issuer: "ciph"})
	assert.NoError(t, err)
}
