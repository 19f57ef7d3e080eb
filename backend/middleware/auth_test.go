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

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alice = "kaspa:qypalice0000000000000000000000000000000000000000000000000"

var testConfig = &JWTConfig{Secret: "secret", Issuer: "efchat"}

func echoAddress() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := GetAddress(r)
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		claims, _ := GetClaims(r)
		w.Header().Set("X-Subject", claims.Subject)
		_, _ = w.Write([]byte(addr))
	})
}

func serve(t *testing.T, header string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	NewAuthMiddleware(testConfig.Secret, testConfig.Issuer)(echoAddress()).ServeHTTP(rec, req)
	return rec
}

func TestAuth_ValidToken(t *testing.T) {
	token, err := IssueToken("  KASPA:QYPALICE0000000000000000000000000000000000000000000000000 ", testConfig, time.Hour)
	require.NoError(t, err)

	rec := serve(t, "Bearer "+token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice, rec.Body.String())
	assert.Equal(t, alice, rec.Header().Get("X-Subject"))
}

func TestAuth_Rejections(t *testing.T) {
	expired, err := IssueToken(alice, testConfig, -time.Minute)
	require.NoError(t, err)
	otherIssuer, err := IssueToken(alice, &JWTConfig{Secret: "secret", Issuer: "someone"}, time.Hour)
	require.NoError(t, err)
	otherSecret, err := IssueToken(alice, &JWTConfig{Secret: "nope", Issuer: "efchat"}, time.Hour)
	require.NoError(t, err)
	noAddress, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "efchat",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "efchat"},
		Address:          alice,
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"garbage":      "Bearer not.a.token",
		"expired":      "Bearer " + expired,
		"issuer":       "Bearer " + otherIssuer,
		"signature":    "Bearer " + otherSecret,
		"no address":   "Bearer " + noAddress,
		"no expiry":    "Bearer " + noExpiry,
		"extra fields": "Bearer a b",
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, serve(t, header).Code)
		})
	}
}

func TestIssueToken_RequiresAddress(t *testing.T) {
	_, err := IssueToken("  ", testConfig, time.Hour)
	assert.ErrorIs(t, err, ErrMissingAddress)
}

func TestCORS(t *testing.T) {
	h := NewCORS([]string{"https://wallet.example"})(echoAddress())

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://wallet.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://wallet.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec = httptest.NewRecorder()
	CORS(echoAddress()).ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
