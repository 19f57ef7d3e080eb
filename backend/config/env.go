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

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// applyEnv overlays every variable that is set and non-empty.
func (c *Config) applyEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"PORT":                &c.Port,
		"DATABASE_URL":        &c.DatabaseURL,
		"REDIS_URL":           &c.RedisURL,
		"JWT_SECRET":          &c.JWTSecret,
		"JWT_ISSUER":          &c.JWTIssuer,
		"SUPPORT_ADDRESS":     &c.SupportAddress,
		"INDEXER_MAINNET_URL": &c.IndexerMainnetURL,
		"INDEXER_TESTNET_URL": &c.IndexerTestnetURL,
		"CHAIN_MAINNET_URL":   &c.ChainMainnetURL,
		"CHAIN_TESTNET_URL":   &c.ChainTestnetURL,
	}
	for name, dst := range strs {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"RECONCILE_INTERVAL": &c.ReconcileInterval,
		"REQUEST_TIMEOUT":    &c.RequestTimeout,
		"SESSION_TTL":        &c.SessionTTL,
	}
	for name, dst := range durations {
		v := getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = d
	}

	bools := map[string]*bool{
		"STRICT_SENDER_BINDING":  &c.StrictSenderBinding,
		"ACCEPT_MISSING_PAYLOAD": &c.AcceptMissingPayload,
	}
	for name, dst := range bools {
		v := getenv(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*dst = b
	}

	if v := getenv("REMOTE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REMOTE_LIMIT: %w", err)
		}
		c.RemoteLimit = n
	}
	if v := getenv("TRACKED_ADDRESSES"); v != "" {
		c.TrackedAddresses = splitList(v)
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
