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
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Duration accepts "1m30s" style strings or integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return errors.New("invalid duration")
	}
}

// fileConfig mirrors Config for JSON files. Pointers distinguish absent
// keys from zero values so a partial file only overrides what it names.
type fileConfig struct {
	Port                 *string   `json:"port"`
	DatabaseURL          *string   `json:"database_url"`
	RedisURL             *string   `json:"redis_url"`
	JWTSecret            *string   `json:"jwt_secret"`
	JWTIssuer            *string   `json:"jwt_issuer"`
	SessionTTL           *Duration `json:"session_ttl"`
	SupportAddress       *string   `json:"support_address"`
	IndexerMainnetURL    *string   `json:"indexer_mainnet_url"`
	IndexerTestnetURL    *string   `json:"indexer_testnet_url"`
	ChainMainnetURL      *string   `json:"chain_mainnet_url"`
	ChainTestnetURL      *string   `json:"chain_testnet_url"`
	RemoteLimit          *int      `json:"remote_limit"`
	ReconcileInterval    *Duration `json:"reconcile_interval"`
	RequestTimeout       *Duration `json:"request_timeout"`
	StrictSenderBinding  *bool     `json:"strict_sender_binding"`
	AcceptMissingPayload *bool     `json:"accept_missing_payload"`
	TrackedAddresses     []string  `json:"tracked_addresses"`
	CORSOrigins          []string  `json:"cors_origins"`
}

// configPath returns the value of -c or -config, ignoring every other
// argument.
func configPath(args []string) string {
	var path string
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(filterArgs(args, "-c", "-config", "--c", "--config"))
	return path
}

func filterArgs(args []string, names ...string) []string {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	var out []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if allowed[name] {
				out = append(out, arg)
			}
			continue
		}
		if allowed[arg] {
			out = append(out, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				out = append(out, args[i+1])
				i++
			}
		}
	}
	return out
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var f fileConfig
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.Port, f.Port)
	setString(&c.DatabaseURL, f.DatabaseURL)
	setString(&c.RedisURL, f.RedisURL)
	setString(&c.JWTSecret, f.JWTSecret)
	setString(&c.JWTIssuer, f.JWTIssuer)
	setDuration(&c.SessionTTL, f.SessionTTL)
	setString(&c.SupportAddress, f.SupportAddress)
	setString(&c.IndexerMainnetURL, f.IndexerMainnetURL)
	setString(&c.IndexerTestnetURL, f.IndexerTestnetURL)
	setString(&c.ChainMainnetURL, f.ChainMainnetURL)
	setString(&c.ChainTestnetURL, f.ChainTestnetURL)
	if f.RemoteLimit != nil {
		c.RemoteLimit = *f.RemoteLimit
	}
	setDuration(&c.ReconcileInterval, f.ReconcileInterval)
	setDuration(&c.RequestTimeout, f.RequestTimeout)
	if f.StrictSenderBinding != nil {
		c.StrictSenderBinding = *f.StrictSenderBinding
	}
	if f.AcceptMissingPayload != nil {
		c.AcceptMissingPayload = *f.AcceptMissingPayload
	}
	if f.TrackedAddresses != nil {
		c.TrackedAddresses = f.TrackedAddresses
	}
	if f.CORSOrigins != nil {
		c.CORSOrigins = f.CORSOrigins
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
