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

// Package config loads server settings: defaults first, then an optional
// JSON file named by -c or -config, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var ErrMissingSecret = errors.New("JWT_SECRET is required")

// Config holds runtime settings for the indexer server.
type Config struct {
	Port string
	// DatabaseURL selects the Postgres engine. Empty keeps everything in
	// memory.
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	JWTIssuer   string
	// SessionTTL is the lifetime of tokens issued by ciphctl token.
	SessionTTL time.Duration

	SupportAddress string
	// IndexerMainnetURL is the remote indexer. Empty disables
	// reconciliation.
	IndexerMainnetURL string
	IndexerTestnetURL string
	ChainMainnetURL   string
	ChainTestnetURL   string
	RemoteLimit       int

	ReconcileInterval time.Duration
	RequestTimeout    time.Duration

	StrictSenderBinding  bool
	AcceptMissingPayload bool

	TrackedAddresses []string
	CORSOrigins      []string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.Port = "8081"
	c.RedisURL = "localhost:6379"
	c.JWTIssuer = "efchat"
	c.SessionTTL = 24 * time.Hour
	c.ChainMainnetURL = "https://api.kaspa.org"
	c.ChainTestnetURL = "https://api-tn10.kaspa.org"
	c.RemoteLimit = 100
	c.ReconcileInterval = 60 * time.Second
	c.RequestTimeout = 8 * time.Second
	c.StrictSenderBinding = false
	c.AcceptMissingPayload = true
}

// Load builds a Config from defaults, the JSON file named in args and the
// environment, in that order.
func Load(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path := configPath(args); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig is Load over os.Args and the process environment.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:], os.Getenv)
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return ErrMissingSecret
	}
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile interval must be positive, got %s", c.ReconcileInterval)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.RemoteLimit <= 0 {
		return fmt.Errorf("remote limit must be positive, got %d", c.RemoteLimit)
	}
	return nil
}
