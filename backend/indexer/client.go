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

// Package indexer reads handshakes from the public indexer service and
// rebuilds the conversations they imply. The remote side is authoritative;
// reads fail open so an outage yields no data rather than bad data.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efchatnet/ciphindex/backend/logging"
	"github.com/efchatnet/ciphindex/backend/metrics"
	"github.com/efchatnet/ciphindex/backend/models"
	"github.com/efchatnet/ciphindex/backend/protocol"
)

const (
	DefaultLimit   = 100
	DefaultTimeout = 8 * time.Second
)

// ErrUnavailable is returned by ConversationsFor when neither direction
// could be fetched.
var ErrUnavailable = errors.New("remote indexer unavailable")

// Record is one handshake row as served by the indexer API.
type Record struct {
	TxID           string    `json:"tx_id"`
	Sender         string    `json:"sender"`
	Receiver       string    `json:"receiver"`
	BlockTime      BlockTime `json:"block_time"`
	MessagePayload string    `json:"message_payload"`
}

// BlockTime is unix milliseconds. The API has served it both as a number
// and as a numeric string.
type BlockTime int64

func (b *BlockTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*b = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("block_time %q: %w", s, err)
		}
		v = int64(f)
	}
	*b = BlockTime(v)
	return nil
}

func (b BlockTime) Time() time.Time {
	return time.UnixMilli(int64(b))
}

type Config struct {
	MainnetURL string
	// TestnetURL serves kaspatest: addresses. Empty falls back to MainnetURL.
	TestnetURL string
	Timeout    time.Duration
	Limit      int
	HTTP       *http.Client
}

// Client queries the indexer API of the network an address belongs to.
type Client struct {
	bases   map[protocol.Network]string
	http    *http.Client
	timeout time.Duration
	limit   int
	log     logging.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, log logging.Logger, m *metrics.Metrics) *Client {
	c := &Client{
		bases: map[protocol.Network]string{
			protocol.NetworkMainnet: strings.TrimRight(cfg.MainnetURL, "/"),
			protocol.NetworkTestnet: strings.TrimRight(cfg.TestnetURL, "/"),
		},
		http:    cfg.HTTP,
		timeout: cfg.Timeout,
		limit:   cfg.Limit,
		log:     logging.OrNop(log).With("component", "indexer"),
		metrics: m,
	}
	if c.bases[protocol.NetworkTestnet] == "" {
		c.bases[protocol.NetworkTestnet] = c.bases[protocol.NetworkMainnet]
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.limit <= 0 {
		c.limit = DefaultLimit
	}
	return c
}

func (c *Client) HandshakesBySender(ctx context.Context, address string) ([]Record, error) {
	return c.fetch(ctx, "/handshakes/by-sender", address)
}

func (c *Client) HandshakesByReceiver(ctx context.Context, address string) ([]Record, error) {
	return c.fetch(ctx, "/handshakes/by-receiver", address)
}

// ConversationsFor fetches both directions in parallel and reconstructs the
// conversations address takes part in. A failed direction counts as empty.
func (c *Client) ConversationsFor(ctx context.Context, address string) ([]models.Conversation, error) {
	var (
		sent, received       []Record
		sentErr, receivedErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		sent, sentErr = c.HandshakesBySender(ctx, address)
		return nil
	})
	g.Go(func() error {
		received, receivedErr = c.HandshakesByReceiver(ctx, address)
		return nil
	})
	_ = g.Wait()

	if sentErr != nil {
		c.metrics.ObserveRemoteFailure("sent")
		c.log.Warn(ctx, "fetch sent handshakes failed", "address", address, "error", sentErr)
		sent = nil
	}
	if receivedErr != nil {
		c.metrics.ObserveRemoteFailure("received")
		c.log.Warn(ctx, "fetch received handshakes failed", "address", address, "error", receivedErr)
		received = nil
	}
	if sentErr != nil && receivedErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, errors.Join(sentErr, receivedErr))
	}
	return Reconstruct(address, sent, received), nil
}

func (c *Client) fetch(ctx context.Context, path, address string) ([]Record, error) {
	base := c.bases[protocol.NetworkOf(address)]
	if base == "" {
		return nil, fmt.Errorf("no indexer configured for %s", protocol.NetworkOf(address))
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("address", address)
	q.Set("limit", strconv.Itoa(c.limit))
	u := base + path + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("indexer get %s: %s", path, resp.Status)
	}
	var out []Record
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}
