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

package chain

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
)

var errNotFound = errors.New("transaction not found")

// REST talks to a Kaspa REST API (api.kaspa.org and compatible).
type REST struct {
	Base string
	HTTP *http.Client
}

func NewREST(base string, timeout time.Duration) *REST {
	return &REST{
		Base: strings.TrimRight(base, "/"),
		HTTP: &http.Client{Timeout: timeout},
	}
}

var _ Client = (*REST)(nil)

type restInput struct {
	PreviousOutpointHash    string `json:"previous_outpoint_hash"`
	PreviousOutpointIndex   string `json:"previous_outpoint_index"`
	PreviousOutpointAddress string `json:"previous_outpoint_address"`
}

type restOutput struct {
	Index   int    `json:"index"`
	Address string `json:"script_public_key_address"`
}

type restTransaction struct {
	TransactionID string       `json:"transaction_id"`
	Payload       string       `json:"payload"`
	BlockTime     int64        `json:"block_time"`
	Inputs        []restInput  `json:"inputs"`
	Outputs       []restOutput `json:"outputs"`
}

func (c *REST) VerifyTransaction(ctx context.Context, txHash string) (*Transaction, error) {
	tx, err := c.fetch(ctx, txHash, url.Values{
		"inputs":                     {"true"},
		"outputs":                    {"false"},
		"resolve_previous_outpoints": {"light"},
	})
	if errors.Is(err, errNotFound) {
		return &Transaction{Hash: txHash}, nil
	}
	if err != nil {
		return nil, err
	}

	out := &Transaction{
		Hash:    txHash,
		Exists:  true,
		Payload: tx.Payload,
	}
	if tx.BlockTime > 0 {
		out.BlockTime = time.UnixMilli(tx.BlockTime)
	}
	if len(tx.Inputs) > 0 {
		out.SenderAddress = tx.Inputs[0].PreviousOutpointAddress
	}
	return out, nil
}

// ResolveSender returns the address that owned the UTXO spent by the first
// input. When the node did not resolve it inline, the previous transaction
// is fetched and the referenced output read.
func (c *REST) ResolveSender(ctx context.Context, txHash string) (string, error) {
	tx, err := c.fetch(ctx, txHash, url.Values{
		"inputs":                     {"true"},
		"outputs":                    {"false"},
		"resolve_previous_outpoints": {"light"},
	})
	if err != nil {
		return "", err
	}
	if len(tx.Inputs) == 0 {
		return "", ErrSenderUnknown
	}
	in := tx.Inputs[0]
	if in.PreviousOutpointAddress != "" {
		return in.PreviousOutpointAddress, nil
	}
	if in.PreviousOutpointHash == "" {
		return "", ErrSenderUnknown
	}

	index, err := strconv.Atoi(in.PreviousOutpointIndex)
	if err != nil {
		return "", fmt.Errorf("%w: bad outpoint index %q", ErrSenderUnknown, in.PreviousOutpointIndex)
	}
	prev, err := c.fetch(ctx, in.PreviousOutpointHash, url.Values{
		"inputs":  {"false"},
		"outputs": {"true"},
	})
	if err != nil {
		return "", err
	}
	for _, o := range prev.Outputs {
		if o.Index == index && o.Address != "" {
			return o.Address, nil
		}
	}
	return "", ErrSenderUnknown
}

func (c *REST) fetch(ctx context.Context, txHash string, q url.Values) (*restTransaction, error) {
	u := c.Base + "/transactions/" + url.PathEscape(txHash) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errNotFound
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("chain get %s: %s", txHash, resp.Status)
	}
	var tx restTransaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", txHash, err)
	}
	return &tx, nil
}
