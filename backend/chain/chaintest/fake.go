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

// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"sync"

	"github.com/efchatnet/ciphindex/backend/chain"
)

// Fake is a chain with hand-placed transactions. Broadcast plays the role
// of the external signer and broadcaster.
type Fake struct {
	mu      sync.Mutex
	txs     map[string]chain.Transaction
	senders map[string]string

	// Err, when set, is returned by every call.
	Err error
	// SenderErr, when set, is returned by ResolveSender.
	SenderErr error
}

func New() *Fake {
	return &Fake{
		txs:     make(map[string]chain.Transaction),
		senders: make(map[string]string),
	}
}

var _ chain.Client = (*Fake)(nil)

// Broadcast records a transaction carrying payloadHex, funded by sender.
// An empty sender leaves the funding address unresolvable.
func (f *Fake) Broadcast(txHash, payloadHex, sender string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[txHash] = chain.Transaction{Hash: txHash, Exists: true, Payload: payloadHex}
	if sender != "" {
		f.senders[txHash] = sender
	}
}

func (f *Fake) VerifyTransaction(_ context.Context, txHash string) (*chain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	tx, ok := f.txs[txHash]
	if !ok {
		return &chain.Transaction{Hash: txHash}, nil
	}
	return &tx, nil
}

func (f *Fake) ResolveSender(_ context.Context, txHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if f.SenderErr != nil {
		return "", f.SenderErr
	}
	s, ok := f.senders[txHash]
	if !ok {
		return "", chain.ErrSenderUnknown
	}
	return s, nil
}
