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

// Package chain is the indexer's view of the blockchain: it can tell whether
// a transaction exists, what payload it carries and which address funded it.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/efchatnet/ciphindex/backend/protocol"
)

// ErrSenderUnknown is returned when the funding address of a transaction
// cannot be resolved from its inputs.
var ErrSenderUnknown = errors.New("sender address could not be resolved")

// Transaction is what the chain reports about a transaction hash.
type Transaction struct {
	Hash   string
	Exists bool
	// Payload is the hex payload. Empty means the node did not return one,
	// which some nodes do for every transaction.
	Payload string
	// SenderAddress is filled when the node resolved the first input
	// inline. Otherwise use Client.ResolveSender.
	SenderAddress string
	BlockTime     time.Time
}

// Client looks transactions up on one network. A missing transaction is
// reported with Exists=false and a nil error; errors are transport failures.
type Client interface {
	VerifyTransaction(ctx context.Context, txHash string) (*Transaction, error)
	ResolveSender(ctx context.Context, txHash string) (string, error)
}

// Networks routes lookups to the client serving a network. A nil testnet
// client falls back to mainnet.
type Networks struct {
	Mainnet Client
	Testnet Client
}

func (n Networks) For(network protocol.Network) Client {
	if network == protocol.NetworkTestnet && n.Testnet != nil {
		return n.Testnet
	}
	return n.Mainnet
}
