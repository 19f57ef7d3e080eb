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

// Package verifier confirms that a transaction exists on chain and that its
// payload is bound to the conversation, recipient and sender a caller
// expects before any state transition is trusted.
//
// Verification never panics on chain failures. Every failure is returned as
// a *Rejection whose reason is one of the package sentinels:
//
//	res, err := v.Verify(ctx, tx, protocol.KindHandshakeResponse, verifier.Binding{
//		ConversationID: conv,
//		SenderAddress:  caller,
//	})
//	if errors.Is(err, verifier.ErrBindingMismatch) { ... }
package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/efchatnet/ciphindex/backend/chain"
	"github.com/efchatnet/ciphindex/backend/logging"
	"github.com/efchatnet/ciphindex/backend/metrics"
	"github.com/efchatnet/ciphindex/backend/protocol"
)

var (
	ErrTxNotFound       = errors.New("transaction not found on chain")
	ErrNotProtocol      = errors.New("payload is not a protocol message")
	ErrTypeMismatch     = errors.New("payload has the wrong message type")
	ErrBindingMismatch  = errors.New("payload is bound to a different conversation or party")
	ErrSenderUnresolved = errors.New("sender address could not be resolved")
	ErrChainUnavailable = errors.New("chain lookup failed")
)

// Rejection explains why a transaction was not accepted.
type Rejection struct {
	TxHash string
	Reason error
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("tx %s: %v", r.TxHash, r.Reason)
	}
	return fmt.Sprintf("tx %s: %v: %s", r.TxHash, r.Reason, r.Detail)
}

func (r *Rejection) Unwrap() error {
	return r.Reason
}

// Binding lists the fields a payload must match. Empty fields are not checked.
type Binding struct {
	ConversationID   string
	RecipientAddress string
	SenderAddress    string
}

// Config holds the policy knobs.
type Config struct {
	// StrictSenderBinding rejects a transaction whose sender could not be
	// resolved, instead of accepting the conversation id as proof.
	StrictSenderBinding bool
	// AcceptMissingPayload accepts existence alone when the node returns no
	// payload for a transaction.
	AcceptMissingPayload bool
	// Timeout bounds each chain lookup. Zero means the caller's context only.
	Timeout time.Duration
}

// Result is what a successful verification learned.
type Result struct {
	TxHash  string
	Payload protocol.Payload
	// PayloadVerified is false when the transaction was accepted on
	// existence alone.
	PayloadVerified bool
	// Sender is the resolved funding address, empty if it was not resolved.
	Sender    string
	BlockTime time.Time
}

type Verifier struct {
	chains  chain.Networks
	cfg     Config
	log     logging.Logger
	metrics *metrics.Metrics
}

func New(chains chain.Networks, cfg Config, log logging.Logger, m *metrics.Metrics) *Verifier {
	return &Verifier{
		chains:  chains,
		cfg:     cfg,
		log:     logging.OrNop(log).With("component", "verifier"),
		metrics: m,
	}
}

// Verified is the boolean form of Verify.
func (v *Verifier) Verified(ctx context.Context, txHash string, expected protocol.Kind, b Binding) bool {
	_, err := v.Verify(ctx, txHash, expected, b)
	return err == nil
}

// Verify checks txHash against the expected kind and binding. KindNone as
// expected skips the type check. The network is taken from the sender or
// recipient address of the binding.
func (v *Verifier) Verify(ctx context.Context, txHash string, expected protocol.Kind, b Binding) (*Result, error) {
	res, err := v.verify(ctx, txHash, expected, b)
	if err != nil {
		var rej *Rejection
		if errors.As(err, &rej) {
			v.metrics.ObserveVerification(reasonLabel(rej.Reason))
			v.log.Warn(ctx, "verification rejected", "tx", txHash, "reason", rej.Reason.Error(), "detail", rej.Detail)
		}
		return nil, err
	}
	if res.PayloadVerified {
		v.metrics.ObserveVerification("ok")
	} else {
		v.metrics.ObserveVerification("ok_existence_only")
	}
	return res, nil
}

func (v *Verifier) verify(ctx context.Context, txHash string, expected protocol.Kind, b Binding) (*Result, error) {
	if !protocol.ValidTxHash(txHash) {
		return nil, reject(txHash, ErrTxNotFound, "malformed transaction hash")
	}
	client := v.chains.For(networkOf(b))
	if client == nil {
		return nil, reject(txHash, ErrChainUnavailable, "no chain client configured")
	}

	lookupCtx, cancel := v.withTimeout(ctx)
	defer cancel()

	tx, err := client.VerifyTransaction(lookupCtx, txHash)
	if err != nil {
		return nil, reject(txHash, ErrChainUnavailable, err.Error())
	}
	if tx == nil || !tx.Exists {
		return nil, reject(txHash, ErrTxNotFound, "")
	}

	res := &Result{TxHash: txHash, BlockTime: tx.BlockTime}
	if tx.Payload == "" {
		if !v.cfg.AcceptMissingPayload {
			return nil, reject(txHash, ErrNotProtocol, "chain returned no payload")
		}
		if err := v.bindSender(ctx, lookupCtx, client, tx, b, res, true); err != nil {
			return nil, err
		}
		v.log.Info(ctx, "accepting transaction on existence alone", "tx", txHash)
		return res, nil
	}

	p := protocol.Decode(tx.Payload)
	if !p.IsProtocol() || p.Kind == protocol.KindUnknown {
		return nil, reject(txHash, ErrNotProtocol, "")
	}
	if expected != protocol.KindNone && p.Kind != expected {
		return nil, reject(txHash, ErrTypeMismatch, fmt.Sprintf("want %s, got %s", expected, p.Kind))
	}
	res.Payload = p
	res.PayloadVerified = true

	if err := checkConversation(txHash, p, b); err != nil {
		return nil, err
	}
	if b.RecipientAddress != "" && p.Kind.IsHandshake() && p.Address != "" {
		if !protocol.MatchesTruncated(p.Address, b.RecipientAddress) {
			return nil, reject(txHash, ErrBindingMismatch, "recipient differs")
		}
	}

	if err := v.bindSender(ctx, lookupCtx, client, tx, b, res, false); err != nil {
		return nil, err
	}
	return res, nil
}

// bindSender checks the funding address against b.SenderAddress. It runs
// whether or not the payload was available. Without a payload nothing else
// binds the transaction, so an unresolved sender is accepted only outside
// strict mode.
func (v *Verifier) bindSender(ctx, lookupCtx context.Context, client chain.Client, tx *chain.Transaction, b Binding, res *Result, existenceOnly bool) error {
	if b.SenderAddress == "" {
		return nil
	}
	var err error
	sender := tx.SenderAddress
	if sender == "" {
		sender, err = client.ResolveSender(lookupCtx, res.TxHash)
	}
	switch {
	case err == nil && sender != "":
		if !protocol.SameAddress(sender, b.SenderAddress) {
			return reject(res.TxHash, ErrBindingMismatch, "sender differs")
		}
		res.Sender = sender
	case v.cfg.StrictSenderBinding:
		return reject(res.TxHash, ErrSenderUnresolved, errDetail(err))
	case !existenceOnly && b.ConversationID == "":
		return reject(res.TxHash, ErrSenderUnresolved, "no conversation id to fall back on")
	default:
		v.log.Info(ctx, "sender unresolved", "tx", res.TxHash, "existence_only", existenceOnly, "error", errDetail(err))
	}
	return nil
}

// checkConversation binds the payload to the expected conversation. A
// handshake carries the id in its own field, a comm message as its alias.
// The minimal legacy format carries no id and is rejected whenever one is
// expected.
func checkConversation(txHash string, p protocol.Payload, b Binding) error {
	if b.ConversationID == "" {
		return nil
	}
	if p.ConversationID == "" {
		return reject(txHash, ErrBindingMismatch, "payload carries no conversation id")
	}
	if !protocol.SameConversation(p.ConversationID, b.ConversationID) {
		return reject(txHash, ErrBindingMismatch,
			fmt.Sprintf("conversation %s, expected %s", p.ConversationID, protocol.NormalizeConversationID(b.ConversationID)))
	}
	return nil
}

func (v *Verifier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, v.cfg.Timeout)
}

func networkOf(b Binding) protocol.Network {
	if b.SenderAddress != "" {
		return protocol.NetworkOf(b.SenderAddress)
	}
	return protocol.NetworkOf(b.RecipientAddress)
}

func reject(txHash string, reason error, detail string) *Rejection {
	return &Rejection{TxHash: txHash, Reason: reason, Detail: detail}
}

func errDetail(err error) string {
	if err == nil {
		return "empty sender"
	}
	return err.Error()
}

func reasonLabel(reason error) string {
	switch {
	case errors.Is(reason, ErrTxNotFound):
		return "not_found"
	case errors.Is(reason, ErrNotProtocol):
		return "not_protocol"
	case errors.Is(reason, ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(reason, ErrBindingMismatch):
		return "binding_mismatch"
	case errors.Is(reason, ErrSenderUnresolved):
		return "sender_unresolved"
	default:
		return "chain_unavailable"
	}
}
