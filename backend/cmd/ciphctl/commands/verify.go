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

package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/efchatnet/ciphindex/backend/chain"
	"github.com/efchatnet/ciphindex/backend/protocol"
	"github.com/efchatnet/ciphindex/backend/verifier"
)

type verified struct {
	TxHash          string  `json:"tx_hash"`
	PayloadVerified bool    `json:"payload_verified"`
	Sender          string  `json:"sender,omitempty"`
	BlockTime       string  `json:"block_time,omitempty"`
	Payload         decoded `json:"payload"`
}

func verifyCmd() *cobra.Command {
	var (
		mainnet, testnet string
		kind             string
		binding          verifier.Binding
		cfg              verifier.Config
	)
	cmd := &cobra.Command{
		Use:   "verify <tx-hash>",
		Short: "Check that a transaction carries the expected payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, ok := protocol.ParseKind(kind)
			if !ok {
				return fmt.Errorf("unknown kind %q", kind)
			}
			cfg.Timeout = timeout
			v := verifier.New(chain.Networks{
				Mainnet: chain.NewREST(mainnet, timeout),
				Testnet: chain.NewREST(testnet, timeout),
			}, cfg, nil, nil)

			res, err := v.Verify(cmd.Context(), args[0], expected, binding)
			if err != nil {
				return err
			}
			out := verified{
				TxHash:          res.TxHash,
				PayloadVerified: res.PayloadVerified,
				Sender:          res.Sender,
				Payload:         describe(res.Payload),
			}
			if !res.BlockTime.IsZero() {
				out.BlockTime = res.BlockTime.UTC().Format(time.RFC3339)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&mainnet, "chain", "https://api.kaspa.org", "mainnet REST API base URL")
	cmd.Flags().StringVar(&testnet, "testnet-chain", "https://api-tn10.kaspa.org", "testnet REST API base URL")
	cmd.Flags().StringVar(&kind, "kind", "none", "expected kind: handshake, handshake_response, comm or none")
	cmd.Flags().StringVar(&binding.ConversationID, "conversation", "", "expected conversation id")
	cmd.Flags().StringVar(&binding.RecipientAddress, "recipient", "", "expected recipient address")
	cmd.Flags().StringVar(&binding.SenderAddress, "sender", "", "expected sender address")
	cmd.Flags().BoolVar(&cfg.StrictSenderBinding, "strict", false, "reject when the sender cannot be resolved")
	cmd.Flags().BoolVar(&cfg.AcceptMissingPayload, "accept-missing", false, "accept existence alone when the node returns no payload")
	return cmd
}
