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

	"github.com/efchatnet/ciphindex/backend/protocol"
)

func convidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convid <address> <address>",
		Short: "Print the conversation id shared by two addresses",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), protocol.ConversationID(args[0], args[1]))
			return nil
		},
	}
}

func encodeHandshakeCmd() *cobra.Command {
	var (
		h   protocol.Handshake
		at  int64
		raw bool
	)
	cmd := &cobra.Command{
		Use:   "encode-handshake",
		Short: "Build a handshake payload",
		Long: "Build a handshake payload. Without --conversation the id is derived\n" +
			"from --sender and --recipient.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if h.ConversationID == "" {
				sender, _ := cmd.Flags().GetString("sender")
				if sender == "" {
					return fmt.Errorf("either --conversation or --sender is required")
				}
				h.ConversationID = protocol.ConversationID(sender, h.RecipientAddress)
			}

			ts := time.Now()
			if at > 0 {
				ts = time.UnixMilli(at)
			}
			out, err := h.Raw(ts)
			if err != nil {
				return err
			}
			if !raw {
				out = protocol.ToHex(out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&h.SenderAlias, "alias", "", "sender alias")
	cmd.Flags().StringVar(&h.RecipientAddress, "recipient", "", "recipient address")
	cmd.Flags().StringVar(&h.ConversationID, "conversation", "", "conversation id")
	cmd.Flags().String("sender", "", "sender address, used to derive the conversation id")
	cmd.Flags().BoolVar(&h.IsResponse, "response", false, "encode a handshake response")
	cmd.Flags().BoolVar(&h.Legacy, "legacy", false, "use the long handshake tags")
	cmd.Flags().Int64Var(&at, "at", 0, "timestamp in unix milliseconds (default now)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the raw string instead of hex")
	_ = cmd.MarkFlagRequired("recipient")
	return cmd
}

func encodeCommCmd() *cobra.Command {
	var (
		alias string
		raw   bool
	)
	cmd := &cobra.Command{
		Use:   "encode-comm <content>",
		Short: "Build a comm payload carrying already encrypted content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if protocol.NormalizeConversationID(alias) == "" {
				return protocol.ErrMissingConversation
			}
			out := protocol.EncodeComm(alias, args[0])
			if !raw {
				out = protocol.ToHex(out)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&alias, "conversation", "", "conversation id used as the comm alias")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the raw string instead of hex")
	return cmd
}
