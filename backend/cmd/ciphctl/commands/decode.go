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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/efchatnet/ciphindex/backend/protocol"
)

type decoded struct {
	Kind           string `json:"kind"`
	Tag            string `json:"tag,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Address        string `json:"address,omitempty"`
	Alias          string `json:"alias,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	Content        string `json:"content,omitempty"`
	Raw            string `json:"raw,omitempty"`
}

func describe(p protocol.Payload) decoded {
	d := decoded{
		Kind:           p.Kind.String(),
		Tag:            p.Tag,
		ConversationID: p.ConversationID,
		Address:        p.Address,
		Alias:          p.Alias,
		Content:        p.Content,
		Raw:            p.Raw,
	}
	if !p.Timestamp.IsZero() {
		d.Timestamp = p.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return d
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <payload>",
		Short: "Decode a payload given as hex or raw text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := protocol.Decode(strings.TrimSpace(args[0]))
			if !p.IsProtocol() {
				return fmt.Errorf("not a %s payload", protocol.Prefix)
			}
			return printJSON(cmd.OutOrStdout(), describe(p))
		},
	}
}
