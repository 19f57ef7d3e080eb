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
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"
)

var timeout time.Duration

// NewRootCmd builds the command tree. Output goes to the command's out
// writer so callers can capture it.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ciphctl",
		Short:        "Tools for ciph_msg payloads and the conversation indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().DurationVar(&timeout, "timeout", 8*time.Second, "timeout for chain lookups")

	root.AddCommand(
		convidCmd(),
		encodeHandshakeCmd(),
		encodeCommCmd(),
		decodeCmd(),
		verifyCmd(),
		tokenCmd(),
	)
	return root
}

func Execute() error {
	return NewRootCmd().Execute()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
