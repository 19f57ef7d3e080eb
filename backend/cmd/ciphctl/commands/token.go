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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/efchatnet/ciphindex/backend/config"
	"github.com/efchatnet/ciphindex/backend/middleware"
)

func tokenCmd() *cobra.Command {
	var (
		jwt     middleware.JWTConfig
		ttl     time.Duration
		cfgPath string
	)
	cmd := &cobra.Command{
		Use:   "token <address>",
		Short: "Issue a session token the server accepts",
		Long: "Issue a session token. Secret and issuer come from the server\n" +
			"configuration (--config and the environment) unless given as flags.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jwt.Secret == "" {
				var cargs []string
				if cfgPath != "" {
					cargs = []string{"-c", cfgPath}
				}
				cfg, err := config.Load(cargs, os.Getenv)
				if err != nil {
					return err
				}
				jwt.Secret = cfg.JWTSecret
				if !cmd.Flags().Changed("issuer") {
					jwt.Issuer = cfg.JWTIssuer
				}
				if !cmd.Flags().Changed("ttl") {
					ttl = cfg.SessionTTL
				}
			}

			token, err := middleware.IssueToken(args[0], &jwt, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&jwt.Secret, "secret", "", "HMAC secret (default JWT_SECRET)")
	cmd.Flags().StringVar(&jwt.Issuer, "issuer", "efchat", "token issuer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "server config file")
	return cmd
}
