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

// Package commands defines the ciphctl CLI for working with ciph_msg
// payloads outside the server.
//
// Commands
//
//   - convid            Print the conversation id of two addresses
//   - encode-handshake  Build a handshake or handshake response payload
//   - encode-comm       Build a comm payload
//   - decode            Decode a payload given as hex or raw text
//   - verify            Check a transaction against the chain
//   - token             Issue a session token for an address
package commands
