//go:build !windows
// +build !windows

// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Unix-specific implementation for locating the SSH agent.

package session

import (
	"net"
	"os"

	"golang.org/x/crypto/ssh/agent"
)

// getSSHAgent connects to a running SSH agent via SSH_AUTH_SOCK. Returns nil
// when no agent is reachable; agent auth is then skipped with a trail entry.
func getSSHAgent() agent.Agent {
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			return agent.NewClient(conn)
		}
	}
	return nil
}
