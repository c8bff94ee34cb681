//go:build windows
// +build windows

// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Windows-specific implementation for locating the SSH agent.

package session

import (
	"net"
	"os"

	"github.com/Microsoft/go-winio"
	"github.com/davidmz/go-pageant"
	"golang.org/x/crypto/ssh/agent"
)

// getSSHAgent connects to a running SSH agent on Windows. Pageant-compatible
// agents (PuTTY, gpg-agent) are tried first, then the OpenSSH agent named
// pipe from SSH_AUTH_SOCK or its default location.
func getSSHAgent() agent.Agent {
	if pageant.Available() {
		return pageant.New()
	}

	var conn net.Conn
	var err error
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err = winio.DialPipe(sock, nil)
	} else {
		conn, err = winio.DialPipe(`\\.\pipe\openssh-ssh-agent`, nil)
	}
	if err == nil && conn != nil {
		return agent.NewClient(conn)
	}
	return nil
}
