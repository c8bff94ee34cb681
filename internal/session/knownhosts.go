// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/rvail/netvault/internal/logging"
)

// HostKeyMode selects how remote host keys are verified.
type HostKeyMode string

const (
	// HostKeyStrict fails on unknown or mismatched host keys.
	HostKeyStrict HostKeyMode = "strict"
	// HostKeyAcceptNew records unknown host keys on first contact and fails
	// on mismatch afterwards.
	HostKeyAcceptNew HostKeyMode = "accept-new"
	// HostKeyInsecure skips verification entirely. Lab use only.
	HostKeyInsecure HostKeyMode = "insecure"
)

// HostKeyMismatchError reports a host presenting a key that differs from the
// recorded one. Deliberately loud: this is the man-in-the-middle signal.
type HostKeyMismatchError struct {
	Host string
	Key  string // presented key in authorized_keys format
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: remote presented %s; "+
		"remove the stale entry from the known hosts file if the device was legitimately reinstalled", e.Host, e.Key)
}

// NewHostKeyCallback builds the verification callback for the given mode.
// path is the known hosts file; it is created on demand in accept-new mode.
func NewHostKeyCallback(mode HostKeyMode, path string) (ssh.HostKeyCallback, error) {
	switch mode {
	case HostKeyInsecure:
		return ssh.InsecureIgnoreHostKey(), nil
	case HostKeyStrict, HostKeyAcceptNew:
	default:
		return nil, fmt.Errorf("unknown host key mode %q", mode)
	}

	if mode == HostKeyAcceptNew {
		if err := ensureKnownHostsFile(path); err != nil {
			return nil, err
		}
	}

	verify, err := knownhosts.New(path)
	if err != nil {
		if mode == HostKeyStrict && os.IsNotExist(err) {
			return nil, fmt.Errorf("known hosts file %s does not exist; connect once with accept-new to seed it", path)
		}
		return nil, fmt.Errorf("failed to load known hosts file %s: %w", path, err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := verify(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}
		if len(keyErr.Want) > 0 {
			return &HostKeyMismatchError{
				Host: hostname,
				Key:  strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key))),
			}
		}
		// Unknown host.
		if mode == HostKeyStrict {
			return fmt.Errorf("unknown host key for %s", hostname)
		}
		if err := appendKnownHost(path, hostname, remote, key); err != nil {
			return fmt.Errorf("failed to record host key for %s: %w", hostname, err)
		}
		if warn := weakHostKeyWarning(key); warn != "" {
			logging.Warnf("%s: %s", hostname, warn)
		}
		logging.Infof("recorded new host key for %s (%s)", hostname, key.Type())
		return nil
	}, nil
}

// weakHostKeyWarning flags host key algorithms that are accepted for
// compatibility but should be upgraded on the device.
func weakHostKeyWarning(key ssh.PublicKey) string {
	switch key.Type() {
	case ssh.KeyAlgoRSA:
		return "host uses an RSA host key; prefer ed25519 or ecdsa where the device supports it"
	case ssh.KeyAlgoDSA:
		return "host uses a DSA host key, which is deprecated and weak"
	}
	return ""
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	return f.Close()
}

func appendKnownHost(path, hostname string, remote net.Addr, key ssh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	line := knownhosts.Line([]string{hostname}, key)
	_, err = fmt.Fprintln(f, line)
	return err
}

// DefaultKnownHostsPath returns the application's own known hosts file,
// kept separate from the user's OpenSSH one.
func DefaultKnownHostsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".netvault", "known_hosts"), nil
}
