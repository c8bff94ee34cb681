// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/rvail/netvault/internal/model"
)

// Attempt is one entry in a session's diagnostic trail: a single handshake
// try identified by hop, auth method, and crypto preset. Err holds redacted
// error text only; secret values never enter the trail.
type Attempt struct {
	Hop    int // 0 = target, 1..N = jump hop
	Method model.AuthMethod
	Preset string
	OK     bool
	Err    string
}

func (a Attempt) String() string {
	where := "target"
	if a.Hop > 0 {
		where = fmt.Sprintf("hop %d", a.Hop)
	}
	if a.OK {
		return fmt.Sprintf("%s: %s (%s): ok", where, a.Method, a.Preset)
	}
	return fmt.Sprintf("%s: %s (%s): %s", where, a.Method, a.Preset, a.Err)
}

func formatTrail(trail []Attempt) string {
	lines := make([]string, len(trail))
	for i, a := range trail {
		lines[i] = "  " + a.String()
	}
	return strings.Join(lines, "\n")
}

// AuthenticationExhaustedError reports that every auth method for one hop or
// the target failed. Causes carries the per-method attempts in order.
type AuthenticationExhaustedError struct {
	Hop    int // 0 = target
	Addr   string
	Causes []Attempt
}

func (e *AuthenticationExhaustedError) Error() string {
	where := fmt.Sprintf("target %s", e.Addr)
	if e.Hop > 0 {
		where = fmt.Sprintf("hop %d (%s)", e.Hop, e.Addr)
	}
	return fmt.Sprintf("all authentication methods failed for %s:\n%s", where, formatTrail(e.Causes))
}

// NegotiationFailedError reports that no crypto preset got past algorithm
// negotiation with the remote.
type NegotiationFailedError struct {
	Hop     int
	Addr    string
	Presets []string
	LastErr string
}

func (e *NegotiationFailedError) Error() string {
	return fmt.Sprintf("crypto negotiation with %s failed for every preset (%s): %s",
		e.Addr, strings.Join(e.Presets, ", "), e.LastErr)
}

// TouchConfirmationTimeoutError reports that a hardware-token touch prompt
// on a jump hop was not confirmed within its timeout.
type TouchConfirmationTimeoutError struct {
	Hop     int
	Prompt  string
	Timeout time.Duration
}

func (e *TouchConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("hop %d: touch confirmation not received within %s", e.Hop, e.Timeout)
}

// ReconnectExhaustedError reports that the auto-reconnect loop gave up after
// the configured maximum number of attempts.
type ReconnectExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ReconnectExhaustedError) Error() string {
	return fmt.Sprintf("reconnect gave up after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ReconnectExhaustedError) Unwrap() error { return e.LastErr }

// Handshake error classification. The ssh package reports negotiation and
// authentication failures as formatted strings, so classification is
// substring based, same as the OpenSSH client's own exit-path checks.

func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "unable to authenticate")
}

func isNegotiationError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no common algorithm") ||
		strings.Contains(msg, "algorithm negotiation failed")
}
