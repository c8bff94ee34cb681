// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"bytes"
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rvail/netvault/internal/model"
	"github.com/rvail/netvault/internal/security"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HostKey = ssh.InsecureIgnoreHostKey()
	cfg.DialTimeout = 5 * time.Second
	cfg.KeepaliveInterval = 0
	cfg.ReconnectInitialDelay = 5 * time.Millisecond
	cfg.ReconnectMaxDelay = 20 * time.Millisecond
	cfg.ReconnectMaxAttempts = 3
	return cfg
}

func passwordAuth(password string) model.AuthConfig {
	return model.AuthConfig{
		Method:   model.AuthPassword,
		Username: testUser,
		Password: security.FromString(password),
	}
}

func profileFor(t *testing.T, addr string, auths ...model.AuthConfig) *model.ConnectionProfile {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, _ := strconv.Atoi(portStr)
	return &model.ConnectionProfile{
		Name:        "test-device",
		Hostname:    host,
		Port:        port,
		AuthMethods: auths,
	}
}

func jumpFor(t *testing.T, addr string, auths ...model.AuthConfig) model.JumpHostConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, _ := strconv.Atoi(portStr)
	return model.JumpHostConfig{Hostname: host, Port: port, Auth: auths}
}

// waitEvent pulls events until fn accepts one.
func waitEvent(t *testing.T, events <-chan Event, what string, fn func(Event) bool) Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-events:
			if fn(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func waitClosed(t *testing.T, events <-chan Event) error {
	t.Helper()
	ev := waitEvent(t, events, "Closed event", func(ev Event) bool {
		_, ok := ev.(Closed)
		return ok
	})
	return ev.(Closed).Err
}

func TestConnectAuthFallbackOrder(t *testing.T) {
	server := newTestServer(t, nil)

	// Stored key the server rejects, then the working password.
	keyAuth := model.AuthConfig{
		Method:     model.AuthKeyStored,
		Username:   testUser,
		PrivateKey: security.FromBytes(newClientKeyPEM(t)),
	}
	profile := profileFor(t, server.addr(), keyAuth, passwordAuth(testPassword))

	eng, err := New(profile, testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer eng.Disconnect()

	if got := eng.Status().State; got != StateConnected {
		t.Fatalf("state = %s, want connected", got)
	}

	trail := eng.Trail()
	if len(trail) != 2 {
		t.Fatalf("trail = %v, want exactly one failed and one succeeded attempt", trail)
	}
	if trail[0].Method != model.AuthKeyStored || trail[0].OK {
		t.Errorf("trail[0] = %v, want failed key-stored attempt", trail[0])
	}
	if trail[1].Method != model.AuthPassword || !trail[1].OK {
		t.Errorf("trail[1] = %v, want succeeded password attempt", trail[1])
	}

	eng.Disconnect()
	if err := waitClosed(t, eng.Events()); err != nil {
		t.Errorf("closed err = %v, want nil after explicit disconnect", err)
	}
}

func TestConnectAuthExhausted(t *testing.T) {
	server := newTestServer(t, nil)
	profile := profileFor(t, server.addr(), passwordAuth("wrong"))

	eng, err := New(profile, testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	err = eng.Connect(context.Background())
	var authErr *AuthenticationExhaustedError
	if !errors.As(err, &authErr) {
		t.Fatalf("connect error = %v, want AuthenticationExhaustedError", err)
	}
	if authErr.Hop != 0 {
		t.Errorf("hop = %d, want 0 (target)", authErr.Hop)
	}
	if len(authErr.Causes) != 1 || authErr.Causes[0].Method != model.AuthPassword {
		t.Errorf("causes = %v, want single password attempt", authErr.Causes)
	}
	if got := eng.Status().State; got != StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
}

func TestConnectAgentUnavailableFailsWithoutPresetWalk(t *testing.T) {
	server := newTestServer(t, nil)
	t.Setenv("SSH_AUTH_SOCK", "")

	// Agent-only chain with no agent reachable: every method fails before a
	// handshake, so this is an authentication failure, not a negotiation one,
	// and the trail must hold a single attempt rather than one per preset.
	profile := profileFor(t, server.addr(), model.AuthConfig{
		Method:   model.AuthAgent,
		Username: testUser,
	})

	eng, err := New(profile, testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	err = eng.Connect(context.Background())
	var authErr *AuthenticationExhaustedError
	if !errors.As(err, &authErr) {
		t.Fatalf("connect error = %v, want AuthenticationExhaustedError", err)
	}
	if authErr.Hop != 0 {
		t.Errorf("hop = %d, want 0 (target)", authErr.Hop)
	}
	if len(authErr.Causes) != 1 || authErr.Causes[0].Method != model.AuthAgent {
		t.Errorf("causes = %v, want single agent attempt", authErr.Causes)
	}
	var negoErr *NegotiationFailedError
	if errors.As(err, &negoErr) {
		t.Errorf("connect error = %v, must not be a negotiation failure", err)
	}
	if trail := eng.Trail(); len(trail) != 1 {
		t.Errorf("trail = %v, want a single attempt, not one per preset", trail)
	}
	if server.connCount() != 0 {
		t.Errorf("server saw %d connections, want 0 before any handshake", server.connCount())
	}
}

func TestConnectThroughJumpChain(t *testing.T) {
	hop1 := newTestServer(t, nil)
	target := newTestServer(t, nil)

	profile := profileFor(t, target.addr(), passwordAuth(testPassword))
	profile.JumpHosts = []model.JumpHostConfig{jumpFor(t, hop1.addr(), passwordAuth(testPassword))}

	eng, err := New(profile, testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer eng.Disconnect()

	if hop1.connCount() == 0 {
		t.Error("jump hop was never dialed")
	}
	if target.connCount() == 0 {
		t.Error("target was never dialed")
	}
}

func TestHopAuthFailureScopedToHop(t *testing.T) {
	hop1 := newTestServer(t, nil)
	hop2 := newTestServer(t, nil)
	target := newTestServer(t, nil)

	profile := profileFor(t, target.addr(), passwordAuth(testPassword))
	profile.JumpHosts = []model.JumpHostConfig{
		jumpFor(t, hop1.addr(), passwordAuth(testPassword)),
		jumpFor(t, hop2.addr(), passwordAuth("wrong")),
	}

	eng, err := New(profile, testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	err = eng.Connect(context.Background())
	var authErr *AuthenticationExhaustedError
	if !errors.As(err, &authErr) {
		t.Fatalf("connect error = %v, want AuthenticationExhaustedError", err)
	}
	if authErr.Hop != 2 {
		t.Errorf("failure scoped to hop %d, want hop 2", authErr.Hop)
	}
	if target.connCount() != 0 {
		t.Errorf("target dialed %d times after hop 2 failure, want 0", target.connCount())
	}
}

func TestNegotiationFallbackToCompatible(t *testing.T) {
	// The server only speaks a key exchange outside the modern preset.
	server := newTestServer(t, func(cfg *ssh.ServerConfig) {
		cfg.KeyExchanges = []string{"diffie-hellman-group14-sha1"}
	})
	profile := profileFor(t, server.addr(), passwordAuth(testPassword))

	eng, err := New(profile, testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer eng.Disconnect()

	trail := eng.Trail()
	if len(trail) < 2 {
		t.Fatalf("trail = %v, want modern failure then compatible success", trail)
	}
	if trail[0].Preset != "modern" || trail[0].OK {
		t.Errorf("trail[0] = %v, want failed modern attempt first", trail[0])
	}
	last := trail[len(trail)-1]
	if last.Preset != "compatible" || !last.OK {
		t.Errorf("last attempt = %v, want succeeded compatible attempt", last)
	}
}

func TestNegotiationExhausted(t *testing.T) {
	// No preset offers this MAC-less cipherless combination; use a kex the
	// client never offers in any preset.
	server := newTestServer(t, func(cfg *ssh.ServerConfig) {
		cfg.KeyExchanges = []string{"ecdh-sha2-nistp521"}
	})
	profile := profileFor(t, server.addr(), passwordAuth(testPassword))
	profile.Crypto = &model.CryptoConfig{Preset: "legacy-cisco"}

	eng, err := New(profile, testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	err = eng.Connect(context.Background())
	var negoErr *NegotiationFailedError
	if !errors.As(err, &negoErr) {
		t.Fatalf("connect error = %v, want NegotiationFailedError", err)
	}
	if len(negoErr.Presets) != 1 || negoErr.Presets[0] != "legacy-cisco" {
		t.Errorf("presets tried = %v, want [legacy-cisco]", negoErr.Presets)
	}
}

func TestConnectedDataFlow(t *testing.T) {
	server := newTestServer(t, nil)
	profile := profileFor(t, server.addr(), passwordAuth(testPassword))

	eng, err := New(profile, testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer eng.Disconnect()

	waitEvent(t, eng.Events(), "title", func(ev Event) bool {
		_, ok := ev.(TitleChanged)
		return ok
	})

	var received bytes.Buffer
	waitEvent(t, eng.Events(), "banner", func(ev Event) bool {
		if d, ok := ev.(DataReceived); ok {
			received.Write(d.Data)
			return bytes.Contains(received.Bytes(), []byte(testBanner))
		}
		return false
	})

	if err := eng.Input([]byte("show version\n")); err != nil {
		t.Fatalf("input: %v", err)
	}
	received.Reset()
	waitEvent(t, eng.Events(), "echo", func(ev Event) bool {
		if d, ok := ev.(DataReceived); ok {
			received.Write(d.Data)
			return bytes.Contains(received.Bytes(), []byte("show version"))
		}
		return false
	})

	if err := eng.Resize(132, 43); err != nil {
		t.Fatalf("resize: %v", err)
	}

	eng.Disconnect()
	if err := waitClosed(t, eng.Events()); err != nil {
		t.Errorf("closed err = %v, want nil", err)
	}
	if got := eng.Status().State; got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
}

func TestReconnectExhaustion(t *testing.T) {
	server := newTestServer(t, nil)
	profile := profileFor(t, server.addr(), passwordAuth(testPassword))

	cfg := testConfig()
	eng, err := New(profile, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Kill the server; the engine should cycle through reconnect attempts
	// with doubling, capped delays and then give up.
	server.stop()

	var delays []time.Duration
	for {
		ev := waitEvent(t, eng.Events(), "reconnect progress", func(ev Event) bool {
			switch e := ev.(type) {
			case StateChanged:
				return e.Status.State == StateReconnecting || e.Status.State == StateFailed
			case Closed:
				return true
			}
			return false
		})
		if sc, ok := ev.(StateChanged); ok && sc.Status.State == StateReconnecting {
			delays = append(delays, sc.Status.Delay)
			continue
		}
		if _, ok := ev.(Closed); ok {
			t.Fatalf("closed before observing failed state")
		}
		break
	}

	want := []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("reconnect delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}

	err = waitClosed(t, eng.Events())
	var recErr *ReconnectExhaustedError
	if !errors.As(err, &recErr) {
		t.Fatalf("closed err = %v, want ReconnectExhaustedError", err)
	}
	if recErr.Attempts != cfg.ReconnectMaxAttempts {
		t.Errorf("attempts = %d, want %d", recErr.Attempts, cfg.ReconnectMaxAttempts)
	}
}

func TestDisconnectCancelsReconnect(t *testing.T) {
	server := newTestServer(t, nil)
	profile := profileFor(t, server.addr(), passwordAuth(testPassword))

	cfg := testConfig()
	cfg.ReconnectInitialDelay = 10 * time.Second // long enough to disconnect mid-backoff
	eng, err := New(profile, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	server.stop()
	waitEvent(t, eng.Events(), "reconnecting state", func(ev Event) bool {
		sc, ok := ev.(StateChanged)
		return ok && sc.Status.State == StateReconnecting
	})

	eng.Disconnect()
	if err := waitClosed(t, eng.Events()); err != nil {
		t.Errorf("closed err = %v, want nil after explicit disconnect", err)
	}
	if got := eng.Status().State; got != StateDisconnected {
		t.Errorf("state = %s, want disconnected", got)
	}
}

func TestTouchConfirmationTimeout(t *testing.T) {
	hop := newTestServer(t, nil)
	target := newTestServer(t, nil)

	profile := profileFor(t, target.addr(), passwordAuth(testPassword))
	jump := jumpFor(t, hop.addr(), passwordAuth(testPassword))
	jump.RequiresTouch = true
	jump.TouchPrompt = "touch the yubikey"
	jump.TouchTimeout = model.Duration(20 * time.Millisecond)
	profile.JumpHosts = []model.JumpHostConfig{jump}

	eng, err := New(profile, testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	err = eng.Connect(context.Background())
	var touchErr *TouchConfirmationTimeoutError
	if !errors.As(err, &touchErr) {
		t.Fatalf("connect error = %v, want TouchConfirmationTimeoutError", err)
	}
	if touchErr.Hop != 1 {
		t.Errorf("hop = %d, want 1", touchErr.Hop)
	}

	waitEvent(t, eng.Events(), "touch prompt", func(ev Event) bool {
		tr, ok := ev.(TouchRequired)
		return ok && tr.Prompt == "touch the yubikey"
	})
}

func TestTouchConfirmed(t *testing.T) {
	hop := newTestServer(t, nil)
	target := newTestServer(t, nil)

	profile := profileFor(t, target.addr(), passwordAuth(testPassword))
	jump := jumpFor(t, hop.addr(), passwordAuth(testPassword))
	jump.RequiresTouch = true
	jump.TouchTimeout = model.Duration(5 * time.Second)
	profile.JumpHosts = []model.JumpHostConfig{jump}

	eng, err := New(profile, testConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	go func() {
		for ev := range eng.Events() {
			if _, ok := ev.(TouchRequired); ok {
				eng.ConfirmTouch()
				return
			}
		}
	}()

	if err := eng.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	eng.Disconnect()
}

func TestNextDelaySchedule(t *testing.T) {
	d0 := 1 * time.Second
	max := 30 * time.Second
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second, 30 * time.Second}

	d := d0
	for i, w := range want {
		d = nextDelay(d, max)
		if d != w {
			t.Errorf("step %d: delay = %v, want %v", i, d, w)
		}
	}
}
