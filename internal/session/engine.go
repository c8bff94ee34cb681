// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// Package session drives SSH connections to network equipment: hop-by-hop
// jump authentication, ordered auth method fallback, crypto negotiation
// fallback from modern to legacy presets, and an auto-reconnect loop with
// exponential backoff. One Engine per logical connection; engines share no
// state with each other.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rvail/netvault/internal/logging"
	"github.com/rvail/netvault/internal/model"
)

// Config carries the engine knobs that are not part of the connection
// profile: timeouts, reconnect policy, and host key verification.
type Config struct {
	DialTimeout       time.Duration
	KeepaliveInterval time.Duration

	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int

	HostKey ssh.HostKeyCallback

	TermType     string
	InitialCols  int
	InitialRows  int
	TouchTimeout time.Duration // default for hops that set requires_touch without a timeout
}

// DefaultConfig returns the production defaults. HostKey is left nil and
// must be set by the caller; there is no implicit insecure fallback.
func DefaultConfig() Config {
	return Config{
		DialTimeout:           10 * time.Second,
		KeepaliveInterval:     30 * time.Second,
		ReconnectInitialDelay: 1 * time.Second,
		ReconnectMaxDelay:     30 * time.Second,
		ReconnectMaxAttempts:  5,
		TermType:              "xterm-256color",
		InitialCols:           80,
		InitialRows:           24,
		TouchTimeout:          30 * time.Second,
	}
}

// Engine is one logical connection: it owns its jump transports, its shell
// session, and its state machine. Events flow out on Events(); Input,
// Resize, ConfirmTouch and Disconnect flow in. All methods are safe for
// concurrent use.
type Engine struct {
	profile *model.ConnectionProfile
	cfg     Config

	events  chan Event
	confirm chan struct{}

	done     chan struct{} // closed on explicit disconnect
	doneOnce sync.Once
	cancel   context.CancelFunc

	mu      sync.Mutex
	status  Status
	trail   []Attempt
	hops    []*ssh.Client
	client  *ssh.Client
	sess    *ssh.Session
	stdin   io.WriteCloser
	cols    int
	rows    int
	started bool
}

// New validates the profile and builds an engine around it.
func New(profile *model.ConnectionProfile, cfg Config) (*Engine, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.HostKey == nil {
		return nil, fmt.Errorf("host key callback is required")
	}
	def := DefaultConfig()
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.ReconnectInitialDelay <= 0 {
		cfg.ReconnectInitialDelay = def.ReconnectInitialDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.TermType == "" {
		cfg.TermType = def.TermType
	}
	if cfg.InitialCols <= 0 {
		cfg.InitialCols = def.InitialCols
	}
	if cfg.InitialRows <= 0 {
		cfg.InitialRows = def.InitialRows
	}
	if cfg.TouchTimeout <= 0 {
		cfg.TouchTimeout = def.TouchTimeout
	}
	return &Engine{
		profile: profile,
		cfg:     cfg,
		events:  make(chan Event, 64),
		confirm: make(chan struct{}, 1),
		done:    make(chan struct{}),
		status:  Status{State: StateDisconnected},
		cols:    cfg.InitialCols,
		rows:    cfg.InitialRows,
	}, nil
}

// Events returns the engine's event stream. The channel stays open for the
// engine's lifetime; a Closed event marks the end of the session. Consumers
// must drain it, or the engine stalls.
func (e *Engine) Events() <-chan Event { return e.events }

// Status returns the current state machine position.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Trail returns a copy of the attempt trail accumulated since Connect.
// Entries carry method names, hop indices, and preset names only.
func (e *Engine) Trail() []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Attempt, len(e.trail))
	copy(out, e.trail)
	return out
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
	e.emit(StateChanged{Status: s})
}

// emit delivers an event, preferring the buffered channel. Once the session
// has been explicitly disconnected a full buffer drops the event rather
// than stalling teardown.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
		return
	default:
	}
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Engine) record(a Attempt) {
	e.mu.Lock()
	e.trail = append(e.trail, a)
	e.mu.Unlock()
}

// Connect runs the full connect sequence and, on success, starts the
// supervisor that feeds events and handles auto-reconnect. It returns after
// the first sequence completes: nil on Connected, or the terminal error when
// the first attempt exhausts its fallbacks. Connect may be called once.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	e.started = true
	e.trail = nil
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	if err := e.connectOnce(ctx); err != nil {
		e.setStatus(Status{State: StateFailed, Reason: err.Error()})
		e.emit(Closed{Err: err})
		cancel()
		return err
	}
	go e.supervise(ctx)
	return nil
}

// Disconnect cancels any pending dial or backoff timer, tears down all
// transports in reverse order, and ends the session. Safe to call from any
// state, any number of times.
func (e *Engine) Disconnect() {
	e.doneOnce.Do(func() {
		close(e.done)
		e.mu.Lock()
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// ConfirmTouch acknowledges a pending TouchRequired prompt.
func (e *Engine) ConfirmTouch() {
	select {
	case e.confirm <- struct{}{}:
	default:
	}
}

// Input writes bytes to the remote shell.
func (e *Engine) Input(p []byte) error {
	e.mu.Lock()
	stdin := e.stdin
	e.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("session not connected")
	}
	_, err := stdin.Write(p)
	return err
}

// Resize updates the remote PTY dimensions. The size is remembered and
// reapplied after a reconnect.
func (e *Engine) Resize(cols, rows int) error {
	e.mu.Lock()
	e.cols, e.rows = cols, rows
	sess := e.sess
	e.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.WindowChange(rows, cols)
}

// connectOnce walks the jump chain and authenticates against the target,
// then opens the shell. On any failure it tears down the transports it
// opened, last first.
func (e *Engine) connectOnce(ctx context.Context) error {
	var hops []*ssh.Client
	teardown := func() {
		for i := len(hops) - 1; i >= 0; i-- {
			hops[i].Close()
		}
	}

	for i, hop := range e.profile.JumpHosts {
		n := i + 1
		if hop.RequiresTouch {
			if err := e.waitForTouch(ctx, n, hop); err != nil {
				teardown()
				return err
			}
		}
		var via *ssh.Client
		if len(hops) > 0 {
			via = hops[len(hops)-1]
		}
		e.setStatus(Status{State: StateDialingHop, Hop: n})
		client, err := e.dialAuth(ctx, n, hop.Addr(), hop.Auth, via)
		if err != nil {
			teardown()
			return err
		}
		hops = append(hops, client)
	}

	var via *ssh.Client
	if len(hops) > 0 {
		via = hops[len(hops)-1]
	}
	e.setStatus(Status{State: StateDialingTarget})
	client, err := e.dialAuth(ctx, 0, e.profile.Addr(), e.profile.AuthMethods, via)
	if err != nil {
		teardown()
		return err
	}

	if err := e.openShell(client); err != nil {
		client.Close()
		teardown()
		return err
	}

	e.mu.Lock()
	e.hops = hops
	e.client = client
	e.mu.Unlock()

	if e.cfg.KeepaliveInterval > 0 {
		go e.keepalive(client)
	}
	e.emit(TitleChanged{Title: fmt.Sprintf("%s — %s", e.profile.Name, e.profile.Addr())})
	e.setStatus(Status{State: StateConnected})
	logging.Infof("connected to %s (%d hops)", e.profile.Addr(), len(hops))
	return nil
}

// waitForTouch blocks until the collaborator confirms the hardware-token
// touch for hop n, or the hop's timeout elapses.
func (e *Engine) waitForTouch(ctx context.Context, n int, hop model.JumpHostConfig) error {
	timeout := hop.TouchTimeout.Std()
	if timeout <= 0 {
		timeout = e.cfg.TouchTimeout
	}
	prompt := hop.TouchPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("touch your security key to authenticate hop %d", n)
	}
	e.emit(TouchRequired{Hop: n, Prompt: prompt})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-e.confirm:
		return nil
	case <-timer.C:
		return &TouchConfirmationTimeoutError{Hop: n, Prompt: prompt, Timeout: timeout}
	case <-e.done:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dialAuth establishes one authenticated SSH transport. The outer loop walks
// crypto presets from modern to legacy; a preset is only abandoned on an
// explicit negotiation failure. Within a negotiated preset the auth methods
// are tried in profile order; exhausting them fails the whole connect.
func (e *Engine) dialAuth(ctx context.Context, hop int, addr string, auths []model.AuthConfig, via *ssh.Client) (*ssh.Client, error) {
	chain, err := presetChain(e.profile.Crypto)
	if err != nil {
		return nil, err
	}

	authState := Status{State: StateAuthenticatingTarget}
	if hop > 0 {
		authState = Status{State: StateAuthenticatingHop, Hop: hop}
	}

	var presetsTried []string
	var lastNegoErr string
	for _, preset := range chain {
		presetsTried = append(presetsTried, preset.Name)
		negotiated := false
		dialed := false
		var causes []Attempt

		for _, authCfg := range auths {
			attempt := Attempt{Hop: hop, Method: authCfg.Method, Preset: preset.Name}

			method, err := buildAuthMethod(authCfg)
			if err != nil {
				attempt.Err = err.Error()
				e.record(attempt)
				causes = append(causes, attempt)
				continue
			}

			clientCfg := &ssh.ClientConfig{
				User:            authCfg.Username,
				Auth:            []ssh.AuthMethod{method},
				HostKeyCallback: e.cfg.HostKey,
				Timeout:         e.cfg.DialTimeout,
			}
			preset.apply(clientCfg)

			conn, err := e.rawDial(ctx, addr, via)
			if err != nil {
				return nil, fmt.Errorf("dial %s: %w", addr, err)
			}
			dialed = true

			e.setStatus(authState)
			sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
			if err == nil {
				attempt.OK = true
				e.record(attempt)
				return ssh.NewClient(sshConn, chans, reqs), nil
			}
			conn.Close()

			if isNegotiationError(err) {
				attempt.Err = err.Error()
				e.record(attempt)
				lastNegoErr = err.Error()
				logging.Debugf("negotiation with %s failed under preset %s, broadening", addr, preset.Name)
				break
			}

			negotiated = true
			attempt.Err = err.Error()
			e.record(attempt)
			causes = append(causes, attempt)
			if !isAuthError(err) {
				// Transport-level failure after negotiation; no point in
				// retrying with other methods.
				return nil, fmt.Errorf("connection to %s failed: %w", addr, err)
			}
		}

		if negotiated {
			return nil, &AuthenticationExhaustedError{Hop: hop, Addr: addr, Causes: causes}
		}
		if !dialed {
			// Every method failed before a handshake was attempted (bad key,
			// no agent). Broader crypto cannot fix that; fail with the
			// per-method causes instead of walking more presets.
			return nil, &AuthenticationExhaustedError{Hop: hop, Addr: addr, Causes: causes}
		}
	}
	return nil, &NegotiationFailedError{Hop: hop, Addr: addr, Presets: presetsTried, LastErr: lastNegoErr}
}

// rawDial opens the TCP leg for one handshake attempt, either directly or
// tunneled through the previous hop.
func (e *Engine) rawDial(ctx context.Context, addr string, via *ssh.Client) (net.Conn, error) {
	if via == nil {
		d := net.Dialer{Timeout: e.cfg.DialTimeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	return via.DialContext(ctx, "tcp", addr)
}

// openShell starts the interactive session: PTY, shell, and the output
// pumps feeding DataReceived events.
func (e *Engine) openShell(client *ssh.Client) error {
	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("failed to open session channel: %w", err)
	}

	e.mu.Lock()
	cols, rows := e.cols, e.rows
	e.mu.Unlock()

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(e.cfg.TermType, rows, cols, modes); err != nil {
		sess.Close()
		return fmt.Errorf("failed to request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		sess.Close()
		return err
	}
	if err := sess.Shell(); err != nil {
		sess.Close()
		return fmt.Errorf("failed to start shell: %w", err)
	}

	e.mu.Lock()
	e.sess = sess
	e.stdin = stdin
	e.mu.Unlock()

	go e.pump(stdout)
	go e.pump(stderr)
	return nil
}

func (e *Engine) pump(r io.Reader) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			e.emit(DataReceived{Data: data})
		}
		if err != nil {
			return
		}
	}
}

// keepalive sends OpenSSH keepalive requests until the transport dies.
func (e *Engine) keepalive(client *ssh.Client) {
	ticker := time.NewTicker(e.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				return
			}
		case <-e.done:
			return
		}
	}
}

// supervise watches the live transport and runs the reconnect loop when it
// is lost unexpectedly. Explicit disconnect always wins and ends the
// session cleanly.
func (e *Engine) supervise(ctx context.Context) {
	for {
		e.mu.Lock()
		client := e.client
		e.mu.Unlock()

		waitCh := make(chan error, 1)
		go func() { waitCh <- client.Wait() }()

		select {
		case <-e.done:
			e.teardown()
			e.setStatus(Status{State: StateDisconnected})
			e.emit(Closed{})
			return
		case err := <-waitCh:
			select {
			case <-e.done:
				e.teardown()
				e.setStatus(Status{State: StateDisconnected})
				e.emit(Closed{})
				return
			default:
			}
			logging.Warnf("connection to %s lost: %v", e.profile.Addr(), err)
			e.teardown()
			if !e.reconnect(ctx, err) {
				return
			}
		}
	}
}

// reconnect retries the full connect sequence with exponential backoff.
// Returns true when a new transport is live, false when the session ended
// (gave up, cancelled, or explicitly disconnected).
func (e *Engine) reconnect(ctx context.Context, lossErr error) bool {
	if e.cfg.ReconnectMaxAttempts <= 0 {
		failErr := fmt.Errorf("connection lost: %w", lossErr)
		e.setStatus(Status{State: StateFailed, Reason: failErr.Error()})
		e.emit(Closed{Err: failErr})
		return false
	}

	delay := e.cfg.ReconnectInitialDelay
	lastErr := lossErr
	for attempt := 1; attempt <= e.cfg.ReconnectMaxAttempts; attempt++ {
		e.setStatus(Status{State: StateReconnecting, Attempt: attempt, Delay: delay})

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-e.done:
			timer.Stop()
			e.setStatus(Status{State: StateDisconnected})
			e.emit(Closed{})
			return false
		case <-ctx.Done():
			timer.Stop()
			e.setStatus(Status{State: StateDisconnected})
			e.emit(Closed{})
			return false
		}

		if err := e.connectOnce(ctx); err != nil {
			lastErr = err
			delay = nextDelay(delay, e.cfg.ReconnectMaxDelay)
			continue
		}
		return true
	}

	failErr := &ReconnectExhaustedError{Attempts: e.cfg.ReconnectMaxAttempts, LastErr: lastErr}
	e.setStatus(Status{State: StateFailed, Reason: failErr.Error()})
	e.emit(Closed{Err: failErr})
	return false
}

// nextDelay doubles the backoff delay up to the cap.
func nextDelay(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}

// teardown closes the session, the target transport, and the jump hops in
// reverse order of establishment.
func (e *Engine) teardown() {
	e.mu.Lock()
	sess, client, hops := e.sess, e.client, e.hops
	e.sess, e.client, e.stdin, e.hops = nil, nil, nil, nil
	e.mu.Unlock()

	if sess != nil {
		sess.Close()
	}
	if client != nil {
		client.Close()
	}
	for i := len(hops) - 1; i >= 0; i-- {
		hops[i].Close()
	}
}
