// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"golang.org/x/crypto/ssh"
)

const (
	testUser     = "admin"
	testPassword = "secret"
	testBanner   = "switch01# "
)

func newHostSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}
	return signer
}

// newClientKeyPEM generates a client private key the test servers do not
// trust, for exercising public key auth failures.
func newClientKeyPEM(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	return pem.EncodeToMemory(block)
}

// testServer is an in-process SSH server handling password auth, interactive
// sessions (pty-req, shell, echo), and direct-tcpip forwarding for jump
// chain tests.
type testServer struct {
	t        *testing.T
	listener net.Listener
	config   *ssh.ServerConfig

	conns    int64
	mu       sync.Mutex
	open     []net.Conn
	stopped  bool
	stopOnce sync.Once
}

func newTestServer(t *testing.T, mutate func(*ssh.ServerConfig)) *testServer {
	t.Helper()
	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong credentials for %s", conn.User())
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, fmt.Errorf("key not authorized")
		},
	}
	config.AddHostKey(newHostSigner(t))
	if mutate != nil {
		mutate(config)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &testServer{t: t, listener: listener, config: config}
	go s.serve()
	t.Cleanup(s.stop)
	return s
}

func (s *testServer) addr() string { return s.listener.Addr().String() }

// connCount reports how many TCP connections the server accepted.
func (s *testServer) connCount() int64 { return atomic.LoadInt64(&s.conns) }

// stop closes the listener and every live connection. The address becomes
// unreachable, which the reconnect tests rely on.
func (s *testServer) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		conns := s.open
		s.open = nil
		s.mu.Unlock()
		s.listener.Close()
		for _, c := range conns {
			c.Close()
		}
	})
}

func (s *testServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		atomic.AddInt64(&s.conns, 1)
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.open = append(s.open, conn)
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *testServer) handle(conn net.Conn) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			go s.handleSession(newChan)
		case "direct-tcpip":
			go s.handleDirectTCPIP(newChan)
		default:
			newChan.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

// handleSession accepts pty-req and shell, prints a prompt, and echoes
// everything back.
func (s *testServer) handleSession(newChan ssh.NewChannel) {
	channel, requests, err := newChan.Accept()
	if err != nil {
		return
	}
	defer channel.Close()

	shell := make(chan struct{}, 1)
	go func() {
		for req := range requests {
			switch req.Type {
			case "pty-req", "shell", "env", "window-change":
				if req.Type == "shell" {
					select {
					case shell <- struct{}{}:
					default:
					}
				}
				if req.WantReply {
					req.Reply(true, nil)
				}
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
	}()

	<-shell
	fmt.Fprint(channel, testBanner)
	io.Copy(channel, channel)
}

type directTCPIPPayload struct {
	DestAddr string
	DestPort uint32
	OrigAddr string
	OrigPort uint32
}

// handleDirectTCPIP implements jump host forwarding.
func (s *testServer) handleDirectTCPIP(newChan ssh.NewChannel) {
	var payload directTCPIPPayload
	if err := ssh.Unmarshal(newChan.ExtraData(), &payload); err != nil {
		newChan.Reject(ssh.ConnectionFailed, "bad direct-tcpip payload")
		return
	}
	dest := net.JoinHostPort(payload.DestAddr, fmt.Sprint(payload.DestPort))
	upstream, err := net.Dial("tcp", dest)
	if err != nil {
		newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	channel, requests, err := newChan.Accept()
	if err != nil {
		upstream.Close()
		return
	}
	go ssh.DiscardRequests(requests)

	go func() {
		defer channel.Close()
		defer upstream.Close()
		io.Copy(channel, upstream)
	}()
	go func() {
		defer channel.Close()
		defer upstream.Close()
		io.Copy(upstream, channel)
	}()
}
