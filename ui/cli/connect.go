// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rvail/netvault/internal/resolver"
	"github.com/rvail/netvault/internal/session"
)

// escapeByte detaches the local terminal from the session (Ctrl+]), matching
// the telnet convention familiar to network operators.
const escapeByte = 0x1d

func newConnectCmd() *cobra.Command {
	var (
		tags      []string
		port      int
		insecure  bool
		pushSpec  string
		fetchSpec string
	)
	cmd := &cobra.Command{
		Use:   "connect <host>",
		Short: "Open an SSH session to a device",
		Long: `Resolves the best-matching credential for the host, builds the connection
profile (auth fallback chain, jump host, crypto preset), and attaches the
local terminal to the remote shell. The session reconnects automatically
when the link drops; press Ctrl+] to detach.

With --push or --fetch the command transfers a file over SFTP instead of
opening a shell.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := unlockVault(); err != nil {
				return err
			}
			r := resolver.New(appVault)
			profile, err := r.ResolveForDevice(args[0], tags, port)
			if err != nil {
				return err
			}
			defer profile.Zero()

			cfg, err := engineConfig(insecure)
			if err != nil {
				return err
			}
			eng, err := session.New(profile, cfg)
			if err != nil {
				return err
			}

			if pushSpec != "" || fetchSpec != "" {
				return runTransfer(cmd.Context(), eng, pushSpec, fetchSpec)
			}
			return runInteractive(cmd.Context(), eng)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag to include in credential matching (repeatable)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "SSH port (default 22)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip host key verification (lab use only)")
	cmd.Flags().StringVar(&pushSpec, "push", "", "Upload a file as local:remote instead of opening a shell")
	cmd.Flags().StringVar(&fetchSpec, "fetch", "", "Download a file as remote:local instead of opening a shell")
	return cmd
}

// engineConfig maps the connect section of the app config onto the session
// engine, including the host key verification mode.
func engineConfig(insecure bool) (session.Config, error) {
	cfg := session.DefaultConfig()
	cc := appConfig.Connect
	if cc.DialTimeout > 0 {
		cfg.DialTimeout = cc.DialTimeout
	}
	if cc.KeepaliveInterval > 0 {
		cfg.KeepaliveInterval = cc.KeepaliveInterval
	}
	if cc.ReconnectInitialDelay > 0 {
		cfg.ReconnectInitialDelay = cc.ReconnectInitialDelay
	}
	if cc.ReconnectMaxDelay > 0 {
		cfg.ReconnectMaxDelay = cc.ReconnectMaxDelay
	}
	if cc.ReconnectMaxAttempts > 0 {
		cfg.ReconnectMaxAttempts = cc.ReconnectMaxAttempts
	}

	mode := session.HostKeyMode(cc.HostKeyMode)
	if insecure {
		mode = session.HostKeyInsecure
	}
	path := cc.KnownHostsFile
	if path == "" {
		var err error
		path, err = session.DefaultKnownHostsPath()
		if err != nil {
			return cfg, err
		}
	}
	cb, err := session.NewHostKeyCallback(mode, path)
	if err != nil {
		return cfg, err
	}
	cfg.HostKey = cb

	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		cfg.InitialCols = w
		cfg.InitialRows = h
	}
	return cfg, nil
}

// printTrail writes the redacted authentication trail to stderr so the
// operator can see which methods and presets were tried.
func printTrail(eng *session.Engine) {
	for _, attempt := range eng.Trail() {
		fmt.Fprintf(os.Stderr, "  %s\n", attempt.String())
	}
}

// runTransfer connects, performs the requested SFTP transfers, and tears the
// session down. A background consumer keeps the event channel drained and
// acknowledges touch prompts; the operator satisfies them on the hardware
// token itself.
func runTransfer(ctx context.Context, eng *session.Engine, pushSpec, fetchSpec string) error {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for ev := range eng.Events() {
			switch e := ev.(type) {
			case session.TouchRequired:
				fmt.Fprintf(os.Stderr, "netvault: %s\n", e.Prompt)
				eng.ConfirmTouch()
			case session.Closed:
				return
			}
		}
	}()

	if err := eng.Connect(ctx); err != nil {
		printTrail(eng)
		<-closed
		return err
	}
	defer func() {
		eng.Disconnect()
		<-closed
	}()

	tr, err := eng.SFTP()
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()

	if pushSpec != "" {
		local, remote, err := splitTransferSpec(pushSpec)
		if err != nil {
			return err
		}
		if err := tr.Upload(local, remote); err != nil {
			return err
		}
		fmt.Printf("Uploaded %s to %s\n", local, remote)
	}
	if fetchSpec != "" {
		remote, local, err := splitTransferSpec(fetchSpec)
		if err != nil {
			return err
		}
		if err := tr.Download(remote, local); err != nil {
			return err
		}
		fmt.Printf("Downloaded %s to %s\n", remote, local)
	}
	return nil
}

func splitTransferSpec(spec string) (string, string, error) {
	idx := strings.LastIndex(spec, ":")
	if idx <= 0 || idx == len(spec)-1 {
		return "", "", fmt.Errorf("invalid transfer spec %q, expected source:destination", spec)
	}
	return spec[:idx], spec[idx+1:], nil
}

// runInteractive attaches the local terminal to the session until the remote
// side closes or the operator detaches with Ctrl+]. The event loop runs
// concurrently with the initial connect so touch prompts can be answered
// mid-handshake.
func runInteractive(ctx context.Context, eng *session.Engine) error {
	connErr := make(chan error, 1)
	go func() { connErr <- eng.Connect(ctx) }()

	stdinFd := int(os.Stdin.Fd())
	var restore func()
	defer func() {
		if restore != nil {
			restore()
		}
	}()

	for {
		select {
		case err := <-connErr:
			if err != nil {
				printTrail(eng)
				return err
			}
			connErr = nil // established; events drive the rest
			if term.IsTerminal(stdinFd) {
				oldState, rerr := term.MakeRaw(stdinFd)
				if rerr != nil {
					eng.Disconnect()
					return fmt.Errorf("could not enter raw mode: %w", rerr)
				}
				restore = func() { _ = term.Restore(stdinFd, oldState) }
			}
			go pumpStdin(eng)
			go watchResize(eng)

		case ev := <-eng.Events():
			switch e := ev.(type) {
			case session.DataReceived:
				_, _ = os.Stdout.Write(e.Data)
			case session.TitleChanged:
				if term.IsTerminal(int(os.Stdout.Fd())) {
					fmt.Printf("\x1b]0;%s\a", e.Title)
				}
			case session.StateChanged:
				if e.Status.State == session.StateReconnecting {
					fmt.Fprintf(os.Stderr, "\r\nnetvault: link lost, %s\r\n", e.Status)
				}
			case session.TouchRequired:
				fmt.Fprintf(os.Stderr, "\r\nnetvault: %s\r\n", e.Prompt)
				eng.ConfirmTouch()
			case session.Closed:
				if restore != nil {
					restore()
					restore = nil
				}
				fmt.Fprintln(os.Stderr)
				if e.Err != nil {
					return e.Err
				}
				fmt.Fprintln(os.Stderr, "Connection closed.")
				return nil
			}
		}
	}
}

// pumpStdin forwards local keystrokes to the session. The escape byte
// triggers a clean disconnect instead of being sent to the remote side.
func pumpStdin(eng *session.Engine) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if idx := bytes.IndexByte(buf[:n], escapeByte); idx >= 0 {
				if idx > 0 {
					_ = eng.Input(buf[:idx])
				}
				eng.Disconnect()
				return
			}
			if werr := eng.Input(buf[:n]); werr != nil {
				log.Debugf("input dropped: %v", werr)
			}
		}
		if err != nil {
			eng.Disconnect()
			return
		}
	}
}

// watchResize polls the local terminal size and propagates changes. Polling
// keeps this portable; SIGWINCH does not exist on Windows.
func watchResize(eng *session.Engine) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return
	}
	lastW, lastH, _ := term.GetSize(fd)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		w, h, err := term.GetSize(fd)
		if err != nil {
			return
		}
		if w != lastW || h != lastH {
			lastW, lastH = w, h
			if rerr := eng.Resize(w, h); rerr != nil {
				return
			}
		}
	}
}
