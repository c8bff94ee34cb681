// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface for Netvault using the Cobra
// library. It defines the root command, shared service setup, and the
// password prompt helpers used by the vault and credential subcommands.

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rvail/netvault/buildvars"
	"github.com/rvail/netvault/internal/config"
	"github.com/rvail/netvault/internal/db"
	"github.com/rvail/netvault/internal/keychain"
	"github.com/rvail/netvault/internal/logging"
	"github.com/rvail/netvault/internal/security"
	"github.com/rvail/netvault/internal/vault"
)

var version = buildvars.VersionOrDefault("dev")
var gitCommit = buildvars.CommitOrDefault("dev")

var cfgFile string
var verbose bool

var appConfig config.Config
var appStore db.Store
var appVault *vault.Vault
var appKeychain keychain.Keychain = keychain.NewSystem()

// setupDefaultServices loads configuration and opens the storage backend.
// It runs as the persistent pre-run hook for every subcommand.
func setupDefaultServices(cmd *cobra.Command, args []string) error {
	var err error
	appConfig, err = config.Load(cmd, cfgFile)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if verbose {
		logging.SetDebug(true)
	} else {
		logging.SetLevel(appConfig.Log.Level)
	}

	if appStore == nil {
		appStore, err = db.NewStoreFromDSN(appConfig.Database.Type, appConfig.Database.DSN)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
	}
	appVault = vault.Open(appStore)
	return nil
}

// Execute runs the CLI entrypoint. The root main package should call this
// and handle process exit.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		return err
	}
	return nil
}

// NewRootCmd creates and configures a new root cobra command. Tests use this
// to build fresh, isolated command trees.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "netvault",
		Short: "Netvault is an encrypted credential vault and SSH client for network gear.",
		Long: `Netvault keeps device credentials in an encrypted vault, picks the right
credential for a host by pattern and tag matching, and opens SSH sessions
that survive flaky links: legacy algorithm fallback, jump chains, and
automatic reconnection.

Start with 'netvault vault init', add credentials with 'netvault cred add',
then 'netvault connect <host>'.`,
		PersistentPreRunE: setupDefaultServices,
		SilenceUsage:      true,
	}

	cmd.Version = resolveBuildVersion()
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose (debug) output")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().String("database.type", "", "Database type (sqlite, mysql, postgres)")
	cmd.PersistentFlags().String("database.dsn", "", "Database connection string (DSN)")

	cmd.AddCommand(
		newVaultCmd(),
		newCredCmd(),
		newConnectCmd(),
	)

	return cmd
}

// resolveBuildVersion computes the best-available version string for the
// running binary, preferring module build info over linker defaults.
func resolveBuildVersion() string {
	resolved := version
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolved = info.Main.Version
		}
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				gitCommit = s.Value
			}
		}
	}
	if gitCommit != "" && gitCommit != "dev" {
		resolved = resolved + " (" + gitCommit + ")"
	}
	return resolved
}

// readPassword prompts on stderr and reads a password without echo. When
// stdin is not a terminal (pipes, scripts) it falls back to reading a line.
func readPassword(prompt string) (security.Secret, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("could not read password: %w", err)
		}
		s := security.FromBytes(raw)
		for i := range raw {
			raw[i] = 0
		}
		return s, nil
	}
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("could not read password: %w", err)
	}
	return security.FromString(strings.TrimRight(line, "\r\n")), nil
}

// unlockVault brings the shared vault into the unlocked state, trying the OS
// keychain first when enabled and falling back to an interactive prompt.
func unlockVault() error {
	initialized, err := appVault.Initialized()
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("vault is not initialized; run 'netvault vault init' first")
	}

	if appConfig.Vault.KeychainUnlock {
		pw, kerr := appKeychain.Retrieve()
		if kerr == nil {
			ok, uerr := appVault.Unlock(pw)
			pw.Zero()
			if uerr != nil {
				return uerr
			}
			if ok {
				return nil
			}
			log.Warn("Keychain password no longer matches the vault; falling back to prompt")
		} else if !errors.Is(kerr, keychain.ErrNotFound) {
			log.Warnf("Keychain unavailable: %v", kerr)
		}
	}

	pw, err := readPassword("Master password: ")
	if err != nil {
		return err
	}
	defer pw.Zero()
	ok, err := appVault.Unlock(pw)
	if err != nil {
		return err
	}
	if !ok {
		return vault.ErrWrongMasterPassword
	}
	return nil
}

// promptForConfirmation displays a prompt and reads a line from stdin.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.TrimSpace(strings.ToLower(answer))
}
