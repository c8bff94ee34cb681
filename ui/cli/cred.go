// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/rvail/netvault/internal/model"
	"github.com/rvail/netvault/internal/security"
)

// newCredCmd builds the 'cred' command group for managing stored
// credentials. Every subcommand unlocks the vault first.
func newCredCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cred",
		Short: "Manage stored credentials",
	}
	cmd.AddCommand(
		credAddCmd(),
		credListCmd(),
		credShowCmd(),
		credUpdateCmd(),
		credRemoveCmd(),
		credSetDefaultCmd(),
	)
	return cmd
}

// parseJumpRef parses "user@host" or "user@host:port" into a jump host
// reference with the given auth mode.
func parseJumpRef(spec, auth string) (*model.JumpHostRef, error) {
	at := strings.LastIndex(spec, "@")
	if at <= 0 || at == len(spec)-1 {
		return nil, fmt.Errorf("invalid jump host %q, expected user@host[:port]", spec)
	}
	ref := &model.JumpHostRef{Username: spec[:at], Auth: auth}
	hostPort := spec[at+1:]
	if colon := strings.LastIndex(hostPort, ":"); colon > 0 {
		port, err := strconv.Atoi(hostPort[colon+1:])
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid jump host port in %q", spec)
		}
		ref.Hostname = hostPort[:colon]
		ref.Port = port
	} else {
		ref.Hostname = hostPort
	}
	switch ref.Auth {
	case "password", "key", "agent":
	default:
		return nil, fmt.Errorf("invalid jump auth %q, expected password, key or agent", auth)
	}
	return ref, nil
}

func credAddCmd() *cobra.Command {
	var (
		username   string
		hosts      []string
		tags       []string
		keyFile    string
		jumpSpec   string
		jumpAuth   string
		setDefault bool
		withPass   bool
		passphrase bool
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a credential to the vault",
		Long: `Stores a credential under a unique name. Host patterns (--host, glob
syntax) and tags (--tag) drive automatic selection at connect time; a
credential without either is only reachable as the default.

Secrets are prompted, never taken as flags, so they stay out of shell
history and process listings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := unlockVault(); err != nil {
				return err
			}
			cred := &model.Credential{
				Name:       args[0],
				Username:   username,
				MatchHosts: hosts,
				MatchTags:  tags,
			}

			if withPass {
				pw, err := readPassword("Device password: ")
				if err != nil {
					return err
				}
				cred.Password = pw
			}
			if keyFile != "" {
				data, err := os.ReadFile(keyFile)
				if err != nil {
					return fmt.Errorf("could not read key file: %w", err)
				}
				cred.PrivateKey = security.FromBytes(data)
				for i := range data {
					data[i] = 0
				}
				if passphrase {
					pp, err := readPassword("Key passphrase: ")
					if err != nil {
						return err
					}
					cred.KeyPassphrase = pp
				}
			}
			if jumpSpec != "" {
				ref, err := parseJumpRef(jumpSpec, jumpAuth)
				if err != nil {
					return err
				}
				cred.JumpHost = ref
			}
			defer cred.Zero()

			if _, err := appVault.AddCredential(cred); err != nil {
				return err
			}
			if setDefault {
				if err := appVault.SetDefault(cred.Name); err != nil {
					return err
				}
			}
			fmt.Printf("Credential %q added.\n", cred.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Login username on the device")
	cmd.Flags().StringSliceVar(&hosts, "host", nil, "Host pattern this credential matches (repeatable, glob syntax)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Tag this credential matches (repeatable)")
	cmd.Flags().BoolVar(&withPass, "password", false, "Prompt for a device password to store")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "Private key file to import into the vault")
	cmd.Flags().BoolVar(&passphrase, "passphrase", false, "Prompt for the key's passphrase")
	cmd.Flags().StringVar(&jumpSpec, "jump", "", "Jump host as user@host[:port]")
	cmd.Flags().StringVar(&jumpAuth, "jump-auth", "agent", "Jump host auth: password, key or agent")
	cmd.Flags().BoolVar(&setDefault, "default", false, "Mark this credential as the default")
	return cmd
}

func credListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credentials",
		Long:  `Lists credential names, usernames, and which secret kinds are present. Secret values are never decrypted for listing.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := unlockVault(); err != nil {
				return err
			}
			infos, err := appVault.ListCredentials()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No credentials stored.")
				return nil
			}
			for _, info := range infos {
				fmt.Println(info.String())
				if len(info.MatchHosts) > 0 {
					fmt.Printf("  hosts: %s\n", strings.Join(info.MatchHosts, ", "))
				}
				if len(info.MatchTags) > 0 {
					fmt.Printf("  tags:  %s\n", strings.Join(info.MatchTags, ", "))
				}
				if info.JumpHost != "" {
					fmt.Printf("  jump:  %s\n", info.JumpHost)
				}
			}
			return nil
		},
	}
}

func credShowCmd() *cobra.Command {
	var copyPassword bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a credential's metadata",
		Long: `Shows the credential's metadata and which secrets are present. The
password itself is never printed; use --copy to place it on the clipboard.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := unlockVault(); err != nil {
				return err
			}
			cred, err := appVault.GetCredential(args[0])
			if err != nil {
				return err
			}
			defer cred.Zero()

			fmt.Printf("Name:     %s\n", cred.Name)
			fmt.Printf("Username: %s\n", cred.Username)
			fmt.Printf("Password: %s\n", presence(cred.HasPassword()))
			fmt.Printf("Key:      %s\n", presence(cred.HasKey()))
			if len(cred.MatchHosts) > 0 {
				fmt.Printf("Hosts:    %s\n", strings.Join(cred.MatchHosts, ", "))
			}
			if len(cred.MatchTags) > 0 {
				fmt.Printf("Tags:     %s\n", strings.Join(cred.MatchTags, ", "))
			}
			if cred.JumpHost != nil {
				fmt.Printf("Jump:     %s@%s (auth: %s)\n", cred.JumpHost.Username, cred.JumpHost.Hostname, cred.JumpHost.Auth)
			}
			if cred.IsDefault {
				fmt.Println("Default:  yes")
			}

			if copyPassword {
				if !cred.HasPassword() {
					return errors.New("credential has no password to copy")
				}
				if err := clipboard.WriteAll(string(cred.Password.Bytes())); err != nil {
					return fmt.Errorf("could not copy to clipboard: %w", err)
				}
				fmt.Println("Password copied to clipboard.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&copyPassword, "copy", false, "Copy the password to the clipboard")
	return cmd
}

func presence(ok bool) string {
	if ok {
		return "stored"
	}
	return "(none)"
}

func credUpdateCmd() *cobra.Command {
	var (
		username   string
		hosts      []string
		tags       []string
		keyFile    string
		jumpSpec   string
		jumpAuth   string
		withPass   bool
		clearPass  bool
		clearKey   bool
		clearJump  bool
		passphrase bool
	)
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Update fields of a stored credential",
		Long: `Applies a partial update: only the fields named by flags change, everything
else keeps its stored value. Clearing flags remove a secret or the jump host.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := unlockVault(); err != nil {
				return err
			}
			var patch model.CredentialPatch

			if cmd.Flags().Changed("username") {
				patch.Username = &username
			}
			if cmd.Flags().Changed("host") {
				patch.MatchHosts = &hosts
			}
			if cmd.Flags().Changed("tag") {
				patch.MatchTags = &tags
			}
			if withPass {
				pw, err := readPassword("New device password: ")
				if err != nil {
					return err
				}
				defer pw.Zero()
				patch.Password = &pw
			} else if clearPass {
				empty := security.Secret{}
				patch.Password = &empty
			}
			if keyFile != "" {
				data, err := os.ReadFile(keyFile)
				if err != nil {
					return fmt.Errorf("could not read key file: %w", err)
				}
				key := security.FromBytes(data)
				for i := range data {
					data[i] = 0
				}
				defer key.Zero()
				patch.PrivateKey = &key
				if passphrase {
					pp, err := readPassword("Key passphrase: ")
					if err != nil {
						return err
					}
					defer pp.Zero()
					patch.KeyPassphrase = &pp
				}
			} else if clearKey {
				empty := security.Secret{}
				patch.PrivateKey = &empty
				patch.KeyPassphrase = &empty
			}
			if jumpSpec != "" {
				ref, err := parseJumpRef(jumpSpec, jumpAuth)
				if err != nil {
					return err
				}
				patch.JumpHost = ref
			} else if clearJump {
				patch.ClearJumpHost = true
			}

			if patch.IsEmpty() {
				fmt.Println("Nothing to update.")
				return nil
			}
			if err := appVault.UpdateCredential(args[0], patch); err != nil {
				return err
			}
			fmt.Printf("Credential %q updated.\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "New login username")
	cmd.Flags().StringSliceVar(&hosts, "host", nil, "Replace host patterns (repeatable)")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Replace tags (repeatable)")
	cmd.Flags().BoolVar(&withPass, "password", false, "Prompt for a new device password")
	cmd.Flags().BoolVar(&clearPass, "clear-password", false, "Remove the stored password")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "Replace the private key from a file")
	cmd.Flags().BoolVar(&passphrase, "passphrase", false, "Prompt for the new key's passphrase")
	cmd.Flags().BoolVar(&clearKey, "clear-key", false, "Remove the stored private key")
	cmd.Flags().StringVar(&jumpSpec, "jump", "", "Replace the jump host as user@host[:port]")
	cmd.Flags().StringVar(&jumpAuth, "jump-auth", "agent", "Jump host auth: password, key or agent")
	cmd.Flags().BoolVar(&clearJump, "clear-jump", false, "Remove the jump host")
	return cmd
}

func credRemoveCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rm <name>",
		Short: "Remove a credential from the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := unlockVault(); err != nil {
				return err
			}
			if !force {
				ans := promptForConfirmation(fmt.Sprintf("Remove credential %q? (yes/no): ", args[0]))
				if ans != "yes" && ans != "y" {
					fmt.Println("Cancelled.")
					return nil
				}
			}
			removed, err := appVault.RemoveCredential(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("credential %q not found", args[0])
			}
			fmt.Printf("Credential %q removed.\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")
	return cmd
}

func credSetDefaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-default <name>",
		Short: "Mark a credential as the fallback for unmatched hosts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := unlockVault(); err != nil {
				return err
			}
			if err := appVault.SetDefault(args[0]); err != nil {
				return err
			}
			fmt.Printf("Credential %q is now the default.\n", args[0])
			return nil
		},
	}
}
