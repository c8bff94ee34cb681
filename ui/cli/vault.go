// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/rvail/netvault/internal/keychain"
	"github.com/rvail/netvault/internal/vault"
)

// newVaultCmd builds the 'vault' command group: lifecycle of the encrypted
// store itself rather than individual credentials.
func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage the encrypted vault",
	}
	cmd.AddCommand(
		vaultInitCmd(),
		vaultUnlockCmd(),
		vaultLockCmd(),
		vaultChangePasswordCmd(),
		vaultBackupCmd(),
		vaultRestoreCmd(),
		vaultKeychainCmd(),
	)
	return cmd
}

func vaultInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a new vault with a master password",
		Long: `Creates the vault metadata (key derivation salt and verification token).
The vault stays locked after initialization; unlocking happens per command
or via the OS keychain (see 'netvault vault unlock').`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := readPassword("New master password: ")
			if err != nil {
				return err
			}
			defer pw.Zero()
			if pw.IsZero() {
				return errors.New("master password must not be empty")
			}
			confirm, err := readPassword("Repeat master password: ")
			if err != nil {
				return err
			}
			defer confirm.Zero()
			if string(pw.Bytes()) != string(confirm.Bytes()) {
				return errors.New("passwords do not match")
			}
			if err := appVault.Init(pw); err != nil {
				return err
			}
			fmt.Println("Vault initialized.")
			return nil
		},
	}
}

func vaultUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Verify the master password and store it in the OS keychain",
		Long: `Prompts for the master password, verifies it against the vault, and saves
it in the operating system's credential manager. Subsequent commands unlock
without a prompt when 'vault.keychain_unlock' is enabled in the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if err := appKeychain.Store(pw); err != nil {
				return fmt.Errorf("could not store password in keychain: %w", err)
			}
			fmt.Println("Master password stored in the OS keychain.")
			if !appConfig.Vault.KeychainUnlock {
				fmt.Println("Note: set 'vault.keychain_unlock: true' in the config to use it.")
			}
			return nil
		},
	}
}

func vaultLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Remove the master password from the OS keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appVault.Lock()
			if err := appKeychain.Clear(); err != nil {
				return fmt.Errorf("could not clear keychain: %w", err)
			}
			fmt.Println("Vault locked; keychain entry removed.")
			return nil
		},
	}
}

func vaultChangePasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "change-password",
		Short: "Rotate the vault master password",
		Long: `Re-encrypts every stored secret under a key derived from the new master
password. The rotation is atomic: if it fails partway, the vault remains
fully readable under the old password.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			oldPw, err := readPassword("Current master password: ")
			if err != nil {
				return err
			}
			defer oldPw.Zero()
			newPw, err := readPassword("New master password: ")
			if err != nil {
				return err
			}
			defer newPw.Zero()
			if newPw.IsZero() {
				return errors.New("master password must not be empty")
			}
			confirm, err := readPassword("Repeat new master password: ")
			if err != nil {
				return err
			}
			defer confirm.Zero()
			if string(newPw.Bytes()) != string(confirm.Bytes()) {
				return errors.New("passwords do not match")
			}

			if err := appVault.ChangeMasterPassword(oldPw, newPw); err != nil {
				return err
			}

			// Keep a stored keychain password in sync with the rotation.
			if _, kerr := appKeychain.Retrieve(); kerr == nil {
				if serr := appKeychain.Store(newPw); serr != nil {
					log.Warnf("Could not update keychain entry: %v", serr)
				}
			}
			fmt.Println("Master password changed.")
			return nil
		},
	}
}

func vaultBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup [output-file]",
		Short: "Write a compressed vault backup",
		Long: `Dumps the vault (metadata plus credential records) into a Zstandard-
compressed JSON file. Secret fields stay encrypted in the backup; restoring
requires the master password that was active at export time.

If no output file is given, 'netvault-backup-YYYY-MM-DD.json.zst' is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var outputFile string
			if len(args) == 0 {
				outputFile = fmt.Sprintf("netvault-backup-%s.json.zst", time.Now().Format("2006-01-02"))
			} else {
				outputFile = args[0]
				if !strings.HasSuffix(outputFile, ".zst") {
					outputFile += ".zst"
				}
			}
			if err := appVault.WriteBackupFile(outputFile); err != nil {
				return err
			}
			fmt.Printf("Backup written to %s\n", outputFile)
			return nil
		},
	}
}

func vaultRestoreCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restore <backup-file.zst>",
		Short: "Restore the vault from a compressed backup",
		Long: `Replaces the entire vault contents with the records from a backup file.
The restored vault unlocks with the master password that was active when
the backup was taken.

WARNING: this wipes the current vault contents.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				ans := promptForConfirmation("This replaces all vault contents. Continue? (yes/no): ")
				if ans != "yes" && ans != "y" {
					fmt.Println("Cancelled.")
					return nil
				}
			}
			if err := appVault.ReadBackupFile(args[0]); err != nil {
				return err
			}
			fmt.Println("Vault restored.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Skip the confirmation prompt")
	return cmd
}

func vaultKeychainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keychain",
		Short: "Show whether a master password is stored in the OS keychain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := appKeychain.Retrieve()
			if errors.Is(err, keychain.ErrNotFound) {
				fmt.Println("No master password stored in the OS keychain.")
				return nil
			}
			if err != nil {
				return err
			}
			pw.Zero()
			status := "disabled"
			if appConfig.Vault.KeychainUnlock {
				status = "enabled"
			}
			fmt.Printf("Master password is stored in the OS keychain (keychain unlock: %s).\n", status)
			return nil
		},
	}
}
