// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"

	"github.com/rvail/netvault/internal/model"
)

// buildAuthMethod turns one profile auth entry into the ssh authenticator
// for a single handshake attempt. Errors here are configuration problems
// (unparseable key, missing agent), not remote authentication failures.
func buildAuthMethod(cfg model.AuthConfig) (ssh.AuthMethod, error) {
	switch cfg.Method {
	case model.AuthPassword:
		return ssh.Password(string(cfg.Password.Bytes())), nil

	case model.AuthKeyStored:
		signer, err := parseSigner(cfg.PrivateKey.Bytes(), cfg.KeyPassphrase.Bytes())
		if err != nil {
			return nil, fmt.Errorf("stored key: %w", err)
		}
		return ssh.PublicKeys(signer), nil

	case model.AuthKeyFile:
		keyBytes, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("key file: %w", err)
		}
		signer, err := parseSigner(keyBytes, cfg.KeyPassphrase.Bytes())
		if err != nil {
			return nil, fmt.Errorf("key file %s: %w", cfg.KeyPath, err)
		}
		return ssh.PublicKeys(signer), nil

	case model.AuthCertificate:
		keyBytes, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("certificate key file: %w", err)
		}
		signer, err := parseSigner(keyBytes, cfg.KeyPassphrase.Bytes())
		if err != nil {
			return nil, fmt.Errorf("certificate key %s: %w", cfg.KeyPath, err)
		}
		certBytes, err := os.ReadFile(cfg.CertificatePath)
		if err != nil {
			return nil, fmt.Errorf("certificate file: %w", err)
		}
		pub, _, _, _, err := ssh.ParseAuthorizedKey(certBytes)
		if err != nil {
			return nil, fmt.Errorf("certificate %s: %w", cfg.CertificatePath, err)
		}
		cert, ok := pub.(*ssh.Certificate)
		if !ok {
			return nil, fmt.Errorf("certificate %s: not an ssh certificate", cfg.CertificatePath)
		}
		certSigner, err := ssh.NewCertSigner(cert, signer)
		if err != nil {
			return nil, fmt.Errorf("certificate %s: %w", cfg.CertificatePath, err)
		}
		return ssh.PublicKeys(certSigner), nil

	case model.AuthAgent:
		agentClient := getSSHAgent()
		if agentClient == nil {
			return nil, fmt.Errorf("no ssh agent available")
		}
		return ssh.PublicKeysCallback(agentClient.Signers), nil

	case model.AuthInteractive:
		// Network gear frequently runs keyboard-interactive as a thin wrapper
		// around password auth; answer every prompt with the password.
		password := string(cfg.Password.Bytes())
		return ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = password
			}
			return answers, nil
		}), nil
	}
	return nil, fmt.Errorf("unknown auth method %q", cfg.Method)
}

func parseSigner(keyPEM, passphrase []byte) (ssh.Signer, error) {
	if len(passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(keyPEM, passphrase)
	}
	return ssh.ParsePrivateKey(keyPEM)
}
