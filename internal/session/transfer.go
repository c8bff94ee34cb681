// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
)

// Transfer is an SFTP channel multiplexed over a connected session's
// transport. Used for pushing config snippets and fetching device state
// without opening a second SSH connection through the jump chain.
type Transfer struct {
	sftp *sftp.Client
}

// SFTP opens a file transfer channel on the current connection.
func (e *Engine) SFTP() (*Transfer, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("session not connected")
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	return &Transfer{sftp: sftpClient}, nil
}

// Upload is a one-shot convenience: open a channel, push a file, close.
func (e *Engine) Upload(localPath, remotePath string) error {
	t, err := e.SFTP()
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()
	return t.Upload(localPath, remotePath)
}

// Download is a one-shot convenience: open a channel, fetch a file, close.
func (e *Engine) Download(remotePath, localPath string) error {
	t, err := e.SFTP()
	if err != nil {
		return err
	}
	defer func() { _ = t.Close() }()
	return t.Download(remotePath, localPath)
}

// Upload copies a local file to the remote path. The file lands under a
// temporary name and is renamed into place so a dropped connection never
// leaves a truncated target.
func (t *Transfer) Upload(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	dir := path.Dir(remotePath)
	tmpPath := path.Join(dir, fmt.Sprintf(".%s.netvault.%d", path.Base(remotePath), time.Now().UnixNano()))
	dst, err := t.sftp.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = t.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = t.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to finalize remote file: %w", err)
	}
	if err := t.sftp.Rename(tmpPath, remotePath); err != nil {
		_ = t.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to rename remote file into place: %w", err)
	}
	return nil
}

// Download copies a remote file to the local path.
func (t *Transfer) Download(remotePath, localPath string) error {
	src, err := t.sftp.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to read remote file %s: %w", remotePath, err)
	}
	return dst.Close()
}

// Close shuts down the SFTP channel. The underlying SSH transport stays up.
func (t *Transfer) Close() error {
	return t.sftp.Close()
}
