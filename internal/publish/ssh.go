// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

// package publish moves packaged release artifacts onto the file-hosting
// server over SFTP. Host keys are pinned in the catalog; an upload only
// counts as done after the remote copy has been read back and its digest
// matched.
package publish // import "github.com/toeirei/shipyard/internal/publish"

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/toeirei/shipyard/internal/db"
	"golang.org/x/crypto/ssh"
)

// Uploader handles the connection and artifact transfer to a hosting server.
type Uploader struct {
	client *ssh.Client
	sftp   *sftp.Client
	host   string
}

// hostKeyCallback checks the presented key against the pinned key in the
// catalog. Unknown hosts are refused until 'shipyard trust-host' pins them.
func hostKeyCallback(hostname string, remote net.Addr, key ssh.PublicKey) error {
	// The hostname passed to the callback can include the port; strip it so
	// the catalog lookup matches what trust-host stored.
	host, _, err := net.SplitHostPort(hostname)
	if err != nil {
		host = hostname
	}

	presentedKey := string(ssh.MarshalAuthorizedKey(key))

	knownKey, err := db.GetKnownHostKey(host)
	if err != nil {
		return fmt.Errorf("failed to query known hosts: %w", err)
	}

	if knownKey == "" {
		return fmt.Errorf("unknown host key for %s. run 'shipyard trust-host' to add it", host)
	}

	if knownKey != presentedKey {
		return fmt.Errorf("!!! HOST KEY MISMATCH FOR %s !!!\nRemote key presented: %s\nThis could be a man-in-the-middle attack", host, presentedKey)
	}

	return nil
}

// ParseSigner parses a PEM private key, decrypting it with the passphrase
// when one is needed.
func ParseSigner(privateKey []byte, passphrase string) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err == nil {
		return signer, nil
	}
	if NeedsPassphrase(err) && passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, []byte(passphrase))
	}
	return nil, err
}

// NeedsPassphrase reports whether a key parse failure was caused by a
// missing passphrase.
func NeedsPassphrase(err error) bool {
	var missing *ssh.PassphraseMissingError
	return errors.As(err, &missing)
}

// NewUploader opens an SSH connection to the hosting server and starts an
// SFTP session on it. Key auth is attempted first when a private key is
// given; a running SSH agent is the fallback.
func NewUploader(host, user string, privateKey []byte, passphrase string) (*Uploader, error) {
	cfg := DefaultConnectionConfig()
	addr := CanonicalizeHostPort(host)

	var finalErr error

	if len(privateKey) > 0 {
		signer, err := ParseSigner(privateKey, passphrase)
		if err != nil {
			return nil, fmt.Errorf("unable to parse private key: %w", err)
		}

		config := &ssh.ClientConfig{
			User:            user,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.ConnectionTimeout,
		}

		client, err := ssh.Dial("tcp", addr, config)
		if err == nil {
			sftpClient, sftpErr := sftp.NewClient(client)
			if sftpErr != nil {
				client.Close()
				return nil, fmt.Errorf("failed to create sftp client: %w", sftpErr)
			}
			return &Uploader{client: client, sftp: sftpClient, host: host}, nil
		}

		// Anything other than an auth failure fails fast.
		if !IsAuthenticationError(err) {
			return nil, ClassifyConnectionError(host, err)
		}
		finalErr = err
	}

	// Fall back to the SSH agent.
	agentClient := getSSHAgent()
	if agentClient == nil {
		if finalErr != nil {
			return nil, fmt.Errorf("key authentication failed, and no SSH agent available for fallback: %w", finalErr)
		}
		return nil, fmt.Errorf("no authentication method available (no key configured and no ssh agent found)")
	}

	config := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentClient.Signers)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.ConnectionTimeout,
	}

	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, ClassifyConnectionError(host, err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}

	return &Uploader{client: client, sftp: sftpClient, host: host}, nil
}

// Host returns the hosting server this uploader is connected to.
func (u *Uploader) Host() string {
	return u.host
}

// Upload copies a local artifact to remotePath. The file lands under a
// temporary name and is renamed into place so a half-written artifact is
// never visible under its published name.
func (u *Uploader) Upload(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open local artifact: %w", err)
	}
	defer src.Close()

	if dir := path.Dir(remotePath); dir != "." && dir != "/" {
		if err := u.sftp.MkdirAll(dir); err != nil {
			return fmt.Errorf("failed to create remote directory %s: %w", dir, err)
		}
	}

	tmpPath := fmt.Sprintf("%s.shipyard.%d", remotePath, time.Now().UnixNano())
	dst, err := u.sftp.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary file on remote: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		// Best effort cleanup of the failed upload.
		_ = u.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to write to temporary file on remote: %w", err)
	}
	dst.Close()

	if err := u.sftp.Chmod(tmpPath, 0644); err != nil {
		_ = u.sftp.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temporary file: %w", err)
	}

	if err := u.sftp.Rename(tmpPath, remotePath); err != nil {
		// PosixRename overwrites an existing artifact; plain Rename on some
		// servers refuses to.
		if perr := u.sftp.PosixRename(tmpPath, remotePath); perr != nil {
			_ = u.sftp.Remove(tmpPath)
			return fmt.Errorf("failed to rename artifact into place: %w", err)
		}
	}

	return nil
}

// RemoteDigest reads back a remote file and returns its hex SHA-256.
func (u *Uploader) RemoteDigest(remotePath string) (string, error) {
	f, err := u.sftp.Open(remotePath)
	if err != nil {
		return "", fmt.Errorf("failed to open remote file %s: %w", remotePath, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to read remote file %s: %w", remotePath, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyUpload reads the remote copy back and compares its digest against
// the catalog's record for the artifact.
func (u *Uploader) VerifyUpload(remotePath, wantDigest string) error {
	got, err := u.RemoteDigest(remotePath)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, wantDigest) {
		return fmt.Errorf("remote digest mismatch for %s: got %s, want %s", remotePath, got, wantDigest)
	}
	return nil
}

// Close closes the underlying SSH and SFTP clients.
func (u *Uploader) Close() {
	if u.sftp != nil {
		u.sftp.Close()
	}
	if u.client != nil {
		u.client.Close()
	}
}

// FetchHostKey connects to a host just to retrieve its public key, for
// 'shipyard trust-host' to show and pin.
func FetchHostKey(host string) (ssh.PublicKey, error) {
	keyChan := make(chan ssh.PublicKey, 1)

	config := &ssh.ClientConfig{
		// No authentication needed, just start the handshake.
		User: "shipyard-probe",
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			keyChan <- key
			// Returning an error stops the handshake once we have the key.
			return fmt.Errorf("shipyard: successfully retrieved host key")
		},
		Timeout: 5 * time.Second,
	}

	addr := CanonicalizeHostPort(host)

	_, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		if strings.Contains(err.Error(), "shipyard: successfully retrieved host key") {
			return <-keyChan, nil
		}
		return nil, ClassifyConnectionError(host, err)
	}

	return nil, fmt.Errorf("ssh.Dial succeeded unexpectedly, could not retrieve key")
}

// Fingerprint renders the SHA256 fingerprint of a public key for operator
// confirmation.
func Fingerprint(key ssh.PublicKey) string {
	return ssh.FingerprintSHA256(key)
}

// AuthorizedKey renders a public key in authorized_keys format, the form
// host keys are pinned in.
func AuthorizedKey(key ssh.PublicKey) string {
	return string(ssh.MarshalAuthorizedKey(key))
}
