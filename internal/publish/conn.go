// Copyright (c) 2025 ToeiRei
// Shipyard - release artifact pipeline
// This source code is licensed under the MIT license found in the LICENSE file.

package publish

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Default timeouts for the upload transport.
const (
	DefaultConnectionTimeout = 10 * time.Second
	DefaultSFTPTimeout       = 60 * time.Second
)

// ConnectionConfig carries the tunables for connecting to a hosting server.
type ConnectionConfig struct {
	ConnectionTimeout time.Duration
	SFTPTimeout       time.Duration
}

// DefaultConnectionConfig returns the standard timeouts.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ConnectionTimeout: DefaultConnectionTimeout,
		SFTPTimeout:       DefaultSFTPTimeout,
	}
}

// IsConnectionTimeoutError reports whether err looks like a network timeout.
func IsConnectionTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}

// IsConnectionRefusedError reports whether err indicates the host is unreachable.
func IsConnectionRefusedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host")
}

// IsAuthenticationError reports whether err indicates failed authentication.
func IsAuthenticationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied")
}

// IsHostKeyError reports whether err relates to host key verification.
func IsHostKeyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "host key")
}

// ClassifyConnectionError wraps a raw transport error with a message that
// tells the operator what actually went wrong with the host.
func ClassifyConnectionError(host string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsConnectionTimeoutError(err):
		return fmt.Errorf("connection to %s timed out: %w", host, err)
	case IsConnectionRefusedError(err):
		return fmt.Errorf("connection to %s refused: %w", host, err)
	case IsAuthenticationError(err):
		return fmt.Errorf("authentication failed for %s: %w", host, err)
	case IsHostKeyError(err):
		return fmt.Errorf("host key verification failed for %s: %w", host, err)
	default:
		return fmt.Errorf("failed to connect to %s: %w", host, err)
	}
}

// ParseHostPort splits a host spec into host and port. It tolerates a
// leading "user@", bracketed IPv6 literals and bare IPv6 addresses. An
// absent port comes back empty.
func ParseHostPort(s string) (host, port string, err error) {
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" {
		return "", "", fmt.Errorf("empty host")
	}
	if strings.HasPrefix(s, "[") {
		if h, p, splitErr := net.SplitHostPort(s); splitErr == nil {
			return h, p, nil
		}
		return strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"), "", nil
	}
	// More than one colon without brackets means a bare IPv6 literal.
	if strings.Count(s, ":") > 1 {
		return s, "", nil
	}
	if h, p, splitErr := net.SplitHostPort(s); splitErr == nil {
		return h, p, nil
	}
	return s, "", nil
}

// JoinHostPort reassembles a host and port, falling back to defaultPort
// when port is empty. IPv6 literals come back bracketed.
func JoinHostPort(host, port, defaultPort string) string {
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(host, port)
}

// CanonicalizeHostPort normalizes a host spec to "host:22" form.
func CanonicalizeHostPort(s string) string {
	host, port, err := ParseHostPort(s)
	if err != nil {
		return s
	}
	return JoinHostPort(host, port, "22")
}
