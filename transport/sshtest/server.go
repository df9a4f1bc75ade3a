// Package sshtest provides an in-process SSH server harness for
// exercising a Session against a real, independent SSH implementation
// (golang.org/x/crypto/ssh) rather than a hand-rolled stub, in the
// spirit of the sshd/sshtest fixtures this package was adapted from.
// It only drives the transport layer — version exchange, kex, and the
// ssh-userauth SERVICE_REQUEST/SERVICE_ACCEPT handshake — since
// authentication and channel multiplexing are a higher-layer Service
// this module does not implement.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Server is a throwaway SSH server listening on localhost, configured
// to negotiate exactly the algorithm set algorithms.Default() offers.
type Server struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ed25519.PublicKey

	mu      sync.Mutex
	stopped bool
}

// ServerOption configures a Server.
type ServerOption func(*ssh.ServerConfig)

// WithNoClientAuth accepts any client without inspecting credentials,
// useful for tests that only exercise the transport handshake up
// through SERVICE_ACCEPT and never send a USERAUTH_REQUEST.
func WithNoClientAuth() ServerOption {
	return func(c *ssh.ServerConfig) { c.NoClientAuth = true }
}

// NewServer starts listening on 127.0.0.1:0 and returns a Server
// restricted to curve25519-sha256 / ssh-ed25519 /
// chacha20-poly1305@openssh.com, matching algorithms.Default().
func NewServer(opts ...ServerOption) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("sshtest: listen: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("sshtest: generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromSigner(priv)
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("sshtest: signer: %w", err)
	}

	config := &ssh.ServerConfig{
		Config: ssh.Config{
			KeyExchanges: []string{"curve25519-sha256"},
			Ciphers:      []string{"chacha20-poly1305@openssh.com"},
			MACs:         []string{"hmac-sha2-256"},
		},
	}
	for _, opt := range opts {
		opt(config)
	}
	config.AddHostKey(signer)

	return &Server{listener: listener, config: config, hostKey: pub}, nil
}

// Addr is the host:port the server is listening on.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Host is the listening address's host portion.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

// Port is the listening address's port portion.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr())
	var p int
	fmt.Sscanf(port, "%d", &p)
	return p
}

// HostKey is the server's ed25519 host public key, for wiring up a
// HostKeyVerifier in a test.
func (s *Server) HostKey() ed25519.PublicKey { return s.hostKey }

// Serve accepts connections until the server is closed, handing each
// one to x/crypto/ssh's server-side handshake in its own goroutine.
// That handshake blocks on authentication, which nothing in this
// module drives; Close unblocks it by tearing down the listener and
// any accepted connections are abandoned, not waited on.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go func() {
			_, chans, reqs, err := ssh.NewServerConn(conn, s.config)
			if err != nil {
				conn.Close()
				return
			}
			go ssh.DiscardRequests(reqs)
			go func() {
				for ch := range chans {
					ch.Reject(ssh.UnknownChannelType, "not implemented")
				}
			}()
		}()
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	return s.listener.Close()
}
