package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client is an SSH connection to a single host.
type Client struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	isConnected bool
	connectedAt time.Time
}

// NewClient creates a client for the configured host. No connection is
// made until Connect.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection, bounded by ctx.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Host: c.config.Host, Err: err}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &TransportError{Op: "connect", Host: c.config.Host, Err: ctx.Err(), Temporary: true}
	case err := <-errChan:
		return &TransportError{Op: "connect", Host: c.config.Host, Err: err, Temporary: true}
	case client := <-connChan:
		c.client = client
		c.isConnected = true
		c.connectedAt = time.Now()
		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// Probe verifies the connection is alive and the remote side responds,
// bounded by ctx.
func (c *Client) Probe(ctx context.Context) error {
	client, err := c.getClient()
	if err != nil {
		return err
	}

	session, err := client.NewSession()
	if err != nil {
		return &TransportError{Op: "probe", Host: c.config.Host, Err: err, Temporary: true}
	}
	defer session.Close()

	done := make(chan error, 1)
	go func() {
		done <- session.Run("true")
	}()

	select {
	case <-ctx.Done():
		return &TransportError{Op: "probe", Host: c.config.Host, Err: ctx.Err(), Temporary: true}
	case err := <-done:
		if err != nil {
			return &TransportError{Op: "probe", Host: c.config.Host, Err: err, Temporary: true}
		}
		return nil
	}
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	err := c.client.Close()
	c.client = nil
	c.isConnected = false

	if err != nil {
		return &TransportError{Op: "disconnect", Host: c.config.Host, Err: err}
	}
	return nil
}

// IsConnected reports whether the client has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// getClient returns the underlying SSH client.
func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return nil, &TransportError{Op: "get-client", Host: c.config.Host, Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}
