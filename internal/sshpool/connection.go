package sshpool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/net/http2"
)

// Connection is a single pooled SSH session to a gateway VM, the Gateway
// Connection described in spec.md §4.B. It exposes both a raw command
// executor and an *http.Client whose transport tunnels HTTP/2 cleartext
// through the SSH connection's forwarded TCP streams, adapted from
// internal/gateway/client.go's h2c DialTLS hook.
type Connection struct {
	host   string
	client *ssh.Client

	mu         sync.Mutex
	lastUsedAt time.Time

	httpClient *http.Client
}

func newConnection(host string, client *ssh.Client) *Connection {
	c := &Connection{host: host, client: client, lastUsedAt: time.Now()}
	c.httpClient = &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLS: func(network, addr string, _ *tls.Config) (net.Conn, error) {
				return c.client.Dial(network, addr)
			},
		},
	}
	return c
}

// IsHealthy opens and immediately closes a throwaway session, mirroring
// PooledSSHConnection.IsHealthy.
func (c *Connection) IsHealthy() bool {
	sess, err := c.client.NewSession()
	if err != nil {
		return false
	}
	sess.Close()
	return true
}

// Exec runs command on the gateway over a fresh session and returns combined
// output, used by the reconciler's update-script phase.
func (c *Connection) Exec(ctx context.Context, command string) (string, error) {
	sess, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session to %s: %w", c.host, err)
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		sess.Close()
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return string(r.out), fmt.Errorf("command failed on %s: %w", c.host, r.err)
		}
		return string(r.out), nil
	}
}

// HTTPClient returns an *http.Client whose requests are tunneled over this
// SSH connection, used by the Gateway Client Protocol.
func (c *Connection) HTTPClient() *http.Client {
	c.touch()
	return c.httpClient
}

func (c *Connection) Host() string { return c.host }

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastUsedAt = time.Now()
	c.mu.Unlock()
}

func (c *Connection) lastUsed() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsedAt
}

func (c *Connection) Close() error {
	return c.client.Close()
}
