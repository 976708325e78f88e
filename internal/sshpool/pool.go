// Package sshpool maintains pooled SSH connections to gateway VMs, the
// Connection Pool described in spec.md §4.A. It is adapted from the
// teacher's SSHConnectionPool in
// apps/vps-service/internal/service/ssh_connection_pool.go, trading its
// gRPC-stream dial for a direct net.Dial against the gateway's IP.
package sshpool

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/vectorhaven/fleetctl/internal/logger"
)

const (
	defaultIdleTimeout  = 10 * time.Minute
	defaultCleanupEvery = 2 * time.Minute
	sshDialTimeout      = 15 * time.Second
)

// Pool owns at most one live *Connection per gateway host and recycles
// unhealthy ones on demand, mirroring SSHConnectionPool.GetOrCreateConnection.
type Pool struct {
	mu          sync.Mutex
	connections map[string]*Connection
	idleTimeout time.Duration

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

func NewPool() *Pool {
	p := &Pool{
		connections: make(map[string]*Connection),
		idleTimeout: defaultIdleTimeout,
		stopCleanup: make(chan struct{}),
	}
	go p.cleanupLoop()
	return p
}

// Get returns the pooled connection for host, dialing and authenticating a
// new one if none exists or the existing one has gone unhealthy.
func (p *Pool) Get(host, user, privateKeyPEM string) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[host]; ok {
		if conn.IsHealthy() {
			conn.touch()
			return conn, nil
		}
		logger.Warn("[sshpool] connection to %s unhealthy, recreating", host)
		conn.Close()
		delete(p.connections, host)
	}

	conn, err := dial(host, user, privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway %s: %w", host, err)
	}
	p.connections[host] = conn
	return conn, nil
}

// Lookup returns the pooled connection for host without dialing a new one.
// Callers that expect a gateway to already be connected (the Service
// Registrar, spec.md §4.G step 8) use this instead of Get so an absent
// entry surfaces as "not connected" rather than triggering a fresh dial.
func (p *Pool) Lookup(host string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.connections[host]
	return conn, ok
}

// Remove closes and evicts the pooled connection for host, if any.
func (p *Pool) Remove(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.connections[host]; ok {
		conn.Close()
		delete(p.connections, host)
	}
}

// All returns a snapshot of every currently pooled connection, used by the
// Startup Reconciler to fan out configuration pushes.
func (p *Pool) All() []*Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Connection, 0, len(p.connections))
	for _, conn := range p.connections {
		out = append(out, conn)
	}
	return out
}

func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCleanup) })
	p.mu.Lock()
	defer p.mu.Unlock()
	for host, conn := range p.connections {
		conn.Close()
		delete(p.connections, host)
	}
}

func (p *Pool) cleanupLoop() {
	ticker := time.NewTicker(defaultCleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.cleanupIdle()
		case <-p.stopCleanup:
			return
		}
	}
}

func (p *Pool) cleanupIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for host, conn := range p.connections {
		if now.Sub(conn.lastUsed()) > p.idleTimeout {
			logger.Debug("[sshpool] closing idle connection to %s", host)
			conn.Close()
			delete(p.connections, host)
		}
	}
}

func dial(host, user, privateKeyPEM string) (*Connection, error) {
	signer, err := ssh.ParsePrivateKey([]byte(privateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse gateway private key: %w", err)
	}

	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}

	client, err := ssh.Dial("tcp", dialAddr(host), cfg)
	if err != nil {
		return nil, err
	}

	return newConnection(host, client), nil
}

// dialAddr appends the standard SSH port unless host already carries one
// (tests dial a loopback listener on a random port; gateway VMs are
// addressed by bare IP).
func dialAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return host + ":22"
}
