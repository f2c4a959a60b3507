// Package sshconn maintains the SSH connections remote endpoints execute
// over. Dialing retries with exponential backoff while a freshly booted host
// still refuses connections, and session creation runs behind a circuit
// breaker so a dead host fails fast instead of hanging every dispatch.
package sshconn

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
)

// Client wraps one SSH connection shared by every endpoint on that host.
type Client struct {
	addr    string
	ssh     *ssh.Client
	breaker *gobreaker.CircuitBreaker
}

// Options configures Dial.
type Options struct {
	User        string
	KeyPath     string
	DialTimeout time.Duration // per-attempt TCP timeout
	MaxWait     time.Duration // total time to keep retrying the dial
}

// Dial connects to addr, retrying until Options.MaxWait elapses. Newly
// provisioned hosts reject connections for a while after boot, so the retry
// loop is part of the contract, not resilience garnish.
func Dial(addr string, opts Options) (*Client, error) {
	auth, err := publicKeyAuth(opts.KeyPath)
	if err != nil {
		return nil, err
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.MaxWait == 0 {
		opts.MaxWait = 8 * time.Second
	}

	config := &ssh.ClientConfig{
		User:            opts.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         opts.DialTimeout,
		BannerCallback:  func(string) error { return nil },
	}

	var client *ssh.Client
	operation := func() error {
		var dialErr error
		client, dialErr = ssh.Dial("tcp", addr, config)
		return dialErr
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = opts.MaxWait
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("sshconn: dial %s: %w", addr, err)
	}

	cbs := gobreaker.Settings{
		Name:        "ssh-" + addr,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	}
	return &Client{
		addr:    addr,
		ssh:     client,
		breaker: gobreaker.NewCircuitBreaker(cbs),
	}, nil
}

// NewSession opens a session via the circuit breaker. The caller owns the
// returned session and must close it.
func (c *Client) NewSession() (*ssh.Session, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.ssh.NewSession()
	})
	if err != nil {
		return nil, fmt.Errorf("sshconn: new session on %s: %w", c.addr, err)
	}
	return res.(*ssh.Session), nil
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) Close() error { return c.ssh.Close() }

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("sshconn: read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("sshconn: parse private key: %w", err)
	}
	return ssh.PublicKeys(signer), nil
}
