package sshproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/gluk-w/flowwatch/internal/sshkeys"
	"golang.org/x/crypto/ssh"
)

var errKeepaliveTimeout = errors.New("keepalive timed out")

// dialSSH reads the target's private key and opens an SSH connection using
// public key authentication only. timeout bounds both the TCP dial and the
// handshake.
func dialSSH(ctx context.Context, t Target, timeout time.Duration) (*ssh.Client, error) {
	signer, err := sshkeys.LoadSigner(t.SSHKeyPath)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            t.SSHUser,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: sshkeys.LoggingHostKeyCallback(t.InstanceID),
		Timeout:         timeout,
	}

	addr := t.sshAddr()
	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// ssh.NewClientConn has no timeout of its own.
	netConn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	netConn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// keepalive sends keepalive@openssh.com every interval. A request that errors
// or gets no reply within interval is a miss; after maxMisses consecutive
// misses onDead is called once and the loop exits.
func keepalive(ctx context.Context, client *ssh.Client, interval time.Duration, maxMisses int, onDead func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := sendKeepalive(ctx, client, interval)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			misses = 0
			continue
		}
		misses++
		if misses >= maxMisses {
			onDead(fmt.Errorf("%d consecutive keepalives missed: %w", misses, err))
			return
		}
	}
}

func sendKeepalive(ctx context.Context, client *ssh.Client, timeout time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		// A "request failed" reply still proves the peer is alive.
		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		errc <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-errc:
		return err
	case <-timer.C:
		return errKeepaliveTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
