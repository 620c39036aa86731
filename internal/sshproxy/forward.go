package sshproxy

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/gluk-w/flowwatch/internal/logutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// forwarder accepts connections on an ephemeral loopback port and splices
// each one to remoteAddr through a direct-tcpip channel.
type forwarder struct {
	instanceID string
	remoteAddr string
	client     *ssh.Client
	listener   net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

func startForwarder(client *ssh.Client, instanceID, remoteAddr string) (*forwarder, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("bind local listener: %w", err)
	}
	f := &forwarder{
		instanceID: instanceID,
		remoteAddr: remoteAddr,
		client:     client,
		listener:   listener,
		conns:      make(map[net.Conn]struct{}),
	}
	go f.acceptLoop()
	return f, nil
}

// Port returns the local port the forwarder listens on.
func (f *forwarder) Port() int {
	return f.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting and closes the local side of every spliced
// connection.
func (f *forwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	err := f.listener.Close()
	for c := range f.conns {
		c.Close()
	}
	f.mu.Unlock()
	return err
}

func (f *forwarder) acceptLoop() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Str("instance", logutil.SanitizeForLog(f.instanceID)).Msg("tunnel accept failed")
			}
			return
		}
		if !f.track(conn) {
			conn.Close()
			return
		}
		go f.forward(conn)
	}
}

func (f *forwarder) track(c net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.conns[c] = struct{}{}
	return true
}

func (f *forwarder) untrack(c net.Conn) {
	f.mu.Lock()
	delete(f.conns, c)
	f.mu.Unlock()
}

func (f *forwarder) forward(local net.Conn) {
	defer f.untrack(local)

	remote, err := f.client.Dial("tcp", f.remoteAddr)
	if err != nil {
		log.Warn().Err(err).
			Str("instance", logutil.SanitizeForLog(f.instanceID)).
			Str("remote", f.remoteAddr).
			Msg("ssh forward failed")
		local.Close()
		return
	}
	splice(local, remote)
}

// splice copies in both directions until either side finishes, then closes
// both ends and waits for the second copy to unwind.
func splice(a, b io.ReadWriteCloser) {
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			a.Close()
			b.Close()
		})
	}

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		closeBoth()
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		closeBoth()
		done <- struct{}{}
	}()
	<-done
	<-done
}
