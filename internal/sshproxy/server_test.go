package sshproxy

import (
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gluk-w/flowwatch/internal/remotedb"
	"github.com/gluk-w/flowwatch/internal/sshkeys"
	"golang.org/x/crypto/ssh"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testServer is an in-process SSH server accepting one public key and
// serving direct-tcpip channels.
type testServer struct {
	addr string

	accepted       atomic.Int32 // completed handshakes
	active         atomic.Int32 // open SSH connections
	ignoreRequests atomic.Bool  // stop answering global requests

	mu       sync.Mutex
	netConns []net.Conn
}

func (ts *testServer) host() string {
	h, _, _ := net.SplitHostPort(ts.addr)
	return h
}

func (ts *testServer) port() int {
	_, p, _ := net.SplitHostPort(ts.addr)
	n, _ := strconv.Atoi(p)
	return n
}

// closeAllConns forcefully closes all accepted TCP connections.
func (ts *testServer) closeAllConns() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.netConns {
		c.Close()
	}
	ts.netConns = nil
}

func startTestServer(t *testing.T, authorizedKey ssh.PublicKey) *testServer {
	t.Helper()

	_, hostKeyPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.ParsePrivateKey(hostKeyPEM)
	if err != nil {
		t.Fatalf("parse host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(authorizedKey) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ts := &testServer{addr: listener.Addr().String()}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.netConns = append(ts.netConns, netConn)
			ts.mu.Unlock()
			go ts.handle(netConn, config)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		ts.closeAllConns()
		<-done
	})
	return ts
}

func (ts *testServer) handle(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	ts.accepted.Add(1)
	ts.active.Add(1)
	defer ts.active.Add(-1)
	defer sshConn.Close()

	go func() {
		for req := range reqs {
			if ts.ignoreRequests.Load() {
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "direct-tcpip" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		host, port := parseDirectTCPIPData(newChan.ExtraData())
		target, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), 5*time.Second)
		if err != nil {
			newChan.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := newChan.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go splice(ch, target)
	}
}

// parseDirectTCPIPData parses the channel extra data for direct-tcpip channels.
// Format: string(host) + uint32(port) + string(origAddr) + uint32(origPort)
func parseDirectTCPIPData(data []byte) (string, int) {
	var msg struct {
		Host     string
		Port     uint32
		OrigHost string
		OrigPort uint32
	}
	if err := ssh.Unmarshal(data, &msg); err != nil {
		return "", 0
	}
	return msg.Host, int(msg.Port)
}

// startEchoServer stands in for the remote database endpoint.
func startEchoServer(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen echo: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return l.Addr().String()
}

// writeTestKey writes a fresh private key and returns its path and signer.
func writeTestKey(t *testing.T) (string, ssh.Signer) {
	t.Helper()
	_, priv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := sshkeys.WriteKeyFile(path, priv); err != nil {
		t.Fatalf("write key: %v", err)
	}
	signer, err := ssh.ParsePrivateKey(priv)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return path, signer
}

type fixture struct {
	server  *testServer
	keyPath string
	dbAddr  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	keyPath, signer := writeTestKey(t)
	return &fixture{
		server:  startTestServer(t, signer.PublicKey()),
		keyPath: keyPath,
		dbAddr:  startEchoServer(t),
	}
}

func (f *fixture) target(id string) Target {
	host, p, _ := net.SplitHostPort(f.dbAddr)
	port, _ := strconv.Atoi(p)
	return Target{
		InstanceID: id,
		SSHHost:    f.server.host(),
		SSHPort:    f.server.port(),
		SSHUser:    "n8n",
		SSHKeyPath: f.keyPath,
		DB: remotedb.Params{
			Type: remotedb.TypePostgres,
			Host: host,
			Port: port,
			Name: "n8n",
			User: "n8n",
		},
	}
}

// poolRecorder is a PoolOpener returning in-memory SQLite pools and
// remembering which local ports it was pointed at.
type poolRecorder struct {
	mu    sync.Mutex
	ports []int
	opts  []remotedb.PoolOptions
	fail  error

	// hook, when set before the manager is used, runs before each pool is
	// opened.
	hook func(p remotedb.Params)
}

func (r *poolRecorder) open(p remotedb.Params, host string, port int, opts remotedb.PoolOptions) (*gorm.DB, error) {
	r.mu.Lock()
	r.ports = append(r.ports, port)
	r.opts = append(r.opts, opts)
	fail := r.fail
	r.mu.Unlock()
	if r.hook != nil {
		r.hook(p)
	}
	if fail != nil {
		return nil, fail
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return db, remotedb.Configure(db, opts)
}

func (r *poolRecorder) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ports...)
}

func newTestManager(t *testing.T, rec *poolRecorder, idle time.Duration) *Manager {
	t.Helper()
	m := NewManager(Options{
		IdleTimeout:    idle,
		ConnectTimeout: 5 * time.Second,
		OpenPool:       rec.open,
	})
	t.Cleanup(m.Shutdown)
	return m
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func poolClosed(db *gorm.DB) bool {
	sqlDB, err := db.DB()
	if err != nil {
		return true
	}
	return sqlDB.Ping() != nil
}
