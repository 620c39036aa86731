package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gluk-w/flowwatch/internal/database"
	"github.com/gluk-w/flowwatch/internal/poller"
	"github.com/gluk-w/flowwatch/internal/sshproxy"
)

type fakeTunnels struct {
	mu       sync.Mutex
	released []string
	probed   []sshproxy.Target
	result   sshproxy.ProbeResult
	live     []sshproxy.TunnelInfo
}

func (f *fakeTunnels) Release(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
}

func (f *fakeTunnels) Tunnels() []sshproxy.TunnelInfo { return f.live }

func (f *fakeTunnels) Probe(ctx context.Context, t sshproxy.Target) sshproxy.ProbeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, t)
	return f.result
}

func (f *fakeTunnels) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

type fakeSyncer struct {
	res poller.SyncResult
	err error
}

func (f *fakeSyncer) TriggerSync(ctx context.Context, id string) (poller.SyncResult, error) {
	r := f.res
	r.InstanceID = id
	return r, f.err
}

// setup points the handlers at a fresh database and fake services and
// returns a test server for the full router.
func setup(t *testing.T) (*httptest.Server, *fakeTunnels, *fakeSyncer) {
	t.Helper()
	t.Cleanup(database.SetupTestDB(t))

	tunnels := &fakeTunnels{}
	syncer := &fakeSyncer{}
	oldT, oldS := Tunnels, Syncer
	Tunnels, Syncer = tunnels, syncer
	t.Cleanup(func() { Tunnels, Syncer = oldT, oldS })

	srv := httptest.NewServer(NewRouter())
	t.Cleanup(srv.Close)
	return srv, tunnels, syncer
}

func do(t *testing.T, srv *httptest.Server, method, path string, body interface{}) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("%s %s: status %d, want %d (body %v)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func validInstance(name string) map[string]interface{} {
	return map[string]interface{}{
		"name":         name,
		"ssh_host":     "bastion.example.com",
		"ssh_user":     "deploy",
		"ssh_key_path": "/keys/" + name,
		"db_name":      "n8n",
		"db_user":      "n8n",
		"db_password":  "hunter22secret",
	}
}

func createInstance(t *testing.T, srv *httptest.Server, name string) instanceResponse {
	t.Helper()
	resp := do(t, srv, http.MethodPost, "/api/v1/instances", validInstance(name))
	expectStatus(t, resp, http.StatusCreated)
	var out instanceResponse
	decode(t, resp, &out)
	return out
}
