package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gluk-w/flowwatch/internal/database"
	"github.com/gluk-w/flowwatch/internal/poller"
	"github.com/gluk-w/flowwatch/internal/sshproxy"
)

func TestTriggerSync(t *testing.T) {
	srv, _, syncer := setup(t)
	syncer.res = poller.SyncResult{Fetched: 3, Upserted: 3}

	resp := do(t, srv, http.MethodPost, "/api/v1/instances/abc/sync", nil)
	expectStatus(t, resp, http.StatusOK)
	var res poller.SyncResult
	decode(t, resp, &res)
	if res.InstanceID != "abc" || res.Upserted != 3 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestTriggerSyncErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		want   int
		detail string
	}{
		{"unknown instance", database.ErrNotFound, http.StatusNotFound, "Instance not found"},
		{"connect failure",
			&sshproxy.ConnectError{InstanceID: "abc", Cause: errors.New("connection refused")},
			http.StatusBadGateway, "failed to connect to instance abc"},
		{"query failure", fmt.Errorf("query executions: %w", errors.New("no such table")),
			http.StatusInternalServerError, "no such table"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _, syncer := setup(t)
			syncer.err = tc.err

			resp := do(t, srv, http.MethodPost, "/api/v1/instances/abc/sync", nil)
			expectStatus(t, resp, tc.want)
			var body map[string]string
			decode(t, resp, &body)
			if !strings.Contains(body["detail"], tc.detail) {
				t.Errorf("detail = %q, want it to contain %q", body["detail"], tc.detail)
			}
		})
	}
}

func TestGetSyncStatus(t *testing.T) {
	srv, _, _ := setup(t)
	inst := createInstance(t, srv, "prod")

	resp := do(t, srv, http.MethodGet, "/api/v1/instances/"+inst.ID+"/sync-status", nil)
	expectStatus(t, resp, http.StatusOK)
	var never database.SyncStatus
	decode(t, resp, &never)
	if never.InstanceID != inst.ID || never.LastSyncedAt != nil || never.LastSuccess {
		t.Errorf("never-synced status = %+v", never)
	}

	at := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	if err := database.RecordSyncSuccess(t.Context(), inst.ID, at, 42); err != nil {
		t.Fatalf("RecordSyncSuccess: %v", err)
	}
	resp = do(t, srv, http.MethodGet, "/api/v1/instances/"+inst.ID+"/sync-status", nil)
	expectStatus(t, resp, http.StatusOK)
	var synced database.SyncStatus
	decode(t, resp, &synced)
	if !synced.LastSuccess || synced.RecordCount != 42 || synced.LastSyncedAt == nil || !synced.LastSyncedAt.Equal(at) {
		t.Errorf("synced status = %+v", synced)
	}

	resp = do(t, srv, http.MethodGet, "/api/v1/instances/missing/sync-status", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestTriggerSyncWithoutEngine(t *testing.T) {
	srv, _, _ := setup(t)
	Syncer = nil

	resp := do(t, srv, http.MethodPost, "/api/v1/instances/abc/sync", nil)
	expectStatus(t, resp, http.StatusServiceUnavailable)
}
