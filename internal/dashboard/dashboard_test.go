package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"admin-activead/internal/common"
	"admin-activead/internal/db"
	"admin-activead/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cret"

func newTestServer(t *testing.T) (*Server, *db.DB, *httptest.Server) {
	t.Helper()
	store, err := db.Open(":memory:", time.UTC, 1)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	m.Command("start")

	s := New(store, reg, 0, testToken)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, store, srv
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	_, _, srv := newTestServer(t)

	resp := get(t, srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), `bot_commands_total{command="start"} 1`)

	resp = get(t, srv.URL+"/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestAPI_RequiresToken(t *testing.T) {
	_, _, srv := newTestServer(t)

	tests := []struct {
		name  string
		url   string
		token string
		want  int
	}{
		{"no token", "/api/jobs", "", http.StatusUnauthorized},
		{"wrong token", "/api/audit", "nope", http.StatusUnauthorized},
		{"bearer", "/api/jobs", testToken, http.StatusOK},
		{"query param", "/api/audit?token=" + testToken, "", http.StatusOK},
		{"ws without token", "/ws", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := get(t, srv.URL+tt.url, tt.token)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAPI_JobsAndAudit(t *testing.T) {
	_, store, srv := newTestServer(t)
	ctx := context.Background()

	resp := get(t, srv.URL+"/api/jobs", testToken)
	var jobs []db.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	assert.Empty(t, jobs)
	assert.NotNil(t, jobs, "empty list must encode as []")

	runAt := time.Date(2025, 9, 1, 16, 0, 0, 0, time.UTC)
	_, _, err := store.InsertJob(ctx, common.JobTypeDisableAccount, "ivanov", runAt, 5, map[string]any{"source": common.SourceChat})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Audit(ctx, 5, common.AuditResetPassword, "ivanov", nil))
	}

	resp = get(t, srv.URL+"/api/jobs", testToken)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, "ivanov", jobs[0].SAM)
	assert.True(t, runAt.Equal(jobs[0].RunAt))

	resp = get(t, srv.URL+"/api/jobs/recent?limit=5", testToken)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&jobs))
	assert.Len(t, jobs, 1)

	resp = get(t, srv.URL+"/api/audit?limit=2", testToken)
	var records []db.AuditRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 2)
	assert.Equal(t, common.AuditResetPassword, records[0].Action)
	assert.Greater(t, records[0].ID, records[1].ID)
}

func TestLimitParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", defaultAuditLimit},
		{"limit=abc", defaultAuditLimit},
		{"limit=-3", defaultAuditLimit},
		{"limit=10", 10},
		{"limit=100000", maxAuditLimit},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/audit?"+tt.query, nil)
		assert.Equal(t, tt.want, limitParam(r), tt.query)
	}
}

func TestWebSocket_StreamsAudit(t *testing.T) {
	s, store, srv := newTestServer(t)
	ctx := context.Background()

	go s.clientBroadcaster()
	t.Cleanup(func() { close(s.stop) })

	require.NoError(t, store.Audit(ctx, 5, common.AuditAddAdmin, "7", nil))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() db.AuditRecord {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var rec db.AuditRecord
		require.NoError(t, conn.ReadJSON(&rec))
		return rec
	}

	backlog := read()
	assert.Equal(t, common.AuditAddAdmin, backlog.Action)
	require.NotNil(t, backlog.Target)
	assert.Equal(t, "7", *backlog.Target)

	require.NoError(t, store.Audit(ctx, 5, common.AuditCancelJob, "ivanov", map[string]any{"job_id": 3}))
	live := read()
	assert.Equal(t, common.AuditCancelJob, live.Action)
	assert.JSONEq(t, `{"job_id":3}`, live.Details)
}

func TestStartStop(t *testing.T) {
	s, _, _ := newTestServer(t)
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}
