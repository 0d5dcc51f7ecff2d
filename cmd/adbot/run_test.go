package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"admin-activead/internal/cfg"
	"admin-activead/internal/db"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu        sync.Mutex
	listeners int
}

func (f *fakeSource) ScheduledJobs(context.Context) ([]db.Job, error) { return nil, nil }
func (f *fakeSource) RecentJobs(context.Context, int) ([]db.Job, error) { return nil, nil }
func (f *fakeSource) AuditLog(context.Context, int) ([]db.AuditRecord, error) { return nil, nil }

func (f *fakeSource) OnAudit(func(db.AuditRecord)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners++
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestStartDashboard_DisabledOnPortZero(t *testing.T) {
	src := &fakeSource{}

	stop, err := startDashboard(cfg.Settings{MetricsPort: 0}, src, prometheus.NewRegistry())
	require.NoError(t, err)
	stop()

	assert.Zero(t, src.listeners, "no server may be created")
}

func TestStartDashboard_Serves(t *testing.T) {
	src := &fakeSource{}
	port := freePort(t)

	stop, err := startDashboard(cfg.Settings{MetricsPort: port}, src, prometheus.NewRegistry())
	require.NoError(t, err)
	defer stop()

	assert.Equal(t, 1, src.listeners)
	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)
}
