package app

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncsqlite/internal/adapter/httpapi"
	"asyncsqlite/internal/config"
	"asyncsqlite/pkg/asyncsqlite"
)

func testApp(t *testing.T) *App {
	t.Helper()

	var cfg config.Config
	cfg.Env = "dev"
	cfg.DB.Path = filepath.Join(t.TempDir(), "nested", "app.db")
	cfg.DB.JournalMode = "WAL"
	cfg.DB.Synchronous = "NORMAL"
	cfg.DB.TxLockMode = "IMMEDIATE"
	cfg.DB.BusyTimeout = time.Second
	cfg.DB.ForeignKeys = true
	cfg.DB.NumConns = 2
	cfg.DB.QueueSize = 10
	cfg.Maintenance.CheckpointSchedule = "@every 5m"
	cfg.HTTP.Addr = "127.0.0.1:0"

	return &App{cfg: cfg, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestPoolBuilderMapsConfig(t *testing.T) {
	a := testApp(t)

	opts := a.poolBuilder().Options()
	assert.Equal(t, a.cfg.DB.Path, opts.Path)
	assert.Equal(t, asyncsqlite.JournalModeWAL, opts.JournalMode)
	assert.Equal(t, asyncsqlite.SynchronousNormal, opts.Synchronous)
	assert.Equal(t, asyncsqlite.TxLockImmediate, opts.TxLockMode)
	assert.Equal(t, time.Second, opts.BusyTimeout)
	assert.True(t, opts.ForeignKeys)
	assert.Equal(t, 10, opts.QueueSize)
	assert.Empty(t, opts.Migrations)
}

func TestRunUntilCancelled(t *testing.T) {
	a := testApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
	assert.FileExists(t, a.cfg.DB.Path)
}

func TestRunFailsOnBadSchedule(t *testing.T) {
	a := testApp(t)
	a.cfg.Maintenance.OptimizeSchedule = "not a schedule"

	err := a.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register maintenance")
}

func TestHealthURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "http://127.0.0.1:8080/healthz"},
		{"0.0.0.0:9000", "http://127.0.0.1:9000/healthz"},
		{"[::]:9000", "http://127.0.0.1:9000/healthz"},
		{"10.0.0.5:8080", "http://10.0.0.5:8080/healthz"},
		{"localhost", "http://localhost/healthz"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, healthURL(tt.addr), tt.addr)
	}
}

func TestHealthcheckAgainstServer(t *testing.T) {
	pool := asyncsqlite.NewTestPool(t, 2)
	srv := httptest.NewServer(httpapi.New(pool).Router())
	defer srv.Close()

	a := testApp(t)
	a.cfg.HTTP.Addr = strings.TrimPrefix(srv.URL, "http://")

	require.NoError(t, a.Healthcheck(context.Background()))

	require.NoError(t, pool.CloseBlocking())
	assert.Error(t, a.Healthcheck(context.Background()), "closed pool should fail the probe")
}
