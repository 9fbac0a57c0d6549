package qis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarchtech/qis-go/pkg/qis"
)

func TestIsRunning(t *testing.T) {
	srv := newTestServer(t)
	assert.True(t, qis.IsRunning(srv.Addr(), time.Second))
	assert.False(t, qis.IsRunning("127.0.0.1:1", 200*time.Millisecond))
}

func TestEnsureRunningWithExistingService(t *testing.T) {
	srv := newTestServer(t)

	launcher := qis.NewLauncher(qis.LauncherConfig{
		Host: srv.Host(),
		Port: srv.Port(),
	})

	started, err := launcher.EnsureRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, started, "must not launch when a service is reachable")
	assert.False(t, launcher.StartedService())

	// Shutdown is a no-op for a service we didn't start
	require.NoError(t, launcher.Shutdown(context.Background()))
	assert.True(t, qis.IsRunning(srv.Addr(), time.Second))
}

func TestEnsureRunningWithoutJar(t *testing.T) {
	launcher := qis.NewLauncher(qis.LauncherConfig{
		Host: "127.0.0.1",
		Port: 1,
	})

	_, err := launcher.EnsureRunning(context.Background())
	assert.ErrorIs(t, err, qis.ErrServiceNotRunning)
}
