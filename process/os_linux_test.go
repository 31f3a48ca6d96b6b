//go:build linux

package process

import (
	"context"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"emperror.dev/errors"
	ps "github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSTracker(t *testing.T) {
	bin, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary is not available")
	}

	ctx := context.Background()
	tr := &OSTracker{StopTimeout: 5 * time.Second, PollInterval: 20 * time.Millisecond}

	id, err := tr.Spawn(ctx, Spec{Name: "sleeper", Executable: bin, Args: []string{"30"}, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.Greater(t, id.PID, int32(0))
	assert.NotZero(t, id.StartMarker)

	assert.True(t, tr.IsAlive(ctx, id))
	assert.False(t, tr.IsAlive(ctx, Identity{PID: id.PID, StartMarker: id.StartMarker - 1000}))

	require.NoError(t, tr.Terminate(ctx, id))
	assert.False(t, tr.IsAlive(ctx, id))

	// Terminating an exited process is not an error.
	assert.NoError(t, tr.Terminate(ctx, id))
}

func TestOSTracker_SpawnMissingExecutable(t *testing.T) {
	tr := NewOSTracker()
	_, err := tr.Spawn(context.Background(), Spec{Name: "ghost", Executable: "/nonexistent/wraith-test-binary"})
	assert.True(t, IsLaunchError(err))
}

func TestOSTracker_SpawnUnidentifiable(t *testing.T) {
	bin, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary is not available")
	}

	var pid atomic.Int32
	old := startMarker
	startMarker = func(_ context.Context, p int32) (int64, error) {
		pid.Store(p)
		return 0, errors.New("no such process")
	}
	t.Cleanup(func() { startMarker = old })

	_, err = NewOSTracker().Spawn(context.Background(), Spec{Name: "sleeper", Executable: bin, Args: []string{"30"}, Dir: t.TempDir()})
	require.True(t, IsLaunchError(err))
	require.NotZero(t, pid.Load())

	// The child must not be left running without a supervisor.
	assert.Eventually(t, func() bool {
		exists, err := ps.PidExists(pid.Load())
		return err == nil && !exists
	}, 5*time.Second, 20*time.Millisecond)
}
