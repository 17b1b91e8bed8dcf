package lock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "run", "sensorhook.lock")
	l, err := Acquire(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	pid, err := HolderPID(lockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.Equal(t, lockPath, l.Path())
}

func TestAcquireTwiceFails(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "sensorhook.lock")
	first, err := Acquire(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Release() })

	// flock locks belong to the open file description, so a second open in
	// the same process still conflicts.
	_, err = Acquire(lockPath)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestReleaseAllowsReacquire(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "sensorhook.lock")
	first, err := Acquire(lockPath)
	require.NoError(t, err)
	require.NoError(t, first.Release())
	require.NoError(t, first.Release(), "double release is a no-op")

	second, err := Acquire(lockPath)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestAcquireEmptyPath(t *testing.T) {
	_, err := Acquire("")
	assert.Error(t, err)
}
