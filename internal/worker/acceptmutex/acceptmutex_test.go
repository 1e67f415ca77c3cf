package acceptmutex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMutex(t *testing.T) *Mutex {
	t.Helper()
	m, err := Open(filepath.Join(t.TempDir(), "accept.lock"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestTrylockAndUnlock(t *testing.T) {
	m := openMutex(t)

	ok, err := m.Trylock()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, m.Held())

	require.NoError(t, m.Unlock())
	assert.False(t, m.Held())
}

func TestSecondHandleCannotLockWhileHeld(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accept.lock")

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	b, err := Open(path)
	require.NoError(t, err)
	defer b.Close()

	ok, err := a.Trylock()
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.Trylock()
	require.NoError(t, err)
	assert.False(t, ok, "flock is exclusive across handles")

	require.NoError(t, a.Unlock())
	ok, err = b.Trylock()
	require.NoError(t, err)
	assert.True(t, ok)
	_ = b.Unlock()
}

func TestThrottleDisablesContest(t *testing.T) {
	m := openMutex(t)

	assert.True(t, m.ShouldContest(0.5))

	// Above 7/8 the worker yields and sits out until the counter ticks
	// down.
	assert.False(t, m.ShouldContest(0.95))
	assert.False(t, m.ShouldContest(0.1), "disabled counter still set")

	m.Tick()
	assert.True(t, m.ShouldContest(0.1))
}
