package procmanager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawn_ResolveAndSpawnScriptB(t *testing.T) {
	// node satisfies script-B's "interactive, line-buffered" contract well
	// enough to exercise spawn/stdio wiring without a real agent script.
	m := New(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	child, err := m.Spawn(ctx, SpawnConfig{Kind: KindScriptB})
	if err != nil {
		t.Skipf("node not available on PATH in this environment: %v", err)
	}
	require.NotNil(t, child)
	assert.Greater(t, child.PID(), 0)

	assert.True(t, m.IsRunning(child.PID()))
	require.NoError(t, m.Kill(child.PID()))
	assert.False(t, m.IsRunning(child.PID()))
}

func TestSpawn_UnknownKind(t *testing.T) {
	m := New(nil)
	_, err := m.Spawn(context.Background(), SpawnConfig{Kind: Kind("nonexistent")})
	assert.Error(t, err)
}

func TestResolvePath_Caches(t *testing.T) {
	m := New(nil)
	first, err := m.resolvePath(KindScriptB)
	if err != nil {
		t.Skipf("node not available: %v", err)
	}
	second, err := m.resolvePath(KindScriptB)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIsRunning_DeadPID(t *testing.T) {
	m := New(nil)
	assert.False(t, m.IsRunning(1<<30))
}
