package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsemmanuelingwani/sentra-lab/internal/procmanager"
	"github.com/itsemmanuelingwani/sentra-lab/internal/sandbox"
)

func newTestRuntime(t *testing.T, timeout time.Duration) *Runtime {
	t.Helper()
	procs := procmanager.New(nil)
	sb := sandbox.New(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rt, err := New(ctx, Config{
		Kind:           procmanager.KindScriptB,
		ExecuteTimeout: timeout,
	}, procs, sb, nil)
	if err != nil {
		t.Skipf("node not available on PATH in this environment: %v", err)
	}
	t.Cleanup(func() { rt.Shutdown(context.Background()) })
	return rt
}

func TestRuntime_ExecuteTimeout(t *testing.T) {
	// S6: runtime timeout=1s; code that never emits __END__; expect
	// execution-timeout within 1.5s and the child no longer live.
	rt := newTestRuntime(t, time.Second)

	start := time.Now()
	_, err := rt.Execute(context.Background(), []byte("while(true){}"))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, elapsed < 1500*time.Millisecond, "timeout fired too late: %s", elapsed)
	assert.False(t, rt.HealthCheck())
}

func TestRuntime_HealthCheckAndReset(t *testing.T) {
	rt := newTestRuntime(t, 5*time.Second)
	assert.True(t, rt.HealthCheck())

	require.NoError(t, rt.Reset(context.Background()))
	assert.True(t, rt.HealthCheck())
	assert.NotEqual(t, 0, rt.PID())
}
