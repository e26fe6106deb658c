package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_EmptyEndpointDisablesTracing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	shutdown, err := Setup(ctx, Config{})

	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
}

func TestSetup_CustomEndpoint(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Endpoint:    "localhost:4318",
		Environment: "test",
		ServiceName: "test-service",
	}

	ctx := context.Background()
	shutdown, err := Setup(ctx, cfg)

	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// Shutdown flushes whatever it can; an unreachable collector must not
	// panic or hang past its context.
	shutCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = shutdown(shutCtx)
}

func TestSetup_CollectorUnavailable_GracefulDegradation(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Endpoint:    "localhost:1", // nothing listens here
		Environment: "test",
		ServiceName: "graceful-test",
	}

	ctx := context.Background()
	shutdown, err := Setup(ctx, cfg)

	require.NoError(t, err)
	require.NotNil(t, shutdown)

	shutCtx, cancel := context.WithCancel(ctx)
	cancel()
	_ = shutdown(shutCtx)
}

func TestDefaultServiceName_Value(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "quill", DefaultServiceName)
}
