package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rrerrors "github.com/fieldsafe/riskreactor/errors"
)

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, time.Second, c.backoff.Load())
}

func TestOptionValidation(t *testing.T) {
	_, err := NewClient("nats://localhost:4222", WithTimeout(-time.Second))
	require.Error(t, err)
	_, err = NewClient("nats://localhost:4222", WithReconnectWait(0))
	require.Error(t, err)
	_, err = NewClient("nats://localhost:4222", WithCircuitBreaker(0, time.Minute))
	require.Error(t, err)
	_, err = NewClient("nats://localhost:4222", WithLogger(nil))
	require.Error(t, err)
}

func TestCircuitOpensAfterThreshold(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreaker(3, time.Minute))
	require.NoError(t, err)

	c.recordFailure()
	c.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, c.Status())

	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())
	assert.EqualValues(t, 3, c.failures.Load())

	// Backoff doubled when the circuit opened.
	assert.Equal(t, 2*time.Second, c.backoff.Load())

	// Connect is refused while the circuit is open.
	err = c.Connect(context.Background())
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestResetCircuitRestoresDefaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitBreaker(1, time.Minute))
	require.NoError(t, err)

	c.recordFailure()
	require.Equal(t, StatusCircuitOpen, c.Status())

	c.resetCircuit()
	assert.EqualValues(t, 0, c.failures.Load())
	assert.Equal(t, time.Second, c.backoff.Load())
	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestPublishWithoutConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	err = c.Publish(context.Background(), "triggers.test", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, rrerrors.ErrNoConnection)
	assert.True(t, rrerrors.IsTransient(err))

	err = c.Subscribe(context.Background(), "triggers.>", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
}

func TestClosedClientRefusesTraffic(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	require.NoError(t, c.Close(context.Background()))

	err = c.Publish(context.Background(), "triggers.test", []byte("{}"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, err, rrerrors.ErrShuttingDown)

	err = c.Subscribe(context.Background(), "triggers.>", func(context.Context, []byte) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWaitForConnectionTimesOut(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.WaitForConnection(ctx))
}
