package kvc

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/rohmanhakim/polite-crawler/internal/bloomfilter"
	"github.com/rohmanhakim/polite-crawler/pkg/concurrency"
)

func newFallbackOnlyClient() *Client {
	return &Client{
		sem:            concurrency.NewSemaphore(defaultPoolPermits),
		fallbackFilter: bloomfilter.New(),
		bfUnsupported:  true,
	}
}

func TestClient_Filter_LocalFallback(t *testing.T) {
	c := newFallbackOnlyClient()
	ctx := context.Background()

	assert.NoError(t, c.FilterAdd(ctx, "seen:urls", []byte("https://example.com/a")))
	exists, err := c.FilterExists(ctx, "seen:urls", []byte("https://example.com/a"))
	assert.NoError(t, err)
	assert.True(t, exists)

	missing, err := c.FilterExists(ctx, "seen:urls", []byte("https://example.com/never-added"))
	assert.NoError(t, err)
	assert.False(t, missing)
}

func TestClient_FilterMExists_LocalFallback(t *testing.T) {
	c := newFallbackOnlyClient()
	ctx := context.Background()

	assert.NoError(t, c.FilterAdd(ctx, "seen:urls", []byte("a")))
	assert.NoError(t, c.FilterAdd(ctx, "seen:urls", []byte("b")))

	results, err := c.FilterMExists(ctx, "seen:urls", [][]byte{[]byte("a"), []byte("b"), []byte("c")})
	assert.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, results)
}

func TestIsUnknownCommand(t *testing.T) {
	assert.True(t, isUnknownCommand(errors.New("ERR unknown command 'BF.ADD'")))
	assert.False(t, isUnknownCommand(errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")))
	assert.False(t, isUnknownCommand(nil))
}

func TestClassifyRedisError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		cause     KVCErrorCause
	}{
		{"key not found", redis.Nil, false, ErrCauseBadResponse},
		{"deadline exceeded", context.DeadlineExceeded, true, ErrCauseTimeout},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true, ErrCauseConnection},
		{"unexpected", errors.New("WRONGTYPE bad value"), false, ErrCauseBadResponse},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := classifyRedisError(tc.err)
			assert.NotNil(t, classified)
			kvcErr, ok := classified.(*KVCError)
			assert.True(t, ok)
			assert.Equal(t, tc.retryable, kvcErr.Retryable)
			assert.Equal(t, tc.cause, kvcErr.Cause)
		})
	}
}

func TestClient_PoolCapacityAndInUse(t *testing.T) {
	c := New(Options{Addr: "127.0.0.1:0", PoolPermits: 4})
	defer c.Close()

	assert.Equal(t, 4, c.PoolCapacity())
	assert.Equal(t, 0, c.PoolInUse())
}

func TestClient_PoolDefaultsWhenUnset(t *testing.T) {
	c := New(Options{Addr: "127.0.0.1:0"})
	defer c.Close()

	assert.Equal(t, defaultPoolPermits, c.PoolCapacity())
}

func TestClient_WithSlot_RespectsCancelledContext(t *testing.T) {
	c := New(Options{Addr: "127.0.0.1:0", PoolPermits: 1})
	defer c.Close()

	// Saturate the single permit, then confirm a cancelled context fails fast
	// rather than blocking forever.
	assert.NoError(t, c.sem.Acquire(context.Background()))
	defer c.sem.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.withSlot(ctx, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.Error(t, err)
	var kvcErr *KVCError
	assert.True(t, errors.As(err, &kvcErr))
	assert.Equal(t, ErrCausePoolExhausted, kvcErr.Cause)
}
