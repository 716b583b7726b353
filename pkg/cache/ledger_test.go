package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/illmade-knight/go-mqtt-kafka-bridge/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckKeyAndDigest(t *testing.T) {
	assert.Equal(t, "client-1/42", cache.AckKey("client-1", 42))

	d1 := cache.PublishDigest("sensors/1/data", []byte("21.5"))
	assert.Equal(t, d1, cache.PublishDigest("sensors/1/data", []byte("21.5")))
	assert.NotEqual(t, d1, cache.PublishDigest("sensors/1/data", []byte("21.6")))
	assert.NotEqual(t, d1, cache.PublishDigest("sensors/2/data", []byte("21.5")))
	// Topic and payload boundaries are not ambiguous.
	assert.NotEqual(t, cache.PublishDigest("ab", []byte("c")), cache.PublishDigest("a", []byte("bc")))
}

// exerciseLedger runs the behaviour shared by every AckLedger implementation.
func exerciseLedger(t *testing.T, ledger cache.AckLedger) {
	t.Helper()
	ctx := context.Background()

	_, found, err := ledger.Lookup(ctx, "client-1/1")
	require.NoError(t, err)
	assert.False(t, found, "a missing key is not an error")

	require.NoError(t, ledger.Record(ctx, "client-1/1", "digest-a"))
	digest, found, err := ledger.Lookup(ctx, "client-1/1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "digest-a", digest)

	require.NoError(t, ledger.Record(ctx, "client-1/1", "digest-b"))
	digest, _, err = ledger.Lookup(ctx, "client-1/1")
	require.NoError(t, err)
	assert.Equal(t, "digest-b", digest, "a reused packet id overwrites the entry")

	_, found, err = ledger.Lookup(ctx, "client-2/1")
	require.NoError(t, err)
	assert.False(t, found, "keys are scoped per client")
}

func TestMemoryLedger(t *testing.T) {
	ledger, err := cache.NewMemoryLedger(10, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	exerciseLedger(t, ledger)
}

func newMiniredisLedger(t *testing.T, ttl time.Duration) (*cache.RedisLedger, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	ledger, err := cache.NewRedisLedger(context.Background(), &cache.RedisConfig{
		Addr:      mini.Addr(),
		TTL:       ttl,
		KeyPrefix: "bridge-1:",
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger, mini
}

func TestRedisLedger(t *testing.T) {
	ledger, mini := newMiniredisLedger(t, time.Minute)

	exerciseLedger(t, ledger)

	assert.True(t, mini.Exists("bridge-1:client-1/1"), "keys carry the configured prefix")
}

func TestRedisLedger_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	ledger, mini := newMiniredisLedger(t, 2*time.Second)

	require.NoError(t, ledger.Record(ctx, "client-1/7", "digest"))
	mini.FastForward(3 * time.Second)

	_, found, err := ledger.Lookup(ctx, "client-1/7")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNewRedisLedger_FailsWhenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cache.NewRedisLedger(ctx, &cache.RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	require.Error(t, err)

	_, err = cache.NewRedisLedger(ctx, nil, zerolog.Nop())
	require.Error(t, err)
}
