package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/swapset/crypto-exchange/settlement/internal/core/ports"
)

// These tests need a local Redis with keyspace notifications permitted;
// they are skipped in short mode.

func testRedis(t *testing.T) *redis.Client {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	return rdb
}

type callbackRecorder struct {
	mu    sync.Mutex
	fired map[string]int
	ch    chan string
}

func newCallbackRecorder() *callbackRecorder {
	return &callbackRecorder{fired: make(map[string]int), ch: make(chan string, 16)}
}

func (r *callbackRecorder) callback(_ context.Context, orderID string) error {
	r.mu.Lock()
	r.fired[orderID]++
	r.mu.Unlock()
	r.ch <- orderID
	return nil
}

func (r *callbackRecorder) count(orderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fired[orderID]
}

func TestArmFiresCallbackExactlyOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	rdb := testRedis(t)
	s := NewExpirationScheduler(slog.Default(), rdb, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := newCallbackRecorder()
	go s.Listen(ctx, recorder.callback)
	time.Sleep(200 * time.Millisecond) // let the subscription settle

	require.NoError(t, s.Arm(ctx, "order-fire-once"))

	select {
	case orderID := <-recorder.ch:
		require.Equal(t, "order-fire-once", orderID)
	case <-time.After(5 * time.Second):
		t.Fatal("expected expiry event")
	}

	// No duplicate event for the same key.
	time.Sleep(1500 * time.Millisecond)
	require.Equal(t, 1, recorder.count("order-fire-once"))
}

func TestArmThenDisarmNeverFires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	rdb := testRedis(t)
	s := NewExpirationScheduler(slog.Default(), rdb, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := newCallbackRecorder()
	go s.Listen(ctx, recorder.callback)
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, s.Arm(ctx, "order-disarmed"))
	s.Disarm(ctx, "order-disarmed")

	select {
	case orderID := <-recorder.ch:
		t.Fatalf("unexpected expiry event for %s", orderID)
	case <-time.After(2 * time.Second):
	}

	// Disarming again, and disarming an unknown order, is a quiet no-op.
	s.Disarm(ctx, "order-disarmed")
	s.Disarm(ctx, "never-armed")
}

func TestListenerIgnoresForeignKeys(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	rdb := testRedis(t)
	s := NewExpirationScheduler(slog.Default(), rdb, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder := newCallbackRecorder()
	go s.Listen(ctx, recorder.callback)
	time.Sleep(200 * time.Millisecond)

	// A TTL key outside our namespace must not reach the callback.
	require.NoError(t, rdb.Set(ctx, "session:expire:abc", "x", 500*time.Millisecond).Err())
	require.NoError(t, s.Arm(ctx, "order-ours"))

	select {
	case orderID := <-recorder.ch:
		require.Equal(t, "order-ours", orderID)
	case <-time.After(5 * time.Second):
		t.Fatal("expected expiry event for our key")
	}

	require.Zero(t, recorder.count("abc"))
	require.Zero(t, recorder.count("session:expire:abc"))
}

func TestExpireKeyNamespace(t *testing.T) {
	require.Equal(t, ports.ExpireKeyPrefix+"ord-1", expireKey("ord-1"))
}
