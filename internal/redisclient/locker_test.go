package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClientFromRedis(rdb), mr
}

func TestAcquireLockIsExclusive(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	token, ok, err := client.AcquireLock(ctx, "customer:realm-1:58", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = client.AcquireLock(ctx, "customer:realm-1:58", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a held key must not be acquired twice")

	_, ok, err = client.AcquireLock(ctx, "customer:realm-1:59", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "other keys are independent")

	require.NoError(t, client.ReleaseLock(ctx, "customer:realm-1:58", token))
	assert.False(t, mr.Exists(lockKey("customer:realm-1:58")))

	_, ok, err = client.AcquireLock(ctx, "customer:realm-1:58", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseAfterExpiryKeepsNewOwner(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	stale, ok, err := client.AcquireLock(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	current, ok, err := client.AcquireLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = client.ReleaseLock(ctx, "k", stale)
	assert.True(t, errors.Is(err, ErrLockNotHeld))

	owner, err := mr.Get(lockKey("k"))
	require.NoError(t, err)
	assert.Equal(t, current, owner)
}

func TestLockerWaitsForRelease(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewLocker(client, time.Minute)
	locker.poll = 5 * time.Millisecond

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	acquired := make(chan func())
	go func() {
		second, err := locker.Lock(context.Background(), "k")
		if err == nil {
			acquired <- second
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case second := <-acquired:
		second()
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the key")
	}
}

func TestLockerHonoursContextWhilePolling(t *testing.T) {
	client, _ := newTestClient(t)
	_, ok, err := client.AcquireLock(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	locker := NewLocker(client, time.Minute)
	locker.poll = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	unlock, err := locker.Lock(ctx, "k")

	assert.Nil(t, unlock)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLockerUnlockAfterExpiryLeavesOtherOwner(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewLocker(client, time.Second)

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	other, ok, err := client.AcquireLock(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	unlock()

	owner, err := mr.Get(lockKey("k"))
	require.NoError(t, err)
	assert.Equal(t, other, owner)
}
