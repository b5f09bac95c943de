package redisclient

import (
	"context"
	"errors"
	"time"

	"kyte-estimates/internal/util"

	"go.uber.org/zap"
)

// Locker serializes work on a key across service replicas
type Locker struct {
	client *Client
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewLocker creates a distributed locker; ttl bounds how long a crashed
// holder can block the key.
func NewLocker(client *Client, ttl time.Duration) *Locker {
	return &Locker{
		client: client,
		ttl:    ttl,
		poll:   50 * time.Millisecond,
		logger: util.GetLogger().Named("redis-lock"),
	}
}

// Lock blocks until the key is acquired or ctx ends
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		token, ok, err := l.client.AcquireLock(ctx, key, l.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := l.client.ReleaseLock(releaseCtx, key, token); err != nil {
					level := zap.ErrorLevel
					if errors.Is(err, ErrLockNotHeld) {
						level = zap.WarnLevel
					}
					l.logger.Check(level, "Failed to release lock").Write(zap.String("key", key), zap.Error(err))
				}
			}, nil
		}

		t := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
