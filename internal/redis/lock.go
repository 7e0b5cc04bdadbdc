package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

var (
	ErrLockNotAcquired = errors.New("slot lock not acquired")
	// ErrLeaseLost is returned by Release when the key expired or was
	// taken over before the holder let go of it.
	ErrLeaseLost = errors.New("slot lock lease lost")
)

const defaultLockTTL = 5 * time.Second

// Locker guards the booking of a single (schedule, slot) pair.
type Locker interface {
	WithSlotLock(ctx context.Context, scheduleID, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

// SlotLocker is a SET NX lease per slot. The key holds a random token so
// only the holder can delete it.
type SlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewRedisSlotLocker(client *redis.Client, ttl time.Duration, logger *logging.Logger) *SlotLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SlotLocker{client: client, ttl: ttl, logger: logger}
}

func SlotLockKey(scheduleID, slotID uuid.UUID) string {
	return fmt.Sprintf("lock:slot:%s:%s", scheduleID, slotID)
}

// Lease is a held slot lock.
type Lease struct {
	key    string
	token  string
	client *redis.Client
}

func (l *SlotLocker) Acquire(ctx context.Context, scheduleID, slotID uuid.UUID) (*Lease, error) {
	lease := &Lease{key: SlotLockKey(scheduleID, slotID), token: uuid.NewString(), client: l.client}

	ok, err := l.client.SetNX(ctx, lease.key, lease.token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire slot lock: %w", err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return lease, nil
}

// compare-and-delete; returns 1 when the token still owned the key
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *Lease) Release(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release slot lock: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *SlotLocker) WithSlotLock(ctx context.Context, scheduleID, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	lease, err := l.Acquire(ctx, scheduleID, slotID)
	if err != nil {
		return err
	}
	// The lease must go even when the request context is already cancelled.
	defer func() {
		err := lease.Release(context.WithoutCancel(ctx))
		switch {
		case err == nil:
		case errors.Is(err, ErrLeaseLost):
			l.logger.Warn("slot lock lease lost before release",
				"key", lease.key,
				"ttl", l.ttl.String(),
			)
		default:
			l.logger.Warn("slot lock release failed", "key", lease.key, "error", err)
		}
	}()

	return fn(ctx)
}

// NoopLocker runs fn directly. It is used when Redis is not configured.
type NoopLocker struct{}

func (NoopLocker) WithSlotLock(ctx context.Context, _, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
