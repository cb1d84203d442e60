package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseLost is returned by Release when the lease expired or was taken
// over by another holder.
var ErrLeaseLost = errors.New("lease not held")

// releaseLeaseScript deletes the key only when the caller still owns it.
var releaseLeaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// JobLease lets one instance at a time run a periodic job. The claim expires
// on its own so a crashed holder never blocks the job for longer than ttl.
type JobLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewJobLease(client *redis.Client, prefix, job string, ttl time.Duration) *JobLease {
	return &JobLease{
		client: client,
		key:    fmt.Sprintf("%s:lease:%s", prefix, job),
		ttl:    ttl,
	}
}

// TryAcquire claims the lease. ok is false when another instance holds it.
// The token identifies this claim and must be handed back to Release.
func (l *JobLease) TryAcquire(ctx context.Context) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *JobLease) Release(ctx context.Context, token string) error {
	n, err := releaseLeaseScript.Run(ctx, l.client, []string{l.key}, token).Int64()
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}
