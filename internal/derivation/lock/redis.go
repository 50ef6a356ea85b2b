package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"conformo/pkg/domain"
)

// DefaultTTL caps how long a crashed node can hold a company's lock.
const DefaultTTL = 2 * time.Minute

// Redis implements RunLock across nodes with SET NX and a TTL so a crashed
// holder cannot wedge a company forever.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, companyID domain.CompanyID) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(companyID), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, companyID domain.CompanyID) error {
	if err := r.client.Del(ctx, r.key(companyID)).Err(); err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}

func (r *Redis) key(companyID domain.CompanyID) string {
	return "conformo:derivation:lock:" + string(companyID)
}
