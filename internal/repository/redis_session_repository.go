package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/user-auth-service/internal/utils"
)

// rotateScript swaps the stored digest only while it still equals the
// presented one.  Returns 1 on swap, 0 otherwise.
var rotateScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current or current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', tonumber(ARGV[3]))
return 1
`)

// RedisSessionRepo keeps live refresh-token digests in Redis under
// "<prefix>:session:<identityID>".  Keys expire with the refresh TTL, so an
// abandoned session disappears on its own.
type RedisSessionRepo struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisSessionRepo(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisSessionRepo {
	if prefix == "" {
		prefix = "auth"
	}
	return &RedisSessionRepo{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisSessionRepo) key(identityID string) string {
	return r.prefix + ":session:" + identityID
}

func (r *RedisSessionRepo) Store(ctx context.Context, identityID, refreshToken string) error {
	return r.rdb.Set(ctx, r.key(identityID), utils.HashRefreshRaw(refreshToken), r.ttl).Err()
}

func (r *RedisSessionRepo) Clear(ctx context.Context, identityID string) error {
	return r.rdb.Del(ctx, r.key(identityID)).Err()
}

func (r *RedisSessionRepo) Matches(ctx context.Context, identityID, candidate string) (bool, error) {
	stored, err := r.rdb.Get(ctx, r.key(identityID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == utils.HashRefreshRaw(candidate), nil
}

// Rotate runs the compare-and-swap server side, so it is atomic across
// replicas of this service.
func (r *RedisSessionRepo) Rotate(ctx context.Context, identityID, presented, next string) (bool, error) {
	n, err := rotateScript.Run(ctx, r.rdb, []string{r.key(identityID)},
		utils.HashRefreshRaw(presented), utils.HashRefreshRaw(next), r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
