package participant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/draftea/pizza-saga/shared/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// KEYS[1]: record hash, KEYS[2]: creation-ordered index, KEYS[3]: sequence
// ARGV[1]: version, ARGV[2]: json record, ARGV[3]: order id
var createIfAbsentScript = redis.NewScript(`
if redis.call('exists', KEYS[1]) == 1 then
    return 0
end
redis.call('hset', KEYS[1], 'version', ARGV[1], 'data', ARGV[2])
redis.call('zadd', KEYS[2], redis.call('incr', KEYS[3]), ARGV[3])
return 1
`)

// KEYS[1]: record hash
// ARGV[1]: expected stored version, ARGV[2]: new version, ARGV[3]: json record
var compareAndSwapScript = redis.NewScript(`
local current = redis.call('hget', KEYS[1], 'version')
if not current then
    return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
    return 0
end
redis.call('hset', KEYS[1], 'version', ARGV[2], 'data', ARGV[3])
return 1
`)

// RedisRepository stores each aggregate as a hash keyed by order id. Both writes run
// as Lua scripts so the existence and version checks are atomic with the write.
type RedisRepository[A Aggregate[A]] struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRepository namespaces keys as <prefix>:<name>.
func NewRedisRepository[A Aggregate[A]](client redis.UniversalClient, prefix, name string) *RedisRepository[A] {
	return &RedisRepository[A]{
		client: client,
		prefix: fmt.Sprintf("%s:%s", prefix, name),
	}
}

func (r *RedisRepository[A]) recordKey(orderID models.ID) string {
	return fmt.Sprintf("%s:order:{%s}", r.prefix, orderID)
}

func (r *RedisRepository[A]) indexKey() string {
	return r.prefix + ":orders"
}

func (r *RedisRepository[A]) sequenceKey() string {
	return r.prefix + ":seq"
}

func (r *RedisRepository[A]) FindByOrderID(ctx context.Context, orderID models.ID) (A, error) {
	var agg A

	data, err := r.client.HGet(ctx, r.recordKey(orderID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return agg, ErrNotFound
		}
		return agg, errors.Wrap(err, "failed to read record from redis")
	}

	if err := json.Unmarshal(data, &agg); err != nil {
		return agg, errors.Wrap(err, "failed to decode record")
	}
	return agg, nil
}

func (r *RedisRepository[A]) FindAll(ctx context.Context) ([]A, error) {
	orderIDs, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read record index")
	}
	if len(orderIDs) == 0 {
		return []A{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(orderIDs))
	for i, orderID := range orderIDs {
		cmds[i] = pipe.HGet(ctx, r.recordKey(models.ID(orderID)), "data")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, errors.Wrap(err, "failed to read records")
	}

	all := make([]A, 0, len(cmds))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var agg A
		if err := json.Unmarshal(data, &agg); err != nil {
			return nil, errors.Wrap(err, "failed to decode record")
		}
		all = append(all, agg)
	}
	return all, nil
}

func (r *RedisRepository[A]) CreateIfAbsent(ctx context.Context, agg A) (A, bool, error) {
	data, err := json.Marshal(agg)
	if err != nil {
		return agg, false, errors.Wrap(err, "failed to encode record")
	}

	orderID := agg.GetOrderID()
	created, err := createIfAbsentScript.Run(ctx, r.client,
		[]string{r.recordKey(orderID), r.indexKey(), r.sequenceKey()},
		agg.CurrentVersion(), data, orderID.String(),
	).Int()
	if err != nil {
		return agg, false, errors.Wrap(err, "failed to create record")
	}

	if created == 1 {
		return agg.Clone(), true, nil
	}

	stored, err := r.FindByOrderID(ctx, orderID)
	if err != nil {
		return agg, false, err
	}
	return stored, false, nil
}

func (r *RedisRepository[A]) Update(ctx context.Context, agg A) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return errors.Wrap(err, "failed to encode record")
	}

	res, err := compareAndSwapScript.Run(ctx, r.client,
		[]string{r.recordKey(agg.GetOrderID())},
		agg.CurrentVersion()-1, agg.CurrentVersion(), data,
	).Int()
	if err != nil {
		return errors.Wrap(err, "failed to update record")
	}

	switch res {
	case 1:
		return nil
	case 0:
		return ErrConcurrentUpdate
	default:
		return ErrNotFound
	}
}
