package offers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/observability"
)

// RedisCache shares offers between service instances. Searches are kept in
// a list in insertion order and each search owns a set of offer ids. Each
// offer is a JSON string key with a separate consumed marker, removed along
// with the offer on eviction.
type RedisCache struct {
	client *redis.Client
	prefix string
	max    int
}

func NewRedisCache(client *redis.Client, prefix string, maxSearches int) *RedisCache {
	if maxSearches <= 0 {
		maxSearches = DefaultMaxSearches
	}
	if prefix == "" {
		prefix = "etg:offers"
	}
	return &RedisCache{client: client, prefix: prefix, max: maxSearches}
}

func (r *RedisCache) searchesKey() string { return r.prefix + ":searches" }
func (r *RedisCache) searchKey(id string) string { return r.prefix + ":search:" + id }
func (r *RedisCache) offerKey(id string) string { return r.prefix + ":offer:" + id }
func (r *RedisCache) consumedKey(id string) string { return r.prefix + ":consumed:" + id }

// consumedTTL bounds a consumed marker whose offer was never evicted.
const consumedTTL = 24 * time.Hour

// putScript stores one search and evicts the oldest searches past the limit
// in a single step, so concurrent searches never interleave their evictions.
// KEYS: searches list, search set. ARGV: prefix, limit, search id, then
// offer id / JSON pairs.
var putScript = redis.NewScript(`
local prefix, limit, search = ARGV[1], tonumber(ARGV[2]), ARGV[3]
local function drop(id)
  local skey = prefix .. ':search:' .. id
  for _, oid in ipairs(redis.call('SMEMBERS', skey)) do
    redis.call('DEL', prefix .. ':offer:' .. oid, prefix .. ':consumed:' .. oid)
  end
  redis.call('DEL', skey)
end
if redis.call('LREM', KEYS[1], 0, search) > 0 then
  drop(search)
end
for i = 4, #ARGV, 2 do
  redis.call('SET', prefix .. ':offer:' .. ARGV[i], ARGV[i + 1])
  redis.call('SADD', KEYS[2], ARGV[i])
end
redis.call('RPUSH', KEYS[1], search)
while redis.call('LLEN', KEYS[1]) > limit do
  drop(redis.call('LPOP', KEYS[1]))
end
return redis.call('LLEN', KEYS[1])
`)

// consumeScript marks an offer consumed only while the offer itself still
// exists. KEYS: offer, consumed marker. ARGV: marker TTL in seconds.
var consumeScript = redis.NewScript(`
local offer = redis.call('GET', KEYS[1])
if not offer then
  return false
end
if not redis.call('SET', KEYS[2], '1', 'NX', 'EX', ARGV[1]) then
  return false
end
return offer
`)

func (r *RedisCache) Put(ctx context.Context, searchID string, offers []Offer) error {
	args := []any{r.prefix, r.max, searchID}
	for _, o := range offers {
		b, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode offer %s: %w", o.ID, err)
		}
		args = append(args, o.ID, string(b))
	}
	n, err := putScript.Run(ctx, r.client, []string{r.searchesKey(), r.searchKey(searchID)}, args...).Int64()
	if err != nil {
		return fmt.Errorf("cache offers: %w", err)
	}
	observability.OffersCached.Set(float64(n))
	return nil
}

func (r *RedisCache) load(ctx context.Context, offerID string) (Offer, error) {
	b, err := r.client.Get(ctx, r.offerKey(offerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Offer{}, ErrNotFound
	}
	if err != nil {
		return Offer{}, fmt.Errorf("load offer: %w", err)
	}
	var o Offer
	if err := json.Unmarshal(b, &o); err != nil {
		return Offer{}, fmt.Errorf("decode offer: %w", err)
	}
	return o, nil
}

func (r *RedisCache) Get(ctx context.Context, offerID string) (Offer, error) {
	o, err := r.load(ctx, offerID)
	if err != nil {
		return Offer{}, err
	}
	used, err := r.client.Exists(ctx, r.consumedKey(offerID)).Result()
	if err != nil {
		return Offer{}, fmt.Errorf("check offer: %w", err)
	}
	if used > 0 {
		return Offer{}, ErrNotFound
	}
	return o, nil
}

func (r *RedisCache) Consume(ctx context.Context, offerID string) (Offer, error) {
	keys := []string{r.offerKey(offerID), r.consumedKey(offerID)}
	b, err := consumeScript.Run(ctx, r.client, keys, int(consumedTTL/time.Second)).Text()
	if errors.Is(err, redis.Nil) {
		return Offer{}, ErrNotFound
	}
	if err != nil {
		return Offer{}, fmt.Errorf("consume offer: %w", err)
	}
	var o Offer
	if err := json.Unmarshal([]byte(b), &o); err != nil {
		return Offer{}, fmt.Errorf("decode offer: %w", err)
	}
	return o, nil
}

func (r *RedisCache) Release(ctx context.Context, offerID string) error {
	return r.client.Del(ctx, r.consumedKey(offerID)).Err()
}
