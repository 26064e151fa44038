package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/oriys/novafn/internal/domain"
)

const (
	cacheKeyPrefix = "novafn:func:"
	cacheListKey   = "novafn:funcs:byname"
)

// getByNameScript performs the name->id->value lookup as a single Redis
// round trip instead of two.
var getByNameScript = redis.NewScript(`
local id = redis.call('HGET', KEYS[1], ARGV[1])
if not id then
    return nil
end
return redis.call('GET', KEYS[2] .. id)
`)

// CachedStore wraps a Store with a Redis read-through cache for Get and
// GetByID; List, SaveCode and GetCode go straight to the backing Store.
// Writes go to both the backing Store and the cache in
// the same call so a cache miss is never the only path to fresh data;
// the cache is a latency optimization, never the source of truth.
type CachedStore struct {
	Store
	client *redis.Client
	ttl    time.Duration
}

// NewCachedStore wraps backing with a cache-aside layer backed by addr.
func NewCachedStore(backing Store, addr, password string, db int, ttl time.Duration) (*CachedStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, domain.NewError(domain.KindBackendUnavailable, "registry.NewCachedStore", "redis ping", err)
	}
	return &CachedStore{Store: backing, client: client, ttl: ttl}, nil
}

func (c *CachedStore) cacheWrite(ctx context.Context, fn *domain.Function) {
	data, err := json.Marshal(fn)
	if err != nil {
		return
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, cacheKeyPrefix+fn.ID, data, c.ttl)
	pipe.HSet(ctx, cacheListKey, fn.Name, fn.ID)
	_, _ = pipe.Exec(ctx)
}

func (c *CachedStore) cacheInvalidate(ctx context.Context, name, id string) {
	pipe := c.client.Pipeline()
	if id != "" {
		pipe.Del(ctx, cacheKeyPrefix+id)
	}
	pipe.HDel(ctx, cacheListKey, name)
	_, _ = pipe.Exec(ctx)
}

func (c *CachedStore) Create(ctx context.Context, fn *domain.Function) error {
	if err := c.Store.Create(ctx, fn); err != nil {
		return err
	}
	c.cacheWrite(ctx, fn)
	return nil
}

func (c *CachedStore) Update(ctx context.Context, fn *domain.Function) error {
	if err := c.Store.Update(ctx, fn); err != nil {
		return err
	}
	c.cacheWrite(ctx, fn)
	return nil
}

func (c *CachedStore) Delete(ctx context.Context, name string) error {
	fn, _ := c.Store.Get(ctx, name)
	if err := c.Store.Delete(ctx, name); err != nil {
		return err
	}
	id := ""
	if fn != nil {
		id = fn.ID
	}
	c.cacheInvalidate(ctx, name, id)
	return nil
}

func (c *CachedStore) Get(ctx context.Context, name string) (*domain.Function, error) {
	result, err := getByNameScript.Run(ctx, c.client, []string{cacheListKey, cacheKeyPrefix}, name).Result()
	if err == nil {
		if data, ok := result.(string); ok {
			var fn domain.Function
			if json.Unmarshal([]byte(data), &fn) == nil {
				return &fn, nil
			}
		}
	}
	fn, err := c.Store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	c.cacheWrite(ctx, fn)
	return fn, nil
}

func (c *CachedStore) GetByID(ctx context.Context, id string) (*domain.Function, error) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+id).Bytes()
	if err == nil {
		var fn domain.Function
		if json.Unmarshal(data, &fn) == nil {
			return &fn, nil
		}
	}
	fn, err := c.Store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cacheWrite(ctx, fn)
	return fn, nil
}

func (c *CachedStore) Close() error { return c.client.Close() }
