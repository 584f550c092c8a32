package integration

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache entities invalidated by state changes.
const (
	EntityIntegrations = "integrations"
	EntityPostingQueue = "posting-queue"
)

// InvalidationChannel carries InvalidationEvent payloads.
const InvalidationChannel = "integration.invalidate"

// InvalidationEvent announces that cached views of an entity are stale.
type InvalidationEvent struct {
	TenantID int64  `json:"tenantId"`
	Entity   string `json:"entity"`
	Version  int64  `json:"version"`
}

// Cache is a tenant and entity versioned Redis cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(tenantID int64, entity string) string {
	return strings.Join([]string{"integration", strconv.FormatInt(tenantID, 10), entity, "version"}, ":")
}

// Version returns the entity version for the tenant, starting at 1.
func (c *Cache) Version(ctx context.Context, tenantID int64, entity string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(tenantID, entity)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey(tenantID, entity), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(tenantID, entity)).Int64()
	}
	return ver, err
}

// Key composes a versioned key for the tenant entity view.
func (c *Cache) Key(ctx context.Context, tenantID int64, entity string, parts ...string) (string, error) {
	ver, err := c.Version(ctx, tenantID, entity)
	if err != nil {
		return "", err
	}
	all := append([]string{"integration", strconv.FormatInt(tenantID, 10), entity}, parts...)
	return strings.Join(all, ":") + ":v" + strconv.FormatInt(ver, 10), nil
}

// FetchJSON loads a cached value or fills it with loader. Concurrent misses
// for one key share a single load.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("integration cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	raw, err, _ := c.group.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			return nil, err
		}
		return encoded, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// Invalidate bumps the listed entity versions and publishes one event per entity.
func (c *Cache) Invalidate(ctx context.Context, tenantID int64, entities ...string) error {
	if c == nil || c.client == nil {
		return nil
	}
	for _, entity := range entities {
		ver, err := c.client.Incr(ctx, versionKey(tenantID, entity)).Result()
		if err != nil {
			return err
		}
		payload, err := json.Marshal(InvalidationEvent{TenantID: tenantID, Entity: entity, Version: ver})
		if err != nil {
			return err
		}
		if err := c.client.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe delivers invalidation events to fn until ctx ends.
func (c *Cache) Subscribe(ctx context.Context, fn func(InvalidationEvent)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, InvalidationChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt InvalidationEvent
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				fn(evt)
			}
		}
	}()
	return nil
}

func roundTrip(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
