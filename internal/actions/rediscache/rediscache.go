// Package rediscache implements get/set/del/incr operations against
// Redis. Grounded on internal/platform/cache/redis.go's
// Get/Set/Delete/Increment methods (JSON marshal on write, JSON
// unmarshal on read, redis.Nil mapped to a cache-miss value rather than
// an error) and its buildKey prefixing, reworked into a stateless
// action holding a shared *redis.Client instead of the teacher's
// RedisCache wrapper type. Library: github.com/redis/go-redis/v9.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prana-run/prana/internal/action"
	"github.com/redis/go-redis/v9"
)

// Action runs one Redis operation per invocation against a shared client.
type Action struct {
	action.NopPrepare
	action.NopResume

	Client *redis.Client
}

func (a Action) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	key, _ := rendered["key"].(string)
	if key == "" {
		return action.Result{}, fmt.Errorf("rediscache: key is required")
	}

	var (
		result map[string]interface{}
		err    error
	)
	switch op, _ := rendered["operation"].(string); op {
	case "get", "":
		result, err = a.get(ctx, key)
	case "set":
		result, err = a.set(ctx, key, rendered)
	case "del":
		result, err = a.del(ctx, key)
	case "incr":
		result, err = a.incr(ctx, key, rendered)
	default:
		return action.Result{}, fmt.Errorf("rediscache: unknown operation %q", rendered["operation"])
	}
	if err != nil {
		return action.Result{}, fmt.Errorf("rediscache: %w", err)
	}
	return action.Completed(result), nil
}

func (a Action) get(ctx context.Context, key string) (map[string]interface{}, error) {
	val, err := a.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]interface{}{"found": false, "value": nil}, nil
	}
	if err != nil {
		return nil, err
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(val), &decoded); err != nil {
		decoded = val
	}
	return map[string]interface{}{"found": true, "value": decoded}, nil
}

func (a Action) set(ctx context.Context, key string, rendered map[string]interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(rendered["value"])
	if err != nil {
		return nil, fmt.Errorf("marshaling value: %w", err)
	}

	var ttl time.Duration
	if seconds, ok := rendered["ttl_seconds"].(float64); ok {
		ttl = time.Duration(seconds) * time.Second
	}

	if err := a.Client.Set(ctx, key, data, ttl).Err(); err != nil {
		return nil, err
	}
	return map[string]interface{}{"set": true}, nil
}

func (a Action) del(ctx context.Context, key string) (map[string]interface{}, error) {
	deleted, err := a.Client.Del(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": deleted}, nil
}

func (a Action) incr(ctx context.Context, key string, rendered map[string]interface{}) (map[string]interface{}, error) {
	amount, ok := rendered["amount"].(float64)
	if !ok || amount == 1 {
		val, err := a.Client.Incr(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"value": val}, nil
	}
	val, err := a.Client.IncrBy(ctx, key, int64(amount)).Result()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"value": val}, nil
}

// Register adds the Redis cache action under the "redis" integration.
func Register(r *action.Registry, client *redis.Client) error {
	return r.Register(action.Descriptor{
		IntegrationName: "redis",
		ActionName:      "cache",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success"},
		Action:          Action{Client: client},
	})
}
