package rollback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/newtdeploy/pkg/model"
	"github.com/newtron-network/newtdeploy/pkg/util"
)

// RedisTable is the table prefix of rollback hashes ("ROLLBACK|<key>").
const RedisTable = "ROLLBACK"

// RedisStore keeps each rollback as a hash keyed ROLLBACK|<key>.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr/db and pings it.
func NewRedisStore(ctx context.Context, addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func redisKey(key string) string {
	return RedisTable + "|" + key
}

func (s *RedisStore) Put(ctx context.Context, key string, rc *model.RollbackConfig) error {
	fields, err := encodeFields(rc)
	if err != nil {
		return fmt.Errorf("encoding rollback %s: %w", key, err)
	}

	// Replace the hash atomically so stale fields never survive.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisKey(key))
	pipe.HSet(ctx, redisKey(key), fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing rollback %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*model.RollbackConfig, error) {
	vals, err := s.client.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading rollback %s: %w", key, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("rollback %s: %w", key, util.ErrNotFound)
	}
	return decodeFields(vals)
}

func (s *RedisStore) List(ctx context.Context) ([]*model.RollbackConfig, error) {
	keys, err := scanKeys(ctx, s.client, RedisTable+"|*", 100)
	if err != nil {
		return nil, err
	}
	out := make([]*model.RollbackConfig, 0, len(keys))
	for _, k := range keys {
		rc, err := s.Get(ctx, strings.TrimPrefix(k, RedisTable+"|"))
		if err != nil {
			util.Warnf("rollback: skipping %s: %v", k, err)
			continue
		}
		out = append(out, rc)
	}
	sortByCreated(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, redisKey(key)).Err()
}

func encodeFields(rc *model.RollbackConfig) (map[string]interface{}, error) {
	cmds, err := json.Marshal(rc.Commands)
	if err != nil {
		return nil, err
	}
	devCmds, err := json.Marshal(rc.DeviceCommands)
	if err != nil {
		return nil, err
	}
	meta, err := json.Marshal(rc.Metadata)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"deployment_id":      rc.DeploymentID,
		"original_config_id": rc.OriginalConfigID,
		"kind":               string(rc.Kind),
		"created_at":         rc.CreatedAt.UTC().Format(time.RFC3339Nano),
		"commands":           string(cmds),
		"device_commands":    string(devCmds),
		"metadata":           string(meta),
	}, nil
}

func decodeFields(vals map[string]string) (*model.RollbackConfig, error) {
	rc := &model.RollbackConfig{
		DeploymentID:     vals["deployment_id"],
		OriginalConfigID: vals["original_config_id"],
		Kind:             model.RollbackKind(vals["kind"]),
	}
	if ts := vals["created_at"]; ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", ts, err)
		}
		rc.CreatedAt = t
	}
	for field, dst := range map[string]interface{}{
		"commands":        &rc.Commands,
		"device_commands": &rc.DeviceCommands,
		"metadata":        &rc.Metadata,
	} {
		if raw := vals[field]; raw != "" && raw != "null" {
			if err := json.Unmarshal([]byte(raw), dst); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", field, err)
			}
		}
	}
	return rc, nil
}

// scanKeys uses SCAN so large keyspaces never block the server.
func scanKeys(ctx context.Context, client *redis.Client, pattern string, countHint int64) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, countHint).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
