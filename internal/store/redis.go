package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mbeoliero/kit/log"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/convsync/internal/config"
	"github.com/mbeoliero/convsync/internal/entity"
	"github.com/mbeoliero/convsync/pkg/constant"
)

// Redis keeps one hash per owner: conversation id -> preview JSON
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisClient initializes a Redis connection from config
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	constant.InitRedisKeyPrefix(cfg.KeyPrefix)
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedis creates a snapshot store. A zero ttl keeps snapshots forever.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func snapshotKey(ownerId string) string {
	return fmt.Sprintf(constant.RedisKeyConversations(), ownerId)
}

// CheckConnection checks if redis is reachable
func (r *Redis) CheckConnection(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		log.CtxError(ctx, "redis ping failed: %v", err)
		return err
	}
	return nil
}

func (r *Redis) Load(ctx context.Context, ownerId string) ([]*entity.ConversationPreview, error) {
	fields, err := r.rdb.HGetAll(ctx, snapshotKey(ownerId)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*entity.ConversationPreview, 0, len(fields))
	for id, raw := range fields {
		var p entity.ConversationPreview
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			log.CtxWarn(ctx, "snapshot decode failed: owner_id=%s, conversation_id=%s, error=%v", ownerId, id, err)
			continue
		}
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationId < out[j].ConversationId })
	return out, nil
}

// Save replaces the owner's snapshot atomically
func (r *Redis) Save(ctx context.Context, ownerId string, previews []*entity.ConversationPreview) error {
	values := make(map[string]any, len(previews))
	for _, p := range previews {
		if p == nil {
			continue
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		values[p.ConversationId] = raw
	}

	key := snapshotKey(ownerId)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) == 0 {
			return nil
		}
		pipe.HSet(ctx, key, values)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	return err
}

func (r *Redis) Clear(ctx context.Context, ownerId string) error {
	return r.rdb.Del(ctx, snapshotKey(ownerId)).Err()
}

// Close closes the underlying client
func (r *Redis) Close() error {
	return r.rdb.Close()
}
