package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pacerhq/pacer/internal/coach"
)

const (
	recordPrefix = "pacer:state:"
	activeKey    = "pacer:state:active"
	linkPrefix   = "pacer:link:"
)

// Redis stores records as JSON blobs, one key per identity.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(redisURL string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis connected")
	return &Redis{rdb: rdb, logger: logger}, nil
}

func recordKey(identity string) string { return recordPrefix + identity }

func linkKey(platform, userID string) string { return linkPrefix + platform + ":" + userID }

func (r *Redis) loadRecord(ctx context.Context, identity string) (*coach.Record, error) {
	data, err := r.rdb.Get(ctx, recordKey(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	var rec coach.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

func (r *Redis) persistRecord(ctx context.Context, identity string, rec *coach.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := r.rdb.Set(ctx, recordKey(identity), data, 0).Err(); err != nil {
		return fmt.Errorf("set record: %w", err)
	}
	return nil
}

func (r *Redis) GetProfile(ctx context.Context, identity string) (*coach.Profile, error) {
	rec, err := r.loadRecord(ctx, identity)
	if err != nil || rec == nil {
		return nil, err
	}
	return &rec.Profile, nil
}

func (r *Redis) UpsertProfile(ctx context.Context, identity string, mutate func(*coach.Profile)) (*coach.Profile, error) {
	now := time.Now().UTC()
	rec, err := r.loadRecord(ctx, identity)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &coach.Record{Profile: *coach.NewProfile(identity, now)}
	}
	if mutate != nil {
		mutate(&rec.Profile)
	}
	rec.Profile.UpdatedAt = now
	if err := r.persistRecord(ctx, identity, rec); err != nil {
		return nil, err
	}
	return &rec.Profile, nil
}

func (r *Redis) EnsureActive(ctx context.Context, identity string) error {
	rec, err := r.loadRecord(ctx, identity)
	if err != nil {
		return err
	}
	if rec == nil {
		fresh := &coach.Record{Profile: *coach.NewProfile(identity, time.Now().UTC())}
		if err := r.persistRecord(ctx, identity, fresh); err != nil {
			return err
		}
	}
	if err := r.rdb.Set(ctx, activeKey, identity, 0).Err(); err != nil {
		return fmt.Errorf("set active identity: %w", err)
	}
	return nil
}

func (r *Redis) ActiveIdentity(ctx context.Context) (string, error) {
	identity, err := r.rdb.Get(ctx, activeKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get active identity: %w", err)
	}
	return identity, nil
}

func (r *Redis) GetUsage(ctx context.Context, identity string) (*coach.UsageWindow, error) {
	rec, err := r.loadRecord(ctx, identity)
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Usage, nil
}

func (r *Redis) PutUsage(ctx context.Context, identity string, w coach.UsageWindow) error {
	rec, err := r.loadRecord(ctx, identity)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &coach.Record{Profile: *coach.NewProfile(identity, time.Now().UTC())}
	}
	rec.Usage = &w
	return r.persistRecord(ctx, identity, rec)
}

func (r *Redis) BindIdentity(ctx context.Context, platform, userID, identity string) error {
	if err := r.rdb.Set(ctx, linkKey(platform, userID), identity, 0).Err(); err != nil {
		return fmt.Errorf("set binding: %w", err)
	}
	return nil
}

func (r *Redis) ResolveBinding(ctx context.Context, platform, userID string) (string, error) {
	identity, err := r.rdb.Get(ctx, linkKey(platform, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get binding: %w", err)
	}
	return identity, nil
}

func (r *Redis) Unbind(ctx context.Context, platform, userID string) error {
	if err := r.rdb.Del(ctx, linkKey(platform, userID)).Err(); err != nil {
		return fmt.Errorf("delete binding: %w", err)
	}
	return nil
}

// Close shuts down the Redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
