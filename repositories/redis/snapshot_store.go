// Package redis implements SnapshotStore on Redis.
//
// Each generation is a plain string key holding the JSON snapshot. A sorted
// set indexes the generations with the marker as score, so the newest
// generation is the highest score and purging is a range removal.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rl337/authface/models"
	"github.com/rl337/authface/repositories"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces every key written by the store
const DefaultKeyPrefix = "authface:"

// Config holds connection settings for NewSnapshotStore
type Config struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SnapshotStore persists snapshots to Redis
type SnapshotStore struct {
	client    goredis.UniversalClient
	keyPrefix string
	clock     *repositories.GenerationClock
	logger    *zap.Logger
}

// NewSnapshotStore connects to Redis and verifies the connection
func NewSnapshotStore(ctx context.Context, cfg Config, logger *zap.Logger) (*SnapshotStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connection established", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return NewSnapshotStoreWithClient(client, cfg.KeyPrefix, nil, logger), nil
}

// NewSnapshotStoreWithClient creates a store around an existing client.
// This is useful for testing with miniredis.
func NewSnapshotStoreWithClient(client goredis.UniversalClient, keyPrefix string, now func() time.Time, logger *zap.Logger) *SnapshotStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{
		client:    client,
		keyPrefix: keyPrefix,
		clock:     repositories.NewGenerationClock(now),
		logger:    logger,
	}
}

// Close closes the Redis client connection
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity
func (s *SnapshotStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *SnapshotStore) indexKey() string {
	return s.keyPrefix + "sessions:generations"
}

func (s *SnapshotStore) generationKey(marker int64) string {
	return s.keyPrefix + "sessions:" + strconv.FormatInt(marker, 10)
}

// Store writes the snapshot and its index entry in one transaction
func (s *SnapshotStore) Store(ctx context.Context, snapshot models.Snapshot) (int64, error) {
	payload, err := repositories.EncodeSnapshot(snapshot)
	if err != nil {
		return 0, err
	}

	if err := s.syncClock(ctx); err != nil {
		return 0, err
	}
	marker := s.clock.Next()

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.generationKey(marker), payload, 0)
		pipe.ZAdd(ctx, s.indexKey(), goredis.Z{Score: float64(marker), Member: marker})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to store snapshot generation %d: %w", marker, err)
	}

	s.logger.Debug("session snapshot stored",
		zap.Int64("generation", marker),
		zap.Int("sessions", len(snapshot)))
	return marker, nil
}

// Load reads the generation with the highest marker
func (s *SnapshotStore) Load(ctx context.Context) (models.Snapshot, error) {
	members, err := s.client.ZRevRange(ctx, s.indexKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot index: %w", err)
	}
	if len(members) == 0 {
		return nil, repositories.ErrNoSnapshot
	}

	marker, err := strconv.ParseInt(members[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt snapshot index member %q: %w", members[0], err)
	}
	s.clock.Observe(marker)

	data, err := s.client.Get(ctx, s.generationKey(marker)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("snapshot generation %d is indexed but missing", marker)
		}
		return nil, fmt.Errorf("failed to read snapshot generation %d: %w", marker, err)
	}

	return repositories.DecodeSnapshot(data)
}

// PurgeOlderThan removes generations whose marker is older than age
func (s *SnapshotStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-age).UnixMicro()
	upper := "(" + strconv.FormatInt(cutoff, 10)

	members, err := s.client.ZRangeByScore(ctx, s.indexKey(), &goredis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list old snapshot generations: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(members))
	indexMembers := make([]interface{}, 0, len(members))
	for _, m := range members {
		marker, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			s.logger.Warn("skipping corrupt snapshot index member", zap.String("member", m))
			continue
		}
		keys = append(keys, s.generationKey(marker))
		indexMembers = append(indexMembers, m)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.ZRem(ctx, s.indexKey(), indexMembers...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge snapshot generations: %w", err)
	}

	return len(keys), nil
}

// syncClock raises the generation clock above the newest stored marker so
// generations stay ordered across restarts.
func (s *SnapshotStore) syncClock(ctx context.Context) error {
	newest, err := s.client.ZRevRangeWithScores(ctx, s.indexKey(), 0, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to read snapshot index: %w", err)
	}
	if len(newest) > 0 {
		s.clock.Observe(int64(newest[0].Score))
	}
	return nil
}
