package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Brownie44l1/leaflens-api/internal/config"
	"github.com/Brownie44l1/leaflens-api/internal/model"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store caches analyses by image MD5 and language.
type Store interface {
	GetAnalysis(ctx context.Context, md5, lang string) (*model.Analysis, error)
	SetAnalysis(ctx context.Context, md5, lang string, result *model.Analysis) error
	Close() error
}

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisStore(cfg *config.RedisConfig, log *zap.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{
		client: client,
		ttl:    cfg.TTL,
		log:    log,
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func Key(md5, lang string) string {
	return fmt.Sprintf("analysis:%s:%s", md5, lang)
}

// GetAnalysis returns nil, nil on a cache miss.
func (s *RedisStore) GetAnalysis(ctx context.Context, md5, lang string) (*model.Analysis, error) {
	data, err := s.client.Get(ctx, Key(md5, lang)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var result model.Analysis
	if err := json.Unmarshal(data, &result); err != nil {
		s.log.Error("failed to unmarshal cached analysis",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}

	return &result, nil
}

func (s *RedisStore) SetAnalysis(ctx context.Context, md5, lang string, result *model.Analysis) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, Key(md5, lang), data, s.ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Nop is used when redis is disabled or unreachable.
type Nop struct{}

func (Nop) GetAnalysis(context.Context, string, string) (*model.Analysis, error) { return nil, nil }
func (Nop) SetAnalysis(context.Context, string, string, *model.Analysis) error   { return nil }
func (Nop) Close() error                                                         { return nil }
