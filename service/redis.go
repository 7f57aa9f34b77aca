package service

import (
	"context"
	"errors"
	"time"

	"github.com/absconder01/facefilter/config"
	"github.com/redis/go-redis/v9"
)

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// CacheKey 由上传内容 MD5 和增强模式组成缓存键
func CacheKey(md5, profile string) string {
	return "retouch:" + md5 + ":" + profile
}

// GetRetouched 从缓存获取处理后的 JPEG，未命中返回 nil
func (s *RedisService) GetRetouched(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 缓存未命中
		}
		return nil, err
	}
	return data, nil
}

// SetRetouched 写入处理后的 JPEG
func (s *RedisService) SetRetouched(ctx context.Context, key string, jpeg []byte) error {
	return s.client.Set(ctx, key, jpeg, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
