package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/portfolio-intake/internal/core/domain"
)

const keyPrefix = "corroboration:"

type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	TTL      time.Duration
}

type store interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CorroborationCache keeps the last corroboration result per company number.
type CorroborationCache struct {
	client store
	closer func() error
	ttl    time.Duration
}

func New(cfg Config) (*CorroborationCache, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newCache(client, client.Close, cfg.TTL), nil
}

func newCache(client store, closer func() error, ttl time.Duration) *CorroborationCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CorroborationCache{client: client, closer: closer, ttl: ttl}
}

func (c *CorroborationCache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func cacheKey(companyNumber string) string {
	return keyPrefix + strings.ToUpper(strings.TrimSpace(companyNumber))
}

func (c *CorroborationCache) Get(ctx context.Context, companyNumber string) (*domain.CorroborationResult, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(companyNumber)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, domain.WrapError(domain.ErrTemporary, "redis get", err)
	}

	var result domain.CorroborationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached corroboration: %w", err)
	}
	return &result, true, nil
}

func (c *CorroborationCache) Set(ctx context.Context, result domain.CorroborationResult) error {
	if strings.TrimSpace(result.CompanyNumber) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "redis set", errors.New("company number is required"))
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal corroboration: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(result.CompanyNumber), payload, c.ttl).Err(); err != nil {
		return domain.WrapError(domain.ErrTemporary, "redis set", err)
	}
	return nil
}
