package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/tubescribe/tubescribe/internal/config"
)

const keyJobStartUser = "job:start:user:%s"

// JobStartLimiter caps how fast a single user can start transcription jobs.
// A nil limiter (Redis not configured) admits everything, so the core flow
// keeps working without Redis.
type JobStartLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewJobStartLimiter(cfg config.Config) (*JobStartLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.JobStartRate <= 0 || limitCfg.JobStartBurst <= 0 {
		return nil, errors.New("job start rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &JobStartLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.JobStartRate,
		burst:   limitCfg.JobStartBurst,
	}, nil
}

func (l *JobStartLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *JobStartLimiter) AllowUser(ctx context.Context, userID snowflake.ID) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyJobStartUser, userID.String()), l.rate, l.burst)
}
