package httpapi

import (
	"context"
	"time"

	"crm-platform/pkg/logger"
	"crm-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// StreamLimiter caps concurrent recording streams per org.
type StreamLimiter interface {
	Acquire(ctx context.Context, orgID string) (bool, error)
	Release(ctx context.Context, orgID string)
}

// RedisStreamLimiter shares the cap across replicas.
type RedisStreamLimiter struct {
	Client *redis.Client
	Limit  int
	// TTL bounds a leaked slot when a replica dies mid-stream.
	TTL time.Duration
}

func (l RedisStreamLimiter) Acquire(ctx context.Context, orgID string) (bool, error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return utils.AcquireConcurrencyCap(ctx, l.Client, utils.RecordingStreamKey(orgID), l.Limit, ttl)
}

func (l RedisStreamLimiter) Release(ctx context.Context, orgID string) {
	if err := utils.ReleaseConcurrencyCap(ctx, l.Client, utils.RecordingStreamKey(orgID)); err != nil {
		logger.From(ctx).Warn("recording stream release failed", "org_id", orgID, "err", err)
	}
}
