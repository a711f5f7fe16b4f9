// Package analytics writes per-cohort counters to Redis as a best-effort
// side channel. Counters live in time-bucketed keys so dashboards can graph
// creation, delivery and conversion volume without touching the record store.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	// Window is the bucket width for counter keys.
	Window time.Duration
	// Retention is how long a bucket key survives after its last increment.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:    time.Hour,
		Retention: 30 * 24 * time.Hour,
	}
}

type RedisSink struct {
	client *redis.Client
	config Config
	clock  func() time.Time
}

func NewRedisSink(client *redis.Client, config Config) *RedisSink {
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}
	return &RedisSink{
		client: client,
		config: config,
		clock:  time.Now,
	}
}

func (s *RedisSink) ExperimentCreated(ctx context.Context, cohort string) {
	s.incr(ctx, s.key("created", cohort))
}

func (s *RedisSink) ConversionRecorded(ctx context.Context, cohort string) {
	s.incr(ctx, s.key("converted", cohort))
}

func (s *RedisSink) MessageDelivered(ctx context.Context, cohort, channel string) {
	s.incr(ctx, s.key("delivered", cohort+":"+channel))
}

// incr bumps a bucket counter and refreshes its TTL. Failures are logged
// and swallowed; the calling flow must never stall on analytics.
func (s *RedisSink) incr(ctx context.Context, key string) {
	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline failed for %s: %v", key, err)
	}
}

func (s *RedisSink) key(metric, dims string) string {
	bucket := truncateToBucket(s.clock(), s.config.Window)
	return fmt.Sprintf("stagexp:%s:%s:%s", metric, dims, bucket)
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
