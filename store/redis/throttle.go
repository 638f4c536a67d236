package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/martingalian/stride/throttle"
)

// Throttle state is shared by every worker behind the same egress IP, so
// these keys live in Redis rather than process memory. Usage counters
// expire after two intervals; a stale counter is as good as none.

// LastRequest returns when the last request for the API system was sent.
func (s *Store) LastRequest(ctx context.Context, apiSystem string) (time.Time, error) {
	v, err := s.client.Get(ctx, lastRequestKey(apiSystem)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("stride/redis: last request: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("stride/redis: parse last request: %w", err)
	}
	return t, nil
}

// TouchRequest records that a request is being sent now.
func (s *Store) TouchRequest(ctx context.Context, apiSystem string, at time.Time) error {
	err := s.client.Set(ctx, lastRequestKey(apiSystem), at.UTC().Format(time.RFC3339Nano), 0).Err()
	if err != nil {
		return fmt.Errorf("stride/redis: touch request: %w", err)
	}
	return nil
}

// Usage returns the most recently observed counter for the key.
func (s *Store) Usage(ctx context.Context, apiSystem, limitType string, interval time.Duration) (throttle.Sample, error) {
	vals, err := s.client.HGetAll(ctx, usageKey(apiSystem, limitType, interval)).Result()
	if err != nil {
		return throttle.Sample{}, fmt.Errorf("stride/redis: usage: %w", err)
	}
	if len(vals) == 0 {
		return throttle.Sample{}, nil
	}

	value, _ := strconv.ParseInt(vals["value"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	at, _ := time.Parse(time.RFC3339Nano, vals["at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	return throttle.Sample{Value: value, At: at, OK: true}, nil
}

// SetUsage stores an exchange-reported counter for the key.
func (s *Store) SetUsage(ctx context.Context, apiSystem, limitType string, interval time.Duration, value int64, at time.Time) error {
	key := usageKey(apiSystem, limitType, interval)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"value", strconv.FormatInt(value, 10),
		"at", at.UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, 2*interval)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stride/redis: set usage: %w", err)
	}
	return nil
}
