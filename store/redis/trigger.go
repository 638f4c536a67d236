package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// PushTrigger enqueues a dispatch trigger for the group. A Set guards the
// List so at most one trigger per group is queued at a time; the
// coordinator re-issues triggers every scan while a group has open work,
// so a suppressed push loses nothing.
func (s *Store) PushTrigger(ctx context.Context, group string) error {
	added, err := s.client.SAdd(ctx, triggerSetKey, group).Result()
	if err != nil {
		return fmt.Errorf("stride/redis: push trigger sadd: %w", err)
	}
	if added == 0 {
		return nil // already queued
	}
	if err := s.client.LPush(ctx, triggerListKey, group).Err(); err != nil {
		return fmt.Errorf("stride/redis: push trigger lpush: %w", err)
	}
	return nil
}

// PopTrigger blocks up to timeout for the next trigger. It returns an
// empty group name when the timeout elapses with nothing queued.
func (s *Store) PopTrigger(ctx context.Context, timeout time.Duration) (string, error) {
	vals, err := s.client.BRPop(ctx, timeout, triggerListKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("stride/redis: pop trigger: %w", err)
	}
	// BRPop returns [key, value].
	group := vals[1]
	if err := s.client.SRem(ctx, triggerSetKey, group).Err(); err != nil {
		return "", fmt.Errorf("stride/redis: pop trigger srem: %w", err)
	}
	return group, nil
}
