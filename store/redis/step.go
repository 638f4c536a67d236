package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/martingalian/stride"
	"github.com/martingalian/stride/id"
	"github.com/martingalian/stride/step"
)

// transitionScript compares the stored state against the expected one and
// rewrites it in a single atomic call. Returns -1 when the step is
// missing, 0 when the precondition fails, 1 on success.
var transitionScript = goredis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then return -1 end
if state ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'updated_at', ARGV[3])
return 1
`)

// CreateStep stores the step as a Hash and indexes it by group and block.
func (s *Store) CreateStep(ctx context.Context, st *step.Step) error {
	sID := st.ID.String()
	key := stepKey(sID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("stride/redis: create check exists: %w", err)
	}
	if exists > 0 {
		return stride.ErrStepAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, stepToMap(st))
	pipe.SAdd(ctx, stepIDsKey, sID)
	pipe.SAdd(ctx, groupKey(st.Group), sID)
	pipe.SAdd(ctx, groupsKey, st.Group)
	if st.BlockUUID != uuid.Nil {
		pipe.SAdd(ctx, blockKey(st.BlockUUID), sID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stride/redis: create step: %w", err)
	}
	return nil
}

// GetStep retrieves a step by ID.
func (s *Store) GetStep(ctx context.Context, stepID id.StepID) (*step.Step, error) {
	return s.getStepByKey(ctx, stepKey(stepID.String()))
}

// UpdateStep persists changes to an existing step.
func (s *Store) UpdateStep(ctx context.Context, st *step.Step) error {
	key := stepKey(st.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("stride/redis: update check exists: %w", err)
	}
	if exists == 0 {
		return stride.ErrStepNotFound
	}

	fields := stepToMap(st)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	if _, err := s.client.HSet(ctx, key, fields).Result(); err != nil {
		return fmt.Errorf("stride/redis: update step: %w", err)
	}
	return nil
}

// TransitionStep atomically moves a step between states. The compare-and-
// set runs server-side so concurrent workers cannot both claim the step.
func (s *Store) TransitionStep(ctx context.Context, stepID id.StepID, from, to step.State) (bool, error) {
	if !step.CanTransition(from, to) {
		return false, fmt.Errorf("%w: %s -> %s", stride.ErrInvalidTransition, from, to)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := transitionScript.Run(ctx, s.client,
		[]string{stepKey(stepID.String())},
		string(from), string(to), now,
	).Int()
	if err != nil {
		return false, fmt.Errorf("stride/redis: transition step: %w", err)
	}
	switch res {
	case -1:
		return false, stride.ErrStepNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

// ListBlockSteps returns every step sharing the block uuid, ordered by
// Index ascending.
func (s *Store) ListBlockSteps(ctx context.Context, block uuid.UUID) ([]*step.Step, error) {
	ids, err := s.client.SMembers(ctx, blockKey(block)).Result()
	if err != nil {
		return nil, fmt.Errorf("stride/redis: list block smembers: %w", err)
	}

	steps := make([]*step.Step, 0, len(ids))
	for _, sID := range ids {
		st, getErr := s.getStepByKey(ctx, stepKey(sID))
		if getErr != nil {
			continue // skip missing
		}
		steps = append(steps, st)
	}

	sort.Slice(steps, func(i, j int) bool {
		if steps[i].Index != steps[j].Index {
			return steps[i].Index < steps[j].Index
		}
		return steps[i].CreatedAt.Before(steps[j].CreatedAt)
	})
	return steps, nil
}

// ListGroupSteps returns the group's non-terminal steps, ordered by Index
// then DispatchAfter.
func (s *Store) ListGroupSteps(ctx context.Context, group string) ([]*step.Step, error) {
	ids, err := s.client.SMembers(ctx, groupKey(group)).Result()
	if err != nil {
		return nil, fmt.Errorf("stride/redis: list group smembers: %w", err)
	}

	steps := make([]*step.Step, 0, len(ids))
	for _, sID := range ids {
		st, getErr := s.getStepByKey(ctx, stepKey(sID))
		if getErr != nil {
			continue
		}
		if step.Terminal(st.State) {
			continue
		}
		steps = append(steps, st)
	}

	sort.Slice(steps, func(i, j int) bool {
		if steps[i].Index != steps[j].Index {
			return steps[i].Index < steps[j].Index
		}
		return steps[i].DispatchAfter.Before(steps[j].DispatchAfter)
	})
	return steps, nil
}

// ActiveGroups returns the distinct groups with at least one non-terminal
// step.
func (s *Store) ActiveGroups(ctx context.Context) ([]string, error) {
	groups, err := s.client.SMembers(ctx, groupsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("stride/redis: active groups smembers: %w", err)
	}

	var active []string
	for _, g := range groups {
		ids, getErr := s.client.SMembers(ctx, groupKey(g)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("stride/redis: active groups members: %w", getErr)
		}
		for _, sID := range ids {
			state, hErr := s.client.HGet(ctx, stepKey(sID), "state").Result()
			if hErr != nil {
				continue
			}
			if !step.Terminal(step.State(state)) {
				active = append(active, g)
				break
			}
		}
	}
	sort.Strings(active)
	return active, nil
}

// CountSteps returns the number of steps matching the given options.
func (s *Store) CountSteps(ctx context.Context, opts step.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, stepIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("stride/redis: count smembers: %w", err)
	}

	var count int64
	for _, sID := range ids {
		st, getErr := s.getStepByKey(ctx, stepKey(sID))
		if getErr != nil {
			continue
		}
		if opts.Group != "" && st.Group != opts.Group {
			continue
		}
		if opts.State != "" && st.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

func (s *Store) getStepByKey(ctx context.Context, key string) (*step.Step, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("stride/redis: get step: %w", err)
	}
	if len(vals) == 0 {
		return nil, stride.ErrStepNotFound
	}
	return mapToStep(vals)
}

func stepToMap(st *step.Step) map[string]interface{} {
	m := map[string]interface{}{
		"id":               st.ID.String(),
		"class":            st.Class,
		"arguments":        string(st.Arguments),
		"state":            string(st.State),
		"queue":            st.Queue,
		"group":            st.Group,
		"dispatch_after":   st.DispatchAfter.Format(time.RFC3339Nano),
		"retries":          strconv.Itoa(st.Retries),
		"max_retries":      strconv.Itoa(st.MaxRetries),
		"double_check":     strconv.Itoa(st.DoubleCheck),
		"execution_mode":   string(st.ExecMode),
		"timeout":          strconv.FormatInt(int64(st.Timeout), 10),
		"block_uuid":       st.BlockUUID.String(),
		"child_block_uuid": st.ChildBlockUUID.String(),
		"index":            strconv.Itoa(st.Index),
		"type":             string(st.Type),
		"response":         string(st.Response),
		"error_message":    st.ErrorMessage,
		"error_stack":      st.ErrorStackTrace,
		"duration":         strconv.FormatInt(int64(st.Duration), 10),
		"created_at":       st.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       st.UpdatedAt.Format(time.RFC3339Nano),
	}
	if st.StartedAt != nil {
		m["started_at"] = st.StartedAt.Format(time.RFC3339Nano)
	}
	if st.CompletedAt != nil {
		m["completed_at"] = st.CompletedAt.Format(time.RFC3339Nano)
	}
	if st.Relatable != nil {
		b, _ := json.Marshal(st.Relatable) //nolint:errcheck // two plain strings
		m["relatable"] = string(b)
	}
	return m
}

func mapToStep(m map[string]string) (*step.Step, error) {
	sID, err := id.ParseStepID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("stride/redis: parse step id: %w", err)
	}

	retries, _ := strconv.Atoi(m["retries"])               //nolint:errcheck // best-effort parse from trusted Redis data
	maxRetries, _ := strconv.Atoi(m["max_retries"])        //nolint:errcheck // best-effort parse from trusted Redis data
	doubleCheck, _ := strconv.Atoi(m["double_check"])      //nolint:errcheck // best-effort parse from trusted Redis data
	index, _ := strconv.Atoi(m["index"])                   //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)   //nolint:errcheck // best-effort parse from trusted Redis data
	duration, _ := strconv.ParseInt(m["duration"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data

	dispatchAfter, _ := time.Parse(time.RFC3339Nano, m["dispatch_after"]) //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])         //nolint:errcheck // best-effort parse from trusted Redis data

	blockUUID, _ := uuid.Parse(m["block_uuid"])            //nolint:errcheck // best-effort parse from trusted Redis data
	childBlockUUID, _ := uuid.Parse(m["child_block_uuid"]) //nolint:errcheck // best-effort parse from trusted Redis data

	st := &step.Step{
		Entity: stride.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:              sID,
		Class:           m["class"],
		Arguments:       rawJSON(m["arguments"]),
		State:           step.State(m["state"]),
		Queue:           m["queue"],
		Group:           m["group"],
		DispatchAfter:   dispatchAfter,
		Retries:         retries,
		MaxRetries:      maxRetries,
		DoubleCheck:     doubleCheck,
		ExecMode:        step.ExecMode(m["execution_mode"]),
		Timeout:         time.Duration(timeout),
		BlockUUID:       blockUUID,
		ChildBlockUUID:  childBlockUUID,
		Index:           index,
		Type:            step.Type(m["type"]),
		Response:        rawJSON(m["response"]),
		ErrorMessage:    m["error_message"],
		ErrorStackTrace: m["error_stack"],
		Duration:        time.Duration(duration),
	}

	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		st.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		st.CompletedAt = &t
	}
	if v := m["relatable"]; v != "" {
		var ref step.Ref
		if json.Unmarshal([]byte(v), &ref) == nil {
			st.Relatable = &ref
		}
	}

	return st, nil
}

// rawJSON converts a stored string back to a RawMessage, keeping empty
// strings as nil so round-trips preserve unset payloads.
func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
