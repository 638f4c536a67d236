package redis

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Redis key naming conventions for stride data.
// All keys are prefixed with "stride:" to avoid collisions.

const keyPrefix = "stride:"

// ── Step keys ──

// stepKey returns the key for a step entity: stride:step:{id}
func stepKey(id string) string { return keyPrefix + "step:" + id }

// stepIDsKey is the Set tracking all step IDs for enumeration.
const stepIDsKey = keyPrefix + "step_ids"

// blockKey returns the Set key tracking step IDs for a block:
// stride:block:{uuid}
func blockKey(block uuid.UUID) string { return keyPrefix + "block:" + block.String() }

// groupKey returns the Set key tracking step IDs for a group:
// stride:group:{name}
func groupKey(name string) string { return keyPrefix + "group:" + name }

// groupsKey is the Set tracking all group names ever seen.
const groupsKey = keyPrefix + "groups"

// ── Trigger keys ──

// triggerListKey is the List carrying pending dispatch triggers.
const triggerListKey = keyPrefix + "triggers"

// triggerSetKey is the Set deduplicating queued triggers. A group is a
// member while a trigger for it sits in the list.
const triggerSetKey = keyPrefix + "trigger_set"

// ── Throttle keys ──

// lastRequestKey returns the key recording when the last request for an
// API system was sent: stride:throttle:last:{api}
func lastRequestKey(apiSystem string) string {
	return keyPrefix + "throttle:last:" + apiSystem
}

// usageKey returns the Hash key for an observed usage counter:
// stride:throttle:usage:{api}:{limitType}:{intervalSeconds}
func usageKey(apiSystem, limitType string, interval time.Duration) string {
	return keyPrefix + "throttle:usage:" + apiSystem + ":" + limitType + ":" +
		strconv.FormatInt(int64(interval/time.Second), 10)
}
