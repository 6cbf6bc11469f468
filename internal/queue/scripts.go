package queue

import "github.com/redis/go-redis/v9"

// createScript stores a job unless its dedupe key points at a job that still exists.
// KEYS: dedupe (may be empty), job hash, ready set.
// ARGV: id, job key prefix, type, payload, priority, attempts, backoff ms, ttl ms, created ms.
// Returns {id, "1"} for a new job or {existing id, "0"} when collapsed.
var createScript = redis.NewScript(`
if KEYS[1] ~= "" then
  local existing = redis.call("GET", KEYS[1])
  if existing and redis.call("EXISTS", ARGV[2] .. existing) == 1 then
    return {existing, "0"}
  end
end
redis.call("HSET", KEYS[2],
  "type", ARGV[3],
  "payload", ARGV[4],
  "priority", ARGV[5],
  "attempts", ARGV[6],
  "attempts_made", "0",
  "backoff_ms", ARGV[7],
  "ttl_ms", ARGV[8],
  "dedupe", KEYS[1],
  "created_at", ARGV[9])
redis.call("ZADD", KEYS[3], ARGV[5], ARGV[1])
if KEYS[1] ~= "" then
  redis.call("SET", KEYS[1], ARGV[1])
end
return {ARGV[1], "1"}
`)

// claimScript promotes due delayed jobs, then leases the most urgent ready job.
// KEYS: delayed, ready, active. ARGV: now ms, job key prefix.
// Returns the claimed id or nil.
var claimScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, id in ipairs(due) do
  redis.call("ZREM", KEYS[1], id)
  local priority = redis.call("HGET", ARGV[2] .. id, "priority")
  if priority then
    redis.call("ZADD", KEYS[2], priority, id)
  end
end
while true do
  local head = redis.call("ZRANGE", KEYS[2], 0, 0)
  if #head == 0 then
    return false
  end
  local id = head[1]
  redis.call("ZREM", KEYS[2], id)
  local jobKey = ARGV[2] .. id
  local ttl = redis.call("HGET", jobKey, "ttl_ms")
  if ttl then
    redis.call("ZADD", KEYS[3], tonumber(ARGV[1]) + tonumber(ttl), id)
    redis.call("HINCRBY", jobKey, "attempts_made", 1)
    return id
  end
end
`)

// completeScript deletes a finished job and releases its dedupe key.
// KEYS: active, delayed, ready, job hash. ARGV: id.
var completeScript = redis.NewScript(`
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
local dedupe = redis.call("HGET", KEYS[4], "dedupe")
if dedupe and dedupe ~= "" and redis.call("GET", dedupe) == ARGV[1] then
  redis.call("DEL", dedupe)
end
return redis.call("DEL", KEYS[4])
`)

// failScript records a failed attempt. The job is delayed by its backoff, or
// moved to dead when attempts are exhausted or the failure is permanent.
// KEYS: active, delayed, dead, job hash. ARGV: id, now ms, error, permanent flag.
// Returns -1 when the job no longer holds a lease, 0 when retried, 1 when dead.
var failScript = redis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
  return -1
end
redis.call("HSET", KEYS[4], "last_error", ARGV[3])
local made = tonumber(redis.call("HGET", KEYS[4], "attempts_made") or "0")
local max = tonumber(redis.call("HGET", KEYS[4], "attempts") or "1")
if ARGV[4] == "1" or made >= max then
  redis.call("ZADD", KEYS[3], ARGV[2], ARGV[1])
  local dedupe = redis.call("HGET", KEYS[4], "dedupe")
  if dedupe and dedupe ~= "" and redis.call("GET", dedupe) == ARGV[1] then
    redis.call("DEL", dedupe)
  end
  return 1
end
local backoff = tonumber(redis.call("HGET", KEYS[4], "backoff_ms") or "0")
redis.call("ZADD", KEYS[2], tonumber(ARGV[2]) + backoff, ARGV[1])
return 0
`)

// retryScript moves a dead job back to ready with a fresh attempt budget and
// reclaims its dedupe key. When the key already belongs to another live job the
// dead one is dropped in its favour.
// KEYS: dead, ready, job hash. ARGV: id, job key prefix.
// Returns {id, "1"} when requeued, {existing id, "0"} when collapsed, nil when not dead.
var retryScript = redis.NewScript(`
if not redis.call("ZSCORE", KEYS[1], ARGV[1]) then
  return false
end
redis.call("ZREM", KEYS[1], ARGV[1])
local priority = redis.call("HGET", KEYS[3], "priority")
if not priority then
  return false
end
local dedupe = redis.call("HGET", KEYS[3], "dedupe")
if dedupe and dedupe ~= "" then
  local existing = redis.call("GET", dedupe)
  if existing and existing ~= ARGV[1] and redis.call("EXISTS", ARGV[2] .. existing) == 1 then
    redis.call("DEL", KEYS[3])
    return {existing, "0"}
  end
  redis.call("SET", dedupe, ARGV[1])
end
redis.call("HSET", KEYS[3], "attempts_made", "0", "last_error", "")
redis.call("ZADD", KEYS[2], priority, ARGV[1])
return {ARGV[1], "1"}
`)
