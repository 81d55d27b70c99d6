package cache

import "github.com/redis/go-redis/v9"

// casFieldScript swaps a hash field only when it still holds the expected value.
// KEYS[1] hash, ARGV[1] field, ARGV[2] expected, ARGV[3] next.
var casFieldScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if current == ARGV[2] then
  redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
  return 1
end
return 0
`)

// windowHitScript trims, counts and conditionally records a hit on a sorted-set window.
// KEYS[1] zset, ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] limit, ARGV[4] member.
// Returns {allowed, count, oldest score (ms)}.
var windowHitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', tostring(now - window))
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < limit then
  redis.call('ZADD', KEYS[1], tostring(now), ARGV[4])
  redis.call('PEXPIRE', KEYS[1], tostring(window))
  count = count + 1
  allowed = 1
end
local oldest = now
local head = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if head[2] then
  oldest = tonumber(head[2])
end
return {allowed, count, oldest}
`)
