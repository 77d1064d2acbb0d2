package kvstore

import "github.com/redis/go-redis/v9"

// incrWindowScript increments a fixed-window counter and arms its expiry in
// the same step. A counter found without expiry is re-armed.
var incrWindowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if n == 1 or ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// incrUntilScript increments a period counter and sets its absolute expiry
// when it creates the key. A counter found without expiry is re-armed.
var incrUntilScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIREAT', KEYS[1], ARGV[1])
end
return n
`)

// decrFloorScript lowers a counter by ARGV[1], floored at zero, keeping the
// remaining TTL. Missing keys are not created.
var decrFloorScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	return 0
end
local n = tonumber(v) - tonumber(ARGV[1])
if n < 0 then
	n = 0
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
	redis.call('SET', KEYS[1], n, 'PX', ttl)
else
	redis.call('SET', KEYS[1], n)
end
return n
`)
