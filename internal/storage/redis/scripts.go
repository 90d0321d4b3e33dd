package redis

const (
	// clearDayScript atomically removes every key belonging to one day
	clearDayScript = `
local day_key = KEYS[1]        -- screentime:day:{date}
local index_key = KEYS[2]      -- screentime:usage:index:{date}
local sessions_key = KEYS[3]   -- screentime:sessions:{date}
local days_key = KEYS[4]       -- screentime:days

local usage_prefix = ARGV[1]   -- screentime:usage:{date}:
local date = ARGV[2]

-- Remove per-app usage hashes listed in the day index
local apps = redis.call('SMEMBERS', index_key)
for _, app in ipairs(apps) do
  redis.call('DEL', usage_prefix .. app)
end

local existed = redis.call('EXISTS', day_key)

redis.call('DEL', day_key, index_key, sessions_key)
redis.call('ZREM', days_key, date)

return existed
`

	// replaceDayScript atomically swaps everything stored for one day.
	//
	// ARGV: usage_prefix, date, date_score, ttl_seconds,
	//       total_ms, pickups, sessions, discarded, updated_at,
	//       app_count, then app_count triples (app_id, total_ms, launches),
	//       then (start_ms, session_json) pairs to the end.
	replaceDayScript = `
local day_key = KEYS[1]        -- screentime:day:{date}
local index_key = KEYS[2]      -- screentime:usage:index:{date}
local sessions_key = KEYS[3]   -- screentime:sessions:{date}
local days_key = KEYS[4]       -- screentime:days

local usage_prefix = ARGV[1]
local date = ARGV[2]
local date_score = ARGV[3]
local ttl_seconds = tonumber(ARGV[4])
local app_count = tonumber(ARGV[10])

local old_apps = redis.call('SMEMBERS', index_key)
for _, app in ipairs(old_apps) do
  redis.call('DEL', usage_prefix .. app)
end
redis.call('DEL', day_key, index_key, sessions_key)

local i = 11
for _ = 1, app_count do
  local app_id = ARGV[i]
  local usage_key = usage_prefix .. app_id
  redis.call('HSET', usage_key,
    'date', date,
    'app_id', app_id,
    'total_ms', ARGV[i + 1],
    'launches', ARGV[i + 2]
  )
  redis.call('SADD', index_key, app_id)
  if ttl_seconds > 0 then
    redis.call('EXPIRE', usage_key, ttl_seconds)
  end
  i = i + 3
end

while i < #ARGV do
  redis.call('ZADD', sessions_key, ARGV[i], ARGV[i + 1])
  i = i + 2
end

redis.call('HSET', day_key,
  'date', date,
  'total_ms', ARGV[5],
  'pickups', ARGV[6],
  'sessions', ARGV[7],
  'discarded', ARGV[8],
  'updated_at', ARGV[9]
)
redis.call('ZADD', days_key, date_score, date)

if ttl_seconds > 0 then
  redis.call('EXPIRE', day_key, ttl_seconds)
  redis.call('EXPIRE', index_key, ttl_seconds)
  redis.call('EXPIRE', sessions_key, ttl_seconds)
end

return app_count
`
)
