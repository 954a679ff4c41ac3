package kv

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"relay/pkg/domain"
)

// incrWithExpiry is the Lua script backing IncrRateCounter: it
// increments the key and, only if the post-increment value is 1
// (meaning this call created the key), sets its TTL — so a
// concurrent caller can never reset the window's expiry.
const incrWithExpiry = `
local v = redis.call("INCR", KEYS[1])
if v == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return v
`

// RedisStore is the production Store backed by go-redis/v9.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to addr and verifies reachability with PING.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "connecting to redis")
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) IncrRateCounter(ctx context.Context, contact domain.ContactID, window time.Duration) (int64, error) {
	res, err := s.client.Eval(ctx, incrWithExpiry, []string{counterKey(contact)}, int64(window.Seconds())).Result()
	if err != nil {
		return 0, errors.Wrap(err, "incrementing rate counter")
	}
	n, ok := res.(int64)
	if !ok {
		return 0, errors.New("unexpected rate counter script result")
	}
	return n, nil
}

func (s *RedisStore) GlobalPauseKey() string { return pauseKeyGlobal() }
func (s *RedisStore) ContactPauseKey(contact domain.ContactID) string {
	return pauseKeyContact(contact)
}

func (s *RedisStore) GetPause(ctx context.Context, key string) (*domain.PauseState, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading pause state")
	}
	var state domain.PauseState
	if err := jsonUnmarshal(raw, &state); err != nil {
		return nil, errors.Wrap(err, "decoding pause state")
	}
	return &state, nil
}

func (s *RedisStore) SetPause(ctx context.Context, key string, state domain.PauseState) error {
	raw, err := jsonMarshal(state)
	if err != nil {
		return errors.Wrap(err, "encoding pause state")
	}
	var ttl time.Duration
	if state.ExpireAt != nil {
		ttl = time.Until(*state.ExpireAt)
		if ttl <= 0 {
			return s.ClearPause(ctx, key)
		}
	}
	return errors.Wrap(s.client.Set(ctx, key, raw, ttl).Err(), "writing pause state")
}

func (s *RedisStore) ClearPause(ctx context.Context, key string) error {
	return errors.Wrap(s.client.Del(ctx, key).Err(), "clearing pause state")
}

func (s *RedisStore) ScheduleDeferred(ctx context.Context, when time.Time, payload []byte) error {
	return errors.Wrap(s.client.ZAdd(ctx, deferredMessagesKey(), redis.Z{
		Score:  float64(when.UnixNano()),
		Member: payload,
	}).Err(), "scheduling deferred message")
}

func (s *RedisStore) PopDueDeferred(ctx context.Context, now time.Time) ([][]byte, error) {
	key := deferredMessagesKey()
	maxScore := strconv.FormatInt(now.UnixNano(), 10)
	members, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "listing due deferred messages")
	}
	if len(members) == 0 {
		return nil, nil
	}
	pipe := s.client.TxPipeline()
	for _, m := range members {
		pipe.ZRem(ctx, key, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "removing due deferred messages")
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

func (s *RedisStore) AppendHistory(ctx context.Context, contact domain.ContactID, msg domain.ConversationMessage, maxLen int, ttl time.Duration) error {
	raw, err := jsonMarshal(msg)
	if err != nil {
		return errors.Wrap(err, "encoding history message")
	}
	key := historyKey(contact)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, int64(-maxLen), -1)
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "appending history")
}

func (s *RedisStore) GetHistory(ctx context.Context, contact domain.ContactID) ([]domain.ConversationMessage, error) {
	raws, err := s.client.LRange(ctx, historyKey(contact), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "reading history")
	}
	out := make([]domain.ConversationMessage, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		var msg domain.ConversationMessage
		if err := jsonUnmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		if _, dup := seen[msg.ID]; dup {
			continue
		}
		seen[msg.ID] = struct{}{}
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) PushQueue(ctx context.Context, queue string, payload []byte) error {
	return errors.Wrap(s.client.RPush(ctx, queueKey(queue), payload).Err(), "pushing queue")
}

func (s *RedisStore) PopQueue(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := s.client.BLPop(ctx, timeout, queueKey(queue)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "popping queue")
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

func (s *RedisStore) IncrTokenStats(ctx context.Context, dateKey, kind string, n int64) error {
	return errors.Wrap(s.client.HIncrBy(ctx, statsTokensKey(dateKey), kind, n).Err(), "incrementing token stats")
}

func (s *RedisStore) GetStyleCache(ctx context.Context, contact domain.ContactID) (string, bool, error) {
	v, err := s.client.Get(ctx, cacheStyleKey(contact)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "reading style cache")
	}
	return v, true, nil
}

func (s *RedisStore) SetStyleCache(ctx context.Context, contact domain.ContactID, value string, ttl time.Duration) error {
	return errors.Wrap(s.client.Set(ctx, cacheStyleKey(contact), value, ttl).Err(), "writing style cache")
}

func (s *RedisStore) GetLastMessageAt(ctx context.Context, contact domain.ContactID) (time.Time, bool, error) {
	v, err := s.client.Get(ctx, htsLastMessageKey(contact)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "reading last message time")
	}
	return time.Unix(0, v), true, nil
}

func (s *RedisStore) SetLastMessageAt(ctx context.Context, contact domain.ContactID, at time.Time, ttl time.Duration) error {
	return errors.Wrap(s.client.Set(ctx, htsLastMessageKey(contact), at.UnixNano(), ttl).Err(), "writing last message time")
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
