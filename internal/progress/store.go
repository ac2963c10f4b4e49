package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"catalogsync/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrNotFound means no record exists for the task, either because it
	// never started or because the record expired.
	ErrNotFound = errors.New("progress record not found")
	// ErrUnavailable means the store could not be reached.
	ErrUnavailable = errors.New("progress store unavailable")
	// ErrCorrupt means a record exists but cannot be decoded.
	ErrCorrupt = errors.New("progress record unreadable")
)

type State string

const (
	StateStarted   State = "started"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Record is the volatile progress snapshot of one task.
type Record struct {
	TaskID    string    `json:"task_id"`
	State     State     `json:"state"`
	Attempt   int       `json:"attempt"`
	Current   int       `json:"current"`
	Total     *int      `json:"total,omitempty"`
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Errors    int       `json:"errors"`
	Percent   *float64  `json:"percent,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, taskID string) (*Record, error)
}

// putScript writes the record and publishes it. A record of the same
// attempt that already reports more processed rows wins and the write is
// dropped; so does any write from an older attempt. A newer attempt that
// has not yet caught up keeps the previous counters, so current never goes
// backwards across retries.
var putScript = redis.NewScript(`
local body = ARGV[1]
local attempt = tonumber(ARGV[3])
local current = tonumber(ARGV[4])
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, old = pcall(cjson.decode, cur)
	if ok and type(old) == 'table' then
		local oldAttempt = tonumber(old.attempt) or 0
		local oldCurrent = tonumber(old.current) or 0
		if oldAttempt > attempt then
			return 0
		end
		if oldCurrent > current then
			if oldAttempt == attempt then
				return 0
			end
			local rec = cjson.decode(body)
			rec.current = oldCurrent
			rec.created = old.created
			rec.updated = old.updated
			rec.errors = old.errors
			rec.percent = old.percent
			body = cjson.encode(rec)
		end
	end
end
redis.call('SET', KEYS[1], body, 'PX', ARGV[2])
redis.call('PUBLISH', ARGV[5], body)
return 1
`)

const (
	keyPrefix     = "catalogsync:progress:"
	channelPrefix = "catalogsync:progress-events:"
)

type RedisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func Key(taskID string) string     { return keyPrefix + taskID }
func Channel(taskID string) string { return channelPrefix + taskID }

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	err = putScript.Run(ctx, s.rdb, []string{Key(rec.TaskID)},
		string(body), s.ttl.Milliseconds(), rec.Attempt, rec.Current, Channel(rec.TaskID),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (*Record, error) {
	raw, err := s.rdb.Get(ctx, Key(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &rec, nil
}

// Listen forwards every published record to fn until ctx is cancelled.
func (s *RedisStore) Listen(ctx context.Context, fn func(Record)) error {
	sub := s.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logger.Info("progress listener subscribed", zap.String("pattern", channelPrefix+"*"))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var rec Record
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				logger.Warn("dropping undecodable progress event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if rec.TaskID == "" {
				rec.TaskID = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			fn(rec)
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
