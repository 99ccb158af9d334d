package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signcast/api/internal/model"
)

// saveScript writes the record unless the stored one is already terminal
var saveScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local ok, job = pcall(cjson.decode, cur)
	if ok and (job.status == 'ready' or job.status == 'error') then
		return 0
	end
end
if tonumber(ARGV[2]) > 0 then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
else
	redis.call('SET', KEYS[1], ARGV[1])
end
return 1
`)

// RedisStore keeps job records under job:<id>. A zero ttl keeps them forever.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *RedisStore) Save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	written, err := saveScript.Run(ctx, s.redis, []string{jobKey(job.ID)}, string(data), s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	if written == 0 {
		return ErrTerminal
	}
	return nil
}

// Unsettled scans job:* keys. Records that expire mid-scan are skipped.
func (s *RedisStore) Unsettled(ctx context.Context) ([]*model.Job, error) {
	var out []*model.Job
	iter := s.redis.Scan(ctx, 0, jobKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.redis.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Val(), err)
		}
		if !job.Status.IsTerminal() {
			out = append(out, &job)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	return out, nil
}

// Close leaves the shared client open
func (s *RedisStore) Close() error {
	return nil
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}
