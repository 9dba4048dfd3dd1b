package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"costtrend/internal/domain/job"
	"costtrend/pkg/errors"
)

const maxTxRetries = 10

// JobStore implements job.Store on Redis. Updates run in WATCH/MULTI transactions so
// concurrent workers and pollers never see a torn or backward state.
type JobStore struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewJobStore creates a Redis job store. Terminal jobs expire after retention.
func NewJobStore(client *redis.Client, prefix string, retention time.Duration) *JobStore {
	return &JobStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
	}
}

// Create stores a new job and registers it as the active job for its params
func (s *JobStore) Create(ctx context.Context, j *job.Job) error {
	data, err := json.Marshal(j)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal job: id=%s", j.ID)
	}

	ok, err := s.client.SetNX(ctx, s.jobKey(j.ID), data, 0).Result()
	if err != nil {
		return errors.Wrapf(err, "failed to save job to redis: id=%s", j.ID)
	}
	if !ok {
		return errors.Wrapf(errors.ErrInvalidInput, "job already exists: id=%s", j.ID)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.activeKey(j.SessionID, j.ParamsHash), j.ID, s.retention)
		pipe.ZAdd(ctx, s.unfinishedKey(), redis.Z{Score: float64(j.CreatedAt.Unix()), Member: j.ID})
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "failed to index active job: id=%s", j.ID)
	}
	return nil
}

// Get returns the stored job
func (s *JobStore) Get(ctx context.Context, id string) (*job.Job, error) {
	data, err := s.client.Get(ctx, s.jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "id=%s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job from redis: id=%s", id)
	}
	return decodeJob(data, id)
}

// Update applies fn inside an optimistic transaction, retrying on conflicts
func (s *JobStore) Update(ctx context.Context, id string, fn job.UpdateFunc) (*job.Job, error) {
	key := s.jobKey(id)
	var updated *job.Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return errors.Wrapf(errors.ErrJobNotFound, "id=%s", id)
		}
		if err != nil {
			return err
		}

		j, err := decodeJob(data, id)
		if err != nil {
			return err
		}
		if err := fn(j); err != nil {
			return err
		}

		out, err := json.Marshal(j)
		if err != nil {
			return errors.Wrapf(err, "failed to marshal job: id=%s", id)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if !j.Status.Terminal() {
				pipe.Set(ctx, key, out, 0)
				return nil
			}
			pipe.Set(ctx, key, out, s.retention)
			pipe.Del(ctx, s.activeKey(j.SessionID, j.ParamsHash))
			pipe.ZRem(ctx, s.unfinishedKey(), id)
			finished := time.Now()
			if j.FinishedAt != nil {
				finished = *j.FinishedAt
			}
			pipe.ZAdd(ctx, s.finishedKey(), redis.Z{Score: float64(finished.Unix()), Member: id})
			return nil
		})
		if err != nil {
			return err
		}

		updated = j
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return nil, errors.Wrapf(err, "failed to update job: id=%s", id)
	}

	return nil, errors.Wrapf(errors.ErrUnavailable, "job update kept conflicting: id=%s", id)
}

// FindActive looks up the in-flight job of a session for the given params
func (s *JobStore) FindActive(ctx context.Context, sessionID, paramsHash string) (*job.Job, error) {
	id, err := s.client.Get(ctx, s.activeKey(sessionID, paramsHash)).Result()
	if err == redis.Nil {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "no active job for session=%s", sessionID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get active job: session=%s", sessionID)
	}

	j, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return nil, errors.Wrapf(errors.ErrJobNotFound, "no active job for session=%s", sessionID)
	}
	return j, nil
}

// FindStale returns unfinished jobs created before cutoff, oldest first.
// Index entries whose job key is gone are dropped on the way.
func (s *JobStore) FindStale(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.unfinishedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unfinished jobs")
	}

	var out []*job.Job
	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if errors.Is(err, errors.ErrJobNotFound) {
			s.client.ZRem(ctx, s.unfinishedKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if j.StaleAt(cutoff) {
			out = append(out, j)
		}
	}
	return out, nil
}

// DeleteFinishedBefore removes terminal jobs that finished before cutoff
func (s *JobStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.finishedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to list finished jobs")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		keys[i] = s.jobKey(id)
		members[i] = id
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, s.finishedKey(), members...)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete finished jobs")
	}
	return len(ids), nil
}

func (s *JobStore) jobKey(id string) string {
	return s.prefix + "job:" + id
}

func (s *JobStore) activeKey(sessionID, paramsHash string) string {
	return s.prefix + "job:active:" + sessionID + ":" + paramsHash
}

func (s *JobStore) finishedKey() string {
	return s.prefix + "job:finished"
}

func (s *JobStore) unfinishedKey() string {
	return s.prefix + "job:unfinished"
}

func decodeJob(data []byte, id string) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal job: id=%s", id)
	}
	return &j, nil
}
