package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// Redis key layout, all under one prefix:
//
//	<p>:seq                 counter feeding FIFO ordering
//	<p>:job:<id>            hash with the job's fields
//	<p>:waiting             zset of waiting job ids scored by seq
//	<p>:lane:<priority>     zset per priority lane scored by seq
//	<p>:delayed             zset of delayed job ids scored by due time (unix ms)
//	<p>:state:<state>       set of ids per non-waiting state
//	<p>:count:*             counter hashes backing Stats
//	<p>:hourly:<unix hour>  hash {count, success, failure}
//	<p>:hours               set of hour keys with activity
const defaultRedisPrefix = "notifykit"

// claimScript atomically promotes due delayed jobs, picks the next job
// (priority-first, or oldest-first for the anti-starvation slot), and marks
// it active. Returns the claimed job id or false.
var claimScript = redis.NewScript(`
local prefix = ARGV[1]
local nowMs = tonumber(ARGV[2])
local fifoOnly = ARGV[3] == "1"

-- promote due delayed jobs into their lanes
local due = redis.call('ZRANGEBYSCORE', prefix..':delayed', '-inf', nowMs)
for _, id in ipairs(due) do
	local jobKey = prefix..':job:'..id
	local pri = redis.call('HGET', jobKey, 'priority')
	local seq = redis.call('HGET', jobKey, 'seq')
	redis.call('ZREM', prefix..':delayed', id)
	redis.call('ZADD', prefix..':waiting', seq, id)
	redis.call('ZADD', prefix..':lane:'..pri, seq, id)
	redis.call('HSET', jobKey, 'state', 'waiting')
	redis.call('HINCRBY', prefix..':count:state', 'delayed', -1)
	redis.call('HINCRBY', prefix..':count:state', 'waiting', 1)
end

local id = false
if fifoOnly then
	local oldest = redis.call('ZRANGE', prefix..':waiting', 0, 0)
	if #oldest > 0 then id = oldest[1] end
else
	for pri = 3, 0, -1 do
		local head = redis.call('ZRANGE', prefix..':lane:'..pri, 0, 0)
		if #head > 0 then id = head[1] break end
	end
end

if not id then return false end

local jobKey = prefix..':job:'..id
local pri = redis.call('HGET', jobKey, 'priority')
redis.call('ZREM', prefix..':waiting', id)
redis.call('ZREM', prefix..':lane:'..pri, id)
redis.call('SADD', prefix..':state:active', id)
redis.call('HSET', jobKey, 'state', 'active')
redis.call('HINCRBY', jobKey, 'attempts', 1)
redis.call('HINCRBY', prefix..':count:state', 'waiting', -1)
redis.call('HINCRBY', prefix..':count:state', 'active', 1)
return id
`)

// RedisStorage implements JobRepository on Redis. Claiming runs as a Lua
// script so concurrent workers never double-claim a job.
type RedisStorage struct {
	client     redis.UniversalClient
	prefix     string
	claimCount atomic.Uint64
}

// NewRedisStorage creates a Redis-backed job store over an existing client.
func NewRedisStorage(client redis.UniversalClient) (*RedisStorage, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	return &RedisStorage{client: client, prefix: defaultRedisPrefix}, nil
}

func (rs *RedisStorage) jobKey(id string) string { return rs.prefix + ":job:" + id }

// CreateJob implements JobRepository.
func (rs *RedisStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	exists, err := rs.client.Exists(ctx, rs.jobKey(job.ID)).Result()
	if err != nil {
		return fmt.Errorf("check job existence: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	payload, err := json.Marshal(job.Notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	seq, err := rs.client.Incr(ctx, rs.prefix+":seq").Result()
	if err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	pri := strconv.Itoa(int(job.Notification.Priority))
	pipe := rs.client.TxPipeline()
	pipe.HSet(ctx, rs.jobKey(job.ID), map[string]any{
		"payload":      payload,
		"state":        string(job.State),
		"attempts":     job.AttemptsMade,
		"priority":     pri,
		"channel":      string(job.Notification.Channel),
		"seq":          seq,
		"enqueued_at":  job.EnqueuedAt.Format(time.RFC3339Nano),
		"scheduled_at": job.ScheduledAt.Format(time.RFC3339Nano),
	})
	switch job.State {
	case JobStateDelayed:
		pipe.ZAdd(ctx, rs.prefix+":delayed", redis.Z{
			Score:  float64(job.ScheduledAt.UnixMilli()),
			Member: job.ID,
		})
	default:
		pipe.ZAdd(ctx, rs.prefix+":waiting", redis.Z{Score: float64(seq), Member: job.ID})
		pipe.ZAdd(ctx, rs.prefix+":lane:"+pri, redis.Z{Score: float64(seq), Member: job.ID})
	}
	pipe.HIncrBy(ctx, rs.prefix+":count:state", string(job.State), 1)
	pipe.HIncrBy(ctx, rs.prefix+":count:channel", string(job.Notification.Channel), 1)
	pipe.HIncrBy(ctx, rs.prefix+":count:priority", pri, 1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store job: %w", err)
	}
	return nil
}

// ClaimJob implements JobRepository.
func (rs *RedisStorage) ClaimJob(ctx context.Context) (*Job, error) {
	fifoOnly := "0"
	if rs.claimCount.Add(1)%starvationInterval == 0 {
		fifoOnly = "1"
	}

	res, err := claimScript.Run(ctx, rs.client, nil,
		rs.prefix, time.Now().UnixMilli(), fifoOnly).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoJobToClaim
		}
		return nil, fmt.Errorf("claim script: %w", err)
	}

	id, ok := res.(string)
	if !ok || id == "" {
		return nil, ErrNoJobToClaim
	}
	return rs.GetJob(ctx, id)
}

// CompleteJob implements JobRepository.
func (rs *RedisStorage) CompleteJob(ctx context.Context, jobID string) error {
	return rs.settle(ctx, jobID, JobStateCompleted, "")
}

// FailJob implements JobRepository.
func (rs *RedisStorage) FailJob(ctx context.Context, jobID string, reason string) error {
	return rs.settle(ctx, jobID, JobStateFailed, reason)
}

func (rs *RedisStorage) settle(ctx context.Context, jobID string, state JobState, reason string) error {
	current, err := rs.client.HGet(ctx, rs.jobKey(jobID), "state").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return fmt.Errorf("read job state: %w", err)
	}
	// Failed jobs may be re-settled when a later retry resolves them.
	if current != string(JobStateActive) && current != string(JobStateFailed) {
		return fmt.Errorf("job %s is not settleable in state %s", jobID, current)
	}

	pipe := rs.client.TxPipeline()
	pipe.HSet(ctx, rs.jobKey(jobID), map[string]any{
		"state":          string(state),
		"failure_reason": reason,
		"processed_at":   time.Now().Format(time.RFC3339Nano),
	})
	pipe.SRem(ctx, rs.prefix+":state:"+current, jobID)
	pipe.SAdd(ctx, rs.prefix+":state:"+string(state), jobID)
	pipe.HIncrBy(ctx, rs.prefix+":count:state", current, -1)
	pipe.HIncrBy(ctx, rs.prefix+":count:state", string(state), 1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("settle job: %w", err)
	}
	return nil
}

// GetJob implements JobRepository.
func (rs *RedisStorage) GetJob(ctx context.Context, jobID string) (*Job, error) {
	fields, err := rs.client.HGetAll(ctx, rs.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return jobFromFields(jobID, fields)
}

// ListJobsByState implements JobRepository.
func (rs *RedisStorage) ListJobsByState(ctx context.Context, state JobState) ([]Job, error) {
	var (
		ids []string
		err error
	)
	switch state {
	case JobStateWaiting:
		ids, err = rs.client.ZRange(ctx, rs.prefix+":waiting", 0, -1).Result()
	case JobStateDelayed:
		ids, err = rs.client.ZRange(ctx, rs.prefix+":delayed", 0, -1).Result()
	default:
		ids, err = rs.client.SMembers(ctx, rs.prefix+":state:"+string(state)).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := rs.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt) })
	return jobs, nil
}

// DeleteJob implements JobRepository.
func (rs *RedisStorage) DeleteJob(ctx context.Context, jobID string) error {
	fields, err := rs.client.HGetAll(ctx, rs.jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	state := fields["state"]
	pri := fields["priority"]
	channel := fields["channel"]

	pipe := rs.client.TxPipeline()
	pipe.Del(ctx, rs.jobKey(jobID))
	pipe.ZRem(ctx, rs.prefix+":waiting", jobID)
	pipe.ZRem(ctx, rs.prefix+":lane:"+pri, jobID)
	pipe.ZRem(ctx, rs.prefix+":delayed", jobID)
	pipe.SRem(ctx, rs.prefix+":state:"+state, jobID)
	pipe.HIncrBy(ctx, rs.prefix+":count:state", state, -1)
	pipe.HIncrBy(ctx, rs.prefix+":count:channel", channel, -1)
	pipe.HIncrBy(ctx, rs.prefix+":count:priority", pri, -1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// Stats implements JobRepository. All counter reads run in one MULTI/EXEC so
// the snapshot is consistent.
func (rs *RedisStorage) Stats(ctx context.Context) (Stats, error) {
	pipe := rs.client.TxPipeline()
	stateCmd := pipe.HGetAll(ctx, rs.prefix+":count:state")
	channelCmd := pipe.HGetAll(ctx, rs.prefix+":count:channel")
	priorityCmd := pipe.HGetAll(ctx, rs.prefix+":count:priority")
	hoursCmd := pipe.SMembers(ctx, rs.prefix+":hours")
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("read stats: %w", err)
	}

	stats := Stats{
		ByChannel:  make(map[notification.Channel]int),
		ByPriority: make(map[notification.Priority]int),
		ByState:    make(map[JobState]int),
	}

	for state, v := range stateCmd.Val() {
		n, _ := strconv.Atoi(v)
		if n > 0 {
			stats.ByState[JobState(state)] = n
			stats.Total += n
		}
	}
	for channel, v := range channelCmd.Val() {
		if n, _ := strconv.Atoi(v); n > 0 {
			stats.ByChannel[notification.Channel(channel)] = n
		}
	}
	for pri, v := range priorityCmd.Val() {
		p, err := strconv.Atoi(pri)
		if err != nil {
			continue
		}
		if n, _ := strconv.Atoi(v); n > 0 {
			stats.ByPriority[notification.Priority(p)] = n
		}
	}

	stats.Waiting = stats.ByState[JobStateWaiting]
	stats.Active = stats.ByState[JobStateActive]
	stats.Completed = stats.ByState[JobStateCompleted]
	stats.Failed = stats.ByState[JobStateFailed]
	stats.Delayed = stats.ByState[JobStateDelayed]

	for _, hourKey := range hoursCmd.Val() {
		unixHour, err := strconv.ParseInt(hourKey, 10, 64)
		if err != nil {
			continue
		}
		fields, err := rs.client.HGetAll(ctx, rs.prefix+":hourly:"+hourKey).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("read hourly stats: %w", err)
		}
		bucket := HourlyBucket{Hour: time.Unix(unixHour, 0).UTC()}
		bucket.Count, _ = strconv.Atoi(fields["count"])
		bucket.SuccessCount, _ = strconv.Atoi(fields["success"])
		bucket.FailureCount, _ = strconv.Atoi(fields["failure"])
		stats.Hourly = append(stats.Hourly, bucket)
	}
	sort.Slice(stats.Hourly, func(i, j int) bool {
		return stats.Hourly[i].Hour.Before(stats.Hourly[j].Hour)
	})

	return stats, nil
}

// RecordSendOutcome implements JobRepository.
func (rs *RedisStorage) RecordSendOutcome(ctx context.Context, at time.Time, success bool) error {
	hourKey := strconv.FormatInt(at.Truncate(time.Hour).Unix(), 10)
	outcome := "failure"
	if success {
		outcome = "success"
	}

	pipe := rs.client.TxPipeline()
	pipe.SAdd(ctx, rs.prefix+":hours", hourKey)
	pipe.HIncrBy(ctx, rs.prefix+":hourly:"+hourKey, "count", 1)
	pipe.HIncrBy(ctx, rs.prefix+":hourly:"+hourKey, outcome, 1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record send outcome: %w", err)
	}
	return nil
}

func jobFromFields(id string, fields map[string]string) (*Job, error) {
	job := &Job{ID: id, State: JobState(fields["state"])}

	if err := json.Unmarshal([]byte(fields["payload"]), &job.Notification); err != nil {
		return nil, fmt.Errorf("unmarshal notification: %w", err)
	}
	job.AttemptsMade, _ = strconv.Atoi(fields["attempts"])
	if reason := fields["failure_reason"]; reason != "" {
		job.FailureReason = &reason
	}
	if v := fields["enqueued_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parse enqueued_at: %w", err)
		}
		job.EnqueuedAt = t
	}
	if v := fields["scheduled_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parse scheduled_at: %w", err)
		}
		job.ScheduledAt = t
	}
	if v := fields["processed_at"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("parse processed_at: %w", err)
		}
		job.ProcessedAt = &t
	}
	return job, nil
}
