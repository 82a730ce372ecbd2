package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/redis/go-redis/v9"
)

type StreamsConfig struct {
	Stream       string
	DLQStream    string
	DelayedSet   string
	Group        string
	Consumer     string
	MaxAttempts  int
	Block        time.Duration
	PromoteBatch int64
	Logger       *log.Logger
}

// StreamsQueue implements Producer+Consumer backed by Redis Streams. Messages
// scheduled for later wait in a sorted set until they are due.
type StreamsQueue struct {
	client       redis.UniversalClient
	stream       string
	dlqStream    string
	delayedSet   string
	group        string
	consumer     string
	maxAttempts  int
	block        time.Duration
	promoteBatch int64
	logger       *log.Logger
	now          func() time.Time
}

func NewStreamsQueue(ctx context.Context, client redis.UniversalClient, cfg StreamsConfig) (*StreamsQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "bizcase_jobs"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = "bizcase_jobs_dlq"
	}
	if cfg.DelayedSet == "" {
		cfg.DelayedSet = cfg.Stream + ":delayed"
	}
	if cfg.Group == "" {
		cfg.Group = "bizcase_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "api-1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.PromoteBatch <= 0 {
		cfg.PromoteBatch = 50
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := &StreamsQueue{
		client:       client,
		stream:       cfg.Stream,
		dlqStream:    cfg.DLQStream,
		delayedSet:   cfg.DelayedSet,
		group:        cfg.Group,
		consumer:     cfg.Consumer,
		maxAttempts:  cfg.MaxAttempts,
		block:        cfg.Block,
		promoteBatch: cfg.PromoteBatch,
		logger:       cfg.Logger,
		now:          time.Now,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	if message.NotBefore.After(q.now()) {
		encoded, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("encode delayed message: %w", err)
		}
		err = q.client.ZAdd(ctx, q.delayedSet, redis.Z{
			Score:  float64(message.NotBefore.UnixMilli()),
			Member: string(encoded),
		}).Err()
		if err != nil {
			return fmt.Errorf("schedule delayed message: %w", err)
		}
		return nil
	}

	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: streamValues(message),
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) Consume(ctx context.Context, handler func(context.Context, domain.QueueMessage) error) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := q.promoteDue(ctx); err != nil && ctx.Err() == nil {
			q.logf("promote delayed messages failed err=%v", err)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    10,
			Block:    q.block,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				q.handle(ctx, item, handler)
			}
		}
	}
}

func (q *StreamsQueue) handle(ctx context.Context, item redis.XMessage, handler func(context.Context, domain.QueueMessage) error) {
	message, parseErr := parseStreamMessage(item)
	if parseErr != nil {
		_ = q.sendToDLQ(ctx, domain.QueueMessage{}, item, parseErr.Error())
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	handleErr := handler(ctx, message)
	if handleErr == nil {
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	message.Attempt++
	if message.Attempt >= q.maxAttempts {
		_ = q.sendToDLQ(ctx, message, item, handleErr.Error())
		_ = q.ackAndDelete(ctx, item.ID)
		return
	}

	message.NotBefore = q.now().Add(time.Duration(message.Attempt) * 500 * time.Millisecond)
	if requeueErr := q.Enqueue(ctx, message); requeueErr != nil {
		_ = q.sendToDLQ(ctx, message, item, fmt.Sprintf("requeue failed: %v", requeueErr))
	}
	_ = q.ackAndDelete(ctx, item.ID)
}

// promoteDue moves delayed messages whose time has come onto the stream.
// ZREM decides ownership so concurrent consumers promote each member once.
func (q *StreamsQueue) promoteDue(ctx context.Context) error {
	members, err := q.client.ZRangeByScore(ctx, q.delayedSet, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(q.now().UnixMilli(), 10),
		Count: q.promoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("read delayed set: %w", err)
	}

	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.delayedSet, member).Result()
		if err != nil {
			return fmt.Errorf("claim delayed message: %w", err)
		}
		if removed == 0 {
			continue
		}

		var message domain.QueueMessage
		if err := json.Unmarshal([]byte(member), &message); err != nil {
			q.logf("dropping undecodable delayed message err=%v", err)
			continue
		}
		if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: streamValues(message)}).Err(); err != nil {
			return fmt.Errorf("promote delayed message: %w", err)
		}
	}
	return nil
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) ackAndDelete(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) sendToDLQ(
	ctx context.Context,
	message domain.QueueMessage,
	item redis.XMessage,
	errorMessage string,
) error {
	values := streamValues(message)
	values["stream_id"] = item.ID
	values["error"] = errorMessage
	values["moved_at"] = q.now().UTC().Format(time.RFC3339Nano)
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	q.logf("streams queue moved message to DLQ job_id=%s err=%s", message.JobID, errorMessage)
	return nil
}

func (q *StreamsQueue) logf(format string, args ...any) {
	if q.logger != nil {
		q.logger.Printf(format, args...)
	}
}

func streamValues(message domain.QueueMessage) map[string]any {
	values := map[string]any{
		"job_id":       message.JobID,
		"payload":      string(message.Payload),
		"attempt":      message.Attempt,
		"requested_at": message.RequestedAt.Format(time.RFC3339Nano),
	}
	if !message.NotBefore.IsZero() {
		values["not_before"] = message.NotBefore.Format(time.RFC3339Nano)
	}
	return values
}

func parseStreamMessage(item redis.XMessage) (domain.QueueMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	payloadString, err := getString("payload")
	if err != nil {
		return domain.QueueMessage{}, err
	}

	attemptString, err := getString("attempt")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	attempt, err := strconv.Atoi(attemptString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid attempt: %w", err)
	}

	requestedAtString, err := getString("requested_at")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	requestedAt, err := time.Parse(time.RFC3339Nano, requestedAtString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid requested_at: %w", err)
	}

	message := domain.QueueMessage{
		JobID:       jobID,
		Payload:     []byte(payloadString),
		Attempt:     attempt,
		RequestedAt: requestedAt,
	}
	if notBefore, err := getString("not_before"); err == nil {
		parsed, parseErr := time.Parse(time.RFC3339Nano, notBefore)
		if parseErr != nil {
			return domain.QueueMessage{}, fmt.Errorf("invalid not_before: %w", parseErr)
		}
		message.NotBefore = parsed
	}
	return message, nil
}
