package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lcnr/docker-queue/internal/events"
)

const (
	DefaultChannel = "docker-queue:events"
	runningKey     = "docker-queue:running"
	requestKeyFmt  = "docker-queue:request:%s"
	requestTTL     = 24 * time.Hour
)

// Publisher mirrors lifecycle events into redis: every event goes out on a
// pub/sub channel, the running container id is kept under one key, and the
// last known state of each request is kept in a hash that expires.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{rdb: rdb, channel: channel}
}

// Connect creates a client for addr and checks it answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func (p *Publisher) Name() string { return "redis" }

func (p *Publisher) Publish(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Publish(ctx, p.channel, data)

	switch ev.Type {
	case events.TypeLaunched:
		pipe.Set(ctx, runningKey, ev.ContainerID, 0)
	case events.TypeFinished:
		pipe.Del(ctx, runningKey)
	}

	if ev.RequestID != "" {
		key := fmt.Sprintf(requestKeyFmt, ev.RequestID)
		fields := map[string]interface{}{
			"last_event": string(ev.Type),
			"updated_at": ev.Timestamp.Format(time.RFC3339Nano),
		}
		if ev.Status != "" {
			fields["status"] = ev.Status
		}
		if ev.ContainerID != "" {
			fields["container_id"] = ev.ContainerID
		}
		if ev.Command != "" {
			fields["command"] = ev.Command
		}
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, requestTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event to redis: %w", err)
	}
	return nil
}

// running returns the container id recorded by the last LAUNCHED event.
func (p *Publisher) running(ctx context.Context) (string, bool, error) {
	id, err := p.rdb.Get(ctx, runningKey).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// requestState returns the hash kept for requestID.
func (p *Publisher) requestState(ctx context.Context, requestID string) (map[string]string, error) {
	return p.rdb.HGetAll(ctx, fmt.Sprintf(requestKeyFmt, requestID)).Result()
}
