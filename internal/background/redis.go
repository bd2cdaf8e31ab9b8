package background

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the Pub/Sub channel name used by RedisChannel.
const DefaultRedisChannel = "teer:agent"

// RedisChannel is a Channel over Redis Pub/Sub, for hosts that already run
// a local Redis. Messages posted while nobody subscribes are dropped.
type RedisChannel struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewRedisChannel connects to redisURL and verifies the connection.
func NewRedisChannel(ctx context.Context, redisURL, channel, origin string) (*RedisChannel, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisChannelFromClient(client, channel, origin), nil
}

// NewRedisChannelFromClient wraps an existing client.
func NewRedisChannelFromClient(client *redis.Client, channel, origin string) *RedisChannel {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisChannel{client: client, channel: channel, origin: origin}
}

func (r *RedisChannel) Post(ctx context.Context, kind Kind) error {
	b, err := json.Marshal(Message{Kind: kind, Origin: r.origin, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, b).Err()
}

func (r *RedisChannel) Subscribe(ctx context.Context, kind Kind, h Handler) (func(), error) {
	sub := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription to be confirmed so no later post is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := sub.Channel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var m Message
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					slog.Debug("redis channel: bad message", "err", err)
					continue
				}
				if m.Kind == kind {
					h(m)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			sub.Close()
			wg.Wait()
		})
	}, nil
}

func (r *RedisChannel) Close() error {
	return r.client.Close()
}
