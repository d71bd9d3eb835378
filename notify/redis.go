package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/TITAN-Softwork-Solutions/Vigil/core"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// recentAlertsLimit bounds the list of recent alerts kept next to the channel
const recentAlertsLimit = 1000

// RedisOptions configures the redis sink
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Channel   string
	SessionID string
}

// redisMessage is the published envelope
type redisMessage struct {
	Session string            `json:"session,omitempty"`
	Alert   *core.AlertRecord `json:"alert"`
}

// RedisSink publishes alerts on a pub/sub channel and keeps the most recent
// ones in the list "<channel>:recent" for consumers that connect late
type RedisSink struct {
	client  *redis.Client
	channel string
	session string
	logger  *zap.SugaredLogger
}

// NewRedisSink connects to redis and verifies the connection with PING
func NewRedisSink(ctx context.Context, opts RedisOptions, logger *zap.SugaredLogger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: 4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	return &RedisSink{
		client:  client,
		channel: opts.Channel,
		session: opts.SessionID,
		logger:  logger,
	}, nil
}

// Name implements Sink
func (s *RedisSink) Name() string { return "redis" }

// Write implements Sink
func (s *RedisSink) Write(ctx context.Context, alert *core.AlertRecord) error {
	data, err := json.Marshal(redisMessage{Session: s.session, Alert: alert})
	if err != nil {
		return fmt.Errorf("failed to marshal redis message: %w", err)
	}

	recent := s.RecentKey()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, s.channel, data)
		pipe.LPush(ctx, recent, data)
		pipe.LTrim(ctx, recent, 0, recentAlertsLimit-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert to %s: %w", s.channel, err)
	}
	return nil
}

// RecentKey is the list holding the most recent alerts
func (s *RedisSink) RecentKey() string {
	return s.channel + ":recent"
}

// Close implements Sink
func (s *RedisSink) Close() error {
	return s.client.Close()
}
