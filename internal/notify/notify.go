// Package notify broadcasts tariff cache invalidations between API
// instances over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RefreshMessage is published on the refresh channel.
type RefreshMessage struct {
	Origin    string `json:"origin"`
	Nonce     string `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// Redis publishes and receives refresh messages. Messages an instance
// published itself are ignored on receipt.
type Redis struct {
	rdb     *redis.Client
	channel string
	origin  string
	log     *zap.Logger
}

func NewRedis(ctx context.Context, addr, password string, db int, channel string, log *zap.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return newRedis(rdb, channel, log), nil
}

func newRedis(rdb *redis.Client, channel string, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	host, _ := os.Hostname()
	return &Redis{
		rdb:     rdb,
		channel: channel,
		origin:  host + "/" + uuid.NewString(),
		log:     log,
	}
}

func (r *Redis) PublishRefresh(ctx context.Context) error {
	msg, err := json.Marshal(RefreshMessage{
		Origin:    r.origin,
		Nonce:     uuid.NewString(),
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}

// Listen calls onRefresh for every refresh published by another instance
// until ctx is done.
func (r *Redis) Listen(ctx context.Context, onRefresh func()) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg RefreshMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.log.Warn("ignoring malformed refresh message", zap.String("payload", m.Payload), zap.Error(err))
				continue
			}
			if msg.Origin == r.origin {
				continue
			}
			r.log.Info("tariff refresh received", zap.String("from", msg.Origin))
			onRefresh()
		}
	}
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
