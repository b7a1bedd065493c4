package ws

import (
	"context"
	"errors"
	"strings"

	"github.com/IqraKhanZ/ChatNest/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const channelPrefix = "chatnest:room:"

// ErrRelayClosed 表示 ctx 未结束时订阅被关闭。
var ErrRelayClosed = errors.New("ws: redis subscription closed")

func roomChannel(roomID string) string { return channelPrefix + roomID }

// RedisRelay 让多个实例共享 message.inserted 事件：插入方 PUBLISH 到房间频道，
// 每个实例 PSUBSCRIBE 全部房间频道并转交给本地 Hub。
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
}

// NewRedisRelay 解析 redisURL 并确认连接可用。
func NewRedisRelay(ctx context.Context, redisURL string, hub *Hub) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisRelay{client: client, hub: hub}, nil
}

func (r *RedisRelay) Close() error { return r.client.Close() }

// PublishMessage 实现 service.Publisher。
func (r *RedisRelay) PublishMessage(ctx context.Context, msg models.Message) error {
	b, err := encodeInserted(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, roomChannel(msg.RoomID), b).Err()
}

// Run 把 Redis 上的房间事件转发进本地 Hub，直到 ctx 结束。ctx 结束时返回
// nil，其他原因退出都返回错误。
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrRelayClosed
			}
			roomID := strings.TrimPrefix(m.Channel, channelPrefix)
			if roomID == "" {
				log.Warn().Str("channel", m.Channel).Msg("relay: empty room id")
				continue
			}
			r.hub.Deliver(roomID, []byte(m.Payload))
		}
	}
}
