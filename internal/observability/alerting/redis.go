package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisListLimit = 1000

// RedisConfig 描述事件列表的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	List     string
	// MaxLen 限制列表长度，0 表示默认值。
	MaxLen int64
}

// NewRedisClient 建立连接并 Ping 一次。
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// RedisNotifier 把事件以 JSON 形式 LPUSH 到列表，并裁剪到 MaxLen。
type RedisNotifier struct {
	client redis.Cmdable
	list   string
	maxLen int64
}

// NewRedisNotifier 使用已有客户端创建通知器。
func NewRedisNotifier(client redis.Cmdable, cfg RedisConfig) *RedisNotifier {
	list := cfg.List
	if list == "" {
		list = "siphon:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = defaultRedisListLimit
	}
	return &RedisNotifier{client: client, list: list, maxLen: maxLen}
}

// Channel 返回 Redis 渠道。
func (n *RedisNotifier) Channel() Channel { return ChannelRedis }

// Notify 将事件写入 Redis 列表。
func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.client == nil {
		return errors.New("Redis 通知器未初始化")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	pipe := n.client.TxPipeline()
	pipe.LPush(ctx, n.list, payload)
	pipe.LTrim(ctx, n.list, 0, n.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Redis 写入事件失败: %w", err)
	}
	return nil
}
