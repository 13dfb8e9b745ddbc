package snapshot

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"OrchestratorSiphon/internal/siphon"
)

// roundField 是哈希中保存轮次状态的字段名，账户字段使用小写地址。
const roundField = "_round"

// RedisMirror 把快照镜像到一个 Redis 哈希，供外部看板读取。它只写不读。
type RedisMirror struct {
	client redis.Cmdable
	key    string
}

// NewRedisMirror 使用已有客户端创建镜像。
func NewRedisMirror(client redis.Cmdable, key string) *RedisMirror {
	if key == "" {
		key = "siphon:snapshot"
	}
	return &RedisMirror{client: client, key: key}
}

// Save 实现 siphon.SnapshotSink。
func (m *RedisMirror) Save(ctx context.Context, snap siphon.Snapshot) error {
	fields := make(map[string]any, len(snap.Accounts)+1)
	round, err := json.Marshal(snap.Round)
	if err != nil {
		return storeError(err, "序列化轮次失败")
	}
	fields[roundField] = string(round)
	for _, acct := range snap.Accounts {
		encoded, err := json.Marshal(acct)
		if err != nil {
			return storeError(err, "序列化账户快照失败")
		}
		fields[strings.ToLower(acct.Address)] = string(encoded)
	}
	if err := m.client.HSet(ctx, m.key, fields).Err(); err != nil {
		return storeError(err, "写入 Redis 快照失败")
	}
	return nil
}
