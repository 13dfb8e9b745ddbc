package snapshot

import (
	"context"
	"fmt"
	"strings"

	"OrchestratorSiphon/internal/config"
	xerrors "OrchestratorSiphon/internal/errors"
	"OrchestratorSiphon/internal/siphon"
)

// Store 保存并读取最近一次快照。
type Store interface {
	siphon.SnapshotSink
	// Load 返回最近保存的快照；尚无快照时 ok 为 false。
	Load(ctx context.Context) (snap siphon.Snapshot, ok bool, err error)
	Close() error
}

// Open 根据配置创建存储。driver 为 none 时返回 nil。
func Open(ctx context.Context, cfg config.SnapshotConfig) (Store, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "none":
		return nil, nil
	case "file":
		store, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "mysql", "postgres", "sqlite":
		dsn := cfg.DSN
		if driver == "sqlite" && dsn == "" {
			dsn = cfg.Path
		}
		store, err := NewSQLStore(ctx, SQLConfig{Driver: driver, DSN: dsn})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfigFailure, fmt.Sprintf("不支持的快照驱动: %s", cfg.Driver))
	}
}

func storeError(err error, message string) error {
	if err == nil {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeStoreFailure, err, message)
}
