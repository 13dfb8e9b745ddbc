package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"OrchestratorSiphon/internal/siphon"
)

// FileStore 把快照写成单个 JSON 文件，先写临时文件再原子替换。
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore 创建文件存储并确保目录存在。
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, storeError(errors.New("path is empty"), "快照文件路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storeError(err, "创建快照目录失败")
	}
	return &FileStore{path: path}, nil
}

// Path 返回快照文件路径。
func (s *FileStore) Path() string { return s.path }

// Save 实现 siphon.SnapshotSink。
func (s *FileStore) Save(_ context.Context, snap siphon.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return storeError(err, "序列化快照失败")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*.json")
	if err != nil {
		return storeError(err, "创建临时快照文件失败")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(encoded, '\n')); err != nil {
		tmp.Close()
		return storeError(err, "写入快照失败")
	}
	if err := tmp.Close(); err != nil {
		return storeError(err, "关闭临时快照文件失败")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return storeError(err, fmt.Sprintf("替换快照文件 %s 失败", s.path))
	}
	return nil
}

// Load 读取快照文件，文件不存在时 ok 为 false。
func (s *FileStore) Load(_ context.Context) (siphon.Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return siphon.Snapshot{}, false, nil
	}
	if err != nil {
		return siphon.Snapshot{}, false, storeError(err, "读取快照失败")
	}
	var snap siphon.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return siphon.Snapshot{}, false, storeError(err, "解析快照失败")
	}
	return snap, true, nil
}

// Close 无需释放资源。
func (s *FileStore) Close() error { return nil }
