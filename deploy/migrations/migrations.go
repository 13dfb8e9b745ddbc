package migrations

import "embed"

// Files 暴露快照存储的 SQL 迁移文件，按方言分目录。
//
//go:embed mysql/*.sql postgres/*.sql sqlite/*.sql
var Files embed.FS
