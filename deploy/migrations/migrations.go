package migrations

import "embed"

// Files 暴露所有 SQL 迁移文件，由 trace 包的 MySQL 事件汇在启动时执行。
//
//go:embed *.sql
var Files embed.FS
