package migrations

import "embed"

// Files 暴露账本的 SQL 迁移文件，语句需同时兼容 mysql、postgres 与 sqlite。
//
//go:embed *.sql
var Files embed.FS
