package trace

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// MySQLConfig 描述 MySQL 事件汇的连接参数。
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// MySQLSink 将事件写入 hook_events 表。
type MySQLSink struct {
	db *sql.DB
}

// NewMySQLSink 连接 MySQL 并执行内置迁移。
func NewMySQLSink(ctx context.Context, cfg MySQLConfig) (*MySQLSink, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 MySQL DSN 失败")
	}
	dsn.ParseTime = true
	connector, err := mysql.NewConnector(dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "创建 MySQL 连接器失败")
	}
	db := sql.OpenDB(connector)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "无法连接到 MySQL", xerrors.WithMetadata("sink", "mysql"))
	}
	sink, err := NewMySQLSinkWithDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return sink, nil
}

// NewMySQLSinkWithDB 在已有连接上执行迁移并创建事件汇。
func NewMySQLSinkWithDB(ctx context.Context, db *sql.DB) (*MySQLSink, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库连接不能为空")
	}
	if err := runMigrations(ctx, db); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "执行迁移失败")
	}
	return &MySQLSink{db: db}, nil
}

const insertEventSQL = `INSERT INTO hook_events
        (call_id, hook, phase, tap, error_message, result, duration_ns, occurred_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Emit 实现 Sink。
func (s *MySQLSink) Emit(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, insertEventSQL,
		event.CallID,
		event.Hook,
		string(event.Phase),
		event.Tap,
		event.Error,
		event.Result,
		int64(event.Duration),
		event.OccurredAt.UnixMilli(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "写入 hook_events 失败", xerrors.WithMetadata("sink", "mysql"))
	}
	return nil
}

// Close 关闭数据库连接。
func (s *MySQLSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
