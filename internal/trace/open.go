package trace

import (
	"context"
	"fmt"
	"strings"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// Config 选择并配置事件汇。
type Config struct {
	// Driver 取值 none、memory、redis、mysql、rabbitmq。
	Driver   string         `yaml:"driver"`
	Memory   MemoryConfig   `yaml:"memory"`
	Redis    RedisConfig    `yaml:"redis"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// MemoryConfig 控制内存事件汇的容量。
type MemoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// Enabled 判断是否需要记录调用事件。
func (c Config) Enabled() bool {
	d := strings.ToLower(strings.TrimSpace(c.Driver))
	return d != "" && d != "none"
}

// Open 根据配置创建事件汇。Driver 为空或 none 时返回 nil。
func Open(ctx context.Context, cfg Config) (Sink, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemorySink(cfg.Memory.Capacity), nil
	case "redis":
		sink, err := NewRedisSink(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "mysql":
		sink, err := NewMySQLSink(ctx, cfg.MySQL)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "rabbitmq", "amqp":
		sink, err := NewRabbitMQSink(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的事件汇类型 %q", cfg.Driver),
			xerrors.WithSeverity(xerrors.SeverityCritical), xerrors.WithMetadata("driver", cfg.Driver))
	}
}
