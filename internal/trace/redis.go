package trace

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// RedisConfig 描述 Redis Stream 事件汇的连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	// MaxLen 为 Stream 的近似最大长度，0 表示不裁剪。
	MaxLen int64 `yaml:"maxLen"`
}

// RedisSink 通过 XADD 将事件写入 Redis Stream。
type RedisSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisSink 创建 Redis Stream 事件汇并校验连接。
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "连接 Redis 失败", xerrors.WithMetadata("sink", "redis"))
	}
	return NewRedisSinkWithClient(client, cfg), nil
}

// NewRedisSinkWithClient 使用已有客户端创建事件汇。
func NewRedisSinkWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisSink {
	stream := cfg.Stream
	if stream == "" {
		stream = "tapable:hook_events"
	}
	return &RedisSink{client: client, stream: stream, maxLen: cfg.MaxLen}
}

// Emit 实现 Sink。
func (s *RedisSink) Emit(ctx context.Context, event Event) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: redisValues(event),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "写入 Redis Stream 失败", xerrors.WithMetadata("sink", "redis"))
	}
	return nil
}

func redisValues(event Event) map[string]any {
	payload, _ := json.Marshal(event)
	return map[string]any{
		"call_id":     event.CallID,
		"hook":        event.Hook,
		"phase":       string(event.Phase),
		"tap":         event.Tap,
		"duration_ns": strconv.FormatInt(int64(event.Duration), 10),
		"payload":     string(payload),
	}
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
