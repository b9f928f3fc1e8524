package trace

import (
	"context"
	"encoding/json"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 事件汇的连接参数。
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
	Durable  bool   `yaml:"durable"`
}

// publisher 抽象出 amqp.Channel 的发布能力，便于测试。
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQSink 以 JSON 消息发布事件。
type RabbitMQSink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       publisher
	exchange string
	key      string
}

// topology 抽象出声明交换机与队列所需的 amqp.Channel 方法，便于测试。
type topology interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// NewRabbitMQSink 连接 RabbitMQ 并声明事件队列。
func NewRabbitMQSink(cfg RabbitMQConfig) (*RabbitMQSink, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "连接 RabbitMQ 失败", xerrors.WithMetadata("sink", "rabbitmq"))
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeSinkFailure, err, "创建 RabbitMQ channel 失败", xerrors.WithMetadata("sink", "rabbitmq"))
	}
	queue, err := declareTopology(ch, cfg)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &RabbitMQSink{conn: conn, ch: ch, exchange: cfg.Exchange, key: queue}, nil
}

// declareTopology 声明事件队列；配置了交换机时先声明 direct 交换机再绑定。
// 返回实际使用的队列名，同时作为路由键。
func declareTopology(ch topology, cfg RabbitMQConfig) (string, error) {
	queue := cfg.Queue
	if queue == "" {
		queue = "tapable.hook_events"
	}
	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, cfg.Durable, false, false, false, nil); err != nil {
			return "", xerrors.Wrap(xerrors.CodeSinkFailure, err, "声明 RabbitMQ 交换机失败", xerrors.WithMetadata("exchange", cfg.Exchange))
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		return "", xerrors.Wrap(xerrors.CodeSinkFailure, err, "声明 RabbitMQ 队列失败", xerrors.WithMetadata("queue", queue))
	}
	if cfg.Exchange != "" {
		if err := ch.QueueBind(queue, queue, cfg.Exchange, false, nil); err != nil {
			return "", xerrors.Wrap(xerrors.CodeSinkFailure, err, "绑定 RabbitMQ 队列失败", xerrors.WithMetadata("exchange", cfg.Exchange))
		}
	}
	return queue, nil
}

// Emit 实现 Sink。amqp.Channel 不支持并发发布，这里串行化。
func (s *RabbitMQSink) Emit(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "编码事件失败", xerrors.WithRetryable(false))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 事件汇未初始化")
	}
	err = s.ch.PublishWithContext(ctx, s.exchange, s.key, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: event.CallID,
		Type:          string(event.Phase),
		Timestamp:     event.OccurredAt,
		Body:          body,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeSinkFailure, err, "发布事件到 RabbitMQ 失败", xerrors.WithMetadata("sink", "rabbitmq"))
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (s *RabbitMQSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
