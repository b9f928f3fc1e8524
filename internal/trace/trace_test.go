package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "github.com/zhangpanweb/tapable/internal/errors"
	"github.com/zhangpanweb/tapable/pkg/hooks"
	"github.com/zhangpanweb/tapable/pkg/logger"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	current := time.Unix(1700000000, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(10 * time.Millisecond)
		return current
	}
}

func TestInterceptorRecordsLifecycle(t *testing.T) {
	sink := NewMemorySink(16)
	h := hooks.NewSyncBailHook([]string{"input"})
	h.Intercept(Interceptor("resolve", sink, WithClock(fixedClock()), WithLogger(logger.Discard())))
	_ = h.Tap("skip", func(args ...any) (any, error) { return nil, nil })
	_ = h.Tap("answer", func(args ...any) (any, error) { return "found", nil })

	if _, err := h.Call("q"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := h.Call("q"); err != nil {
		t.Fatalf("call: %v", err)
	}

	events := sink.Events()
	if len(events) != 8 {
		t.Fatalf("expected 8 events, got %d: %+v", len(events), events)
	}
	want := []Phase{PhaseCall, PhaseTap, PhaseTap, PhaseResult}
	for i, phase := range want {
		if events[i].Phase != phase {
			t.Fatalf("event %d: expected %s, got %s", i, phase, events[i].Phase)
		}
	}
	first := events[0].CallID
	if first == "" || events[3].CallID != first {
		t.Fatalf("events of one call must share a call id: %+v", events[:4])
	}
	if events[4].CallID == first {
		t.Fatalf("second call reused call id %s", first)
	}
	if events[2].Tap != "answer" || events[3].Result != "found" || events[0].Hook != "resolve" {
		t.Fatalf("unexpected event payloads: %+v", events[:4])
	}
	if events[3].Duration != 40*time.Millisecond {
		t.Fatalf("unexpected duration %s", events[3].Duration)
	}
}

type failingSink struct {
	calls int
	err   error
}

func (f *failingSink) Emit(context.Context, Event) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return errors.New("unavailable")
}

func (f *failingSink) Close() error { return nil }

func TestInterceptorIgnoresSinkFailures(t *testing.T) {
	sink := &failingSink{}
	h := hooks.NewAsyncSeriesHook(nil)
	h.Intercept(Interceptor("flaky", sink, WithLogger(logger.Discard())))
	_ = h.Tap("t", func(args ...any) (any, error) { return nil, errors.New("tap failed") })

	p, err := h.Promise()
	if err != nil {
		t.Fatalf("promise: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Await(ctx); err == nil || err.Error() != "tap failed" {
		t.Fatalf("expected tap error to propagate, got %v", err)
	}
	if sink.calls != 3 {
		t.Fatalf("expected call, tap and error events, got %d", sink.calls)
	}
}

func TestInterceptorWithoutCallContext(t *testing.T) {
	sink := NewMemorySink(4)
	in := Interceptor("bare", sink, WithLogger(logger.Discard()))
	in.Call(nil)
	in.Done(nil)
	events := sink.Events()
	if len(events) != 2 || events[0].CallID != "" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestMemorySinkWrapsAround(t *testing.T) {
	sink := NewMemorySink(3)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		_ = sink.Emit(context.Background(), Event{Tap: name})
	}
	events := sink.Events()
	if len(events) != 3 || events[0].Tap != "c" || events[2].Tap != "e" {
		t.Fatalf("unexpected ring contents: %+v", events)
	}
}

type recordedPublish struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakePublisher struct {
	published []recordedPublish
	closed    bool
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.published = append(f.published, recordedPublish{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestRabbitMQSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := &RabbitMQSink{ch: pub, key: "tapable.hook_events"}

	event := Event{CallID: "id-1", Hook: "emit", Phase: PhaseDone, OccurredAt: time.Unix(10, 0)}
	if err := sink.Emit(context.Background(), event); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.published))
	}
	msg := pub.published[0]
	if msg.key != "tapable.hook_events" || msg.msg.CorrelationId != "id-1" || msg.msg.Type != "done" {
		t.Fatalf("unexpected publish: %+v", msg)
	}
	var decoded Event
	if err := json.Unmarshal(msg.msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Hook != "emit" {
		t.Fatalf("unexpected body: %+v", decoded)
	}

	if err := sink.Close(); err != nil || !pub.closed {
		t.Fatalf("close: %v", err)
	}
	if err := sink.Emit(context.Background(), event); err == nil {
		t.Fatalf("expected emit after close to fail")
	}
}

type fakeTopology struct {
	calls   []string
	bindErr error
}

func (f *fakeTopology) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.calls = append(f.calls, "exchange:"+name+":"+kind)
	return nil
}

func (f *fakeTopology) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	f.calls = append(f.calls, "queue:"+name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeTopology) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	f.calls = append(f.calls, "bind:"+name+":"+key+":"+exchange)
	return f.bindErr
}

func TestInterceptorLogsSinkErrorAttributes(t *testing.T) {
	var buf bytes.Buffer
	sink := &failingSink{err: xerrors.Wrap(xerrors.CodeSinkFailure, errors.New("connection reset"), "写入 Redis Stream 失败",
		xerrors.WithMetadata("sink", "redis"))}
	h := hooks.NewSyncHook(nil)
	h.Intercept(Interceptor("logged", sink, WithLogger(slog.New(slog.NewJSONHandler(&buf, nil)))))
	_ = h.Tap("t", func(args ...any) (any, error) { return nil, nil })
	if _, err := h.Call(); err != nil {
		t.Fatalf("call: %v", err)
	}

	line, _, _ := strings.Cut(buf.String(), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	if entry["level"] != "WARN" || entry["retryable"] != true || entry["sink"] != "redis" || entry["hook"] != "logged" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "kafka"})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if xerrors.SeverityOf(err) != xerrors.SeverityCritical || xerrors.RetryableError(err) {
		t.Fatalf("unknown driver should be critical and final: %v", err)
	}
}

func TestDeclareTopologyDeclaresExchangeBeforeBinding(t *testing.T) {
	ch := &fakeTopology{}
	queue, err := declareTopology(ch, RabbitMQConfig{Exchange: "tapable.hooks", Durable: true})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if queue != "tapable.hook_events" {
		t.Fatalf("unexpected default queue %q", queue)
	}
	want := []string{
		"exchange:tapable.hooks:direct",
		"queue:tapable.hook_events",
		"bind:tapable.hook_events:tapable.hook_events:tapable.hooks",
	}
	if len(ch.calls) != len(want) {
		t.Fatalf("unexpected calls: %v", ch.calls)
	}
	for i := range want {
		if ch.calls[i] != want[i] {
			t.Fatalf("unexpected calls: %v", ch.calls)
		}
	}

	plain := &fakeTopology{}
	if _, err := declareTopology(plain, RabbitMQConfig{Queue: "events"}); err != nil {
		t.Fatalf("declare without exchange: %v", err)
	}
	if len(plain.calls) != 1 || plain.calls[0] != "queue:events" {
		t.Fatalf("default exchange needs only the queue: %v", plain.calls)
	}

	failing := &fakeTopology{bindErr: errors.New("NOT_FOUND")}
	_, err = declareTopology(failing, RabbitMQConfig{Exchange: "x"})
	if xerrors.CodeOf(err) != xerrors.CodeSinkFailure {
		t.Fatalf("expected sink failure, got %v", err)
	}
	if e, _ := xerrors.From(err); e.Metadata()["exchange"] != "x" {
		t.Fatalf("error must name the exchange: %v", e.Metadata())
	}
}

func TestRedisValues(t *testing.T) {
	values := redisValues(Event{CallID: "c", Hook: "h", Phase: PhaseTap, Tap: "t", Duration: 5})
	if values["phase"] != "tap" || values["duration_ns"] != "5" || values["tap"] != "t" {
		t.Fatalf("unexpected values: %v", values)
	}
	if _, ok := values["payload"].(string); !ok {
		t.Fatalf("payload must be a JSON string")
	}
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	sink, err := Open(ctx, Config{Driver: "none"})
	if err != nil || sink != nil {
		t.Fatalf("expected no sink, got %v %v", sink, err)
	}
	if (Config{Driver: " None "}).Enabled() {
		t.Fatalf("none driver must be disabled")
	}
	sink, err = Open(ctx, Config{Driver: "memory", Memory: MemoryConfig{Capacity: 2}})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := sink.(*MemorySink); !ok {
		t.Fatalf("expected memory sink, got %T", sink)
	}
	if _, err := Open(ctx, Config{Driver: "kafka"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: "mysql"}); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}
