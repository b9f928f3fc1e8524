package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/zhangpanweb/tapable/internal/api"
	"github.com/zhangpanweb/tapable/internal/config"
	"github.com/zhangpanweb/tapable/internal/observability/metrics"
	"github.com/zhangpanweb/tapable/internal/trace"
	"github.com/zhangpanweb/tapable/pkg/hook"
	"github.com/zhangpanweb/tapable/pkg/hooks"
	"github.com/zhangpanweb/tapable/pkg/logger"
	"github.com/zhangpanweb/tapable/pkg/plugin"
)

// main 是 hookd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("hookd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	appLog := logger.Named("hookd")

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	// 初始化调用事件的下游存储。
	sink, err := trace.Open(ctx, cfg.Trace)
	if err != nil {
		return err
	}
	defer func() {
		if sink != nil {
			if err := sink.Close(); err != nil {
				appLog.Warn("关闭事件存储失败", slog.String("error", err.Error()))
			}
		}
	}()

	registry, err := buildRegistry(cfg, m, sink)
	if err != nil {
		return err
	}

	manager, err := plugin.NewManager(cfg.Plugins.ManagerConfig,
		plugin.WithHooks(registry),
		plugin.WithResource("registry", registry),
	)
	if err != nil {
		return err
	}
	if err := manager.ApplyAll(ctx); err != nil {
		return err
	}
	defer func() {
		if err := manager.StopAll(context.Background()); err != nil {
			appLog.Warn("停止插件失败", slog.String("error", err.Error()))
		}
	}()
	appLog.Info("hookd 已就绪",
		slog.Int("hooks", len(registry.Names())),
		slog.Int("plugins", len(manager.IDs())),
	)

	opts := []api.Option{
		api.WithToken(cfg.Server.Token),
		api.WithCallTimeout(cfg.Server.CallTimeout),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	}
	if m != nil {
		opts = append(opts, api.WithMetrics(m))
	}
	server := api.NewServer(cfg.Server.Address, registry, opts...)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildRegistry 按配置创建钩子并挂载指标与追踪拦截器。
func buildRegistry(cfg *config.Config, m *metrics.Metrics, sink trace.Sink) (*hooks.Registry, error) {
	registry := hooks.NewRegistry()
	hookLogger := logger.Named("hook")
	for _, hc := range cfg.Hooks {
		h, err := registry.Create(hc.Name, hc.Family, hc.Args, hook.WithLogger(hookLogger))
		if err != nil {
			return nil, err
		}
		if m != nil {
			h.Intercept(m.Interceptor(hc.Name))
		}
		if sink != nil {
			h.Intercept(trace.Interceptor(hc.Name, sink, trace.WithLogger(hookLogger)))
		}
	}
	return registry, nil
}
