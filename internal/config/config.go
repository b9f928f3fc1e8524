package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhangpanweb/tapable/internal/trace"
	"github.com/zhangpanweb/tapable/pkg/hooks"
	"github.com/zhangpanweb/tapable/pkg/logger"
	"github.com/zhangpanweb/tapable/pkg/plugin"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "HOOKD_CONFIG"

// Config 描述了 hookd 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     logger.Config `yaml:"log"`
	Hooks   []HookConfig  `yaml:"hooks"`
	Plugins PluginsConfig `yaml:"plugins"`
	Trace   trace.Config  `yaml:"trace"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig 控制 API 服务的监听地址与鉴权参数。
type ServerConfig struct {
	Address string `yaml:"address"`
	// Token 非空时所有 /api 请求需携带 Bearer Token。
	Token           string        `yaml:"token"`
	CallTimeout     time.Duration `yaml:"callTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// HookConfig 声明一个对外暴露的钩子。
type HookConfig struct {
	Name   string       `yaml:"name"`
	Family hooks.Family `yaml:"family"`
	Args   []string     `yaml:"args"`
}

// PluginsConfig 可以直接内联插件管理器配置，也可以引用单独的 YAML 文件。
type PluginsConfig struct {
	File                 string `yaml:"file"`
	plugin.ManagerConfig `yaml:",inline"`
}

// MetricsConfig 控制 Prometheus 指标。
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	cfg, err := Parse(content, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv 按 HOOKD_CONFIG 指定的路径加载配置，未设置时使用 configs/hookd.yaml。
func LoadFromEnv() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = filepath.Join("configs", "hookd.yaml")
	}
	return Load(path)
}

// Parse 解析 YAML 内容，baseDir 用于解析相对路径。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.resolvePlugins(baseDir); err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePlugins(baseDir string) error {
	if c.Plugins.File == "" {
		return nil
	}
	path := c.Plugins.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	managerCfg, err := plugin.LoadManagerConfig(path)
	if err != nil {
		return fmt.Errorf("加载插件配置失败: %w", err)
	}
	c.Plugins.File = path
	c.Plugins.ManagerConfig = managerCfg
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.CallTimeout <= 0 {
		c.Server.CallTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}

	for i := range c.Hooks {
		if c.Hooks[i].Family == "" {
			c.Hooks[i].Family = hooks.FamilySync
		}
	}

	if c.Plugins.Plugins == nil {
		c.Plugins.Plugins = map[string]plugin.PluginConfig{}
	}
	if c.Plugins.PluginDir != "" && !filepath.IsAbs(c.Plugins.PluginDir) {
		c.Plugins.PluginDir = filepath.Join(baseDir, c.Plugins.PluginDir)
	}

	if c.Trace.Driver == "" {
		c.Trace.Driver = "none"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "tapable"
	}
}

// Validate 检查钩子声明是否合法。
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Hooks))
	for i, h := range c.Hooks {
		name := strings.TrimSpace(h.Name)
		if name == "" {
			return fmt.Errorf("hooks[%d] 缺少名称", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("钩子 %s 重复声明", name)
		}
		seen[name] = struct{}{}
		if !h.Family.Valid() {
			return fmt.Errorf("钩子 %s 使用了未知类型 %s", name, h.Family)
		}
	}
	return c.Plugins.ManagerConfig.Validate()
}
