package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "PAYCHAT_CONFIG"

// DefaultPath 是未设置 PAYCHAT_CONFIG 时查找的配置文件。
const DefaultPath = "configs/paychat.yaml"

// Config 描述了 PayChat 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Events  EventsConfig  `yaml:"events"`
	LLM     LLMConfig     `yaml:"llm"`
	Agent   AgentConfig   `yaml:"agent"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Alerts  AlertsConfig  `yaml:"alerts"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                  string `yaml:"address"`
	ReadHeaderTimeoutSeconds int    `yaml:"read_header_timeout_seconds"`
	ShutdownTimeoutSeconds   int    `yaml:"shutdown_timeout_seconds"`
}

// StorageConfig 描述账本的存储后端。
type StorageConfig struct {
	Ledger LedgerStoreConfig `yaml:"ledger"`
}

// LedgerStoreConfig 支持 memory、sqlite、mysql、postgres 四种驱动。
type LedgerStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	AutoMigrate            *bool  `yaml:"auto_migrate"`
}

// LedgerConfig 放置账户相关的业务参数。
type LedgerConfig struct {
	StartingBalance int64 `yaml:"starting_balance"`
}

// EventsConfig 描述账本事件的投递方式。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Durable bool   `yaml:"durable"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `yaml:"provider"`
	OpenAI   OpenAIConfig       `yaml:"openai"`
	Python   PythonBridgeConfig `yaml:"python_bridge"`
}

// OpenAIConfig 描述 Chat Completions 接口的访问参数。
type OpenAIConfig struct {
	APIKey         string  `yaml:"api_key"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `yaml:"python_executable"`
	ScriptPath       string `yaml:"script_path"`
	WorkingDir       string `yaml:"working_dir"`
}

// AgentConfig 控制对话循环。
type AgentConfig struct {
	MaxRounds          int    `yaml:"max_rounds"`
	LLMTimeoutSeconds  int    `yaml:"llm_timeout_seconds"`
	SessionIdleMinutes int    `yaml:"session_idle_minutes"`
	Preamble           string `yaml:"preamble"`
}

// AuthConfig 选择密码校验方案。
type AuthConfig struct {
	PasswordScheme string `yaml:"password_scheme"`
	BcryptCost     int    `yaml:"bcrypt_cost"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Format  string      `yaml:"format"`
	Outputs []string    `yaml:"outputs"`
	Audit   AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig 控制指标暴露方式。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// AlertsConfig 描述告警渠道。
type AlertsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// Load 依次读取 .env、配置文件与 PAYCHAT_* 环境变量。path 为空时使用
// PAYCHAT_CONFIG 或 DefaultPath，默认路径不存在时仅使用默认值。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("加载 .env 失败: %w", err)
	}

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
			path = env
			explicit = true
		} else {
			path = DefaultPath
		}
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 使用 PAYCHAT_* 环境变量覆盖文件中的值。
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("环境变量 %s 不是合法整数: %w", key, err)
		}
		*dst = parsed
		return nil
	}

	str("PAYCHAT_SERVER_ADDRESS", &c.Server.Address)
	str("PAYCHAT_LEDGER_DRIVER", &c.Storage.Ledger.Driver)
	str("PAYCHAT_LEDGER_DSN", &c.Storage.Ledger.DSN)
	str("PAYCHAT_EVENTS_DRIVER", &c.Events.Driver)
	str("PAYCHAT_REDIS_ADDRESS", &c.Events.Redis.Address)
	str("PAYCHAT_RABBITMQ_URL", &c.Events.RabbitMQ.URL)
	str("PAYCHAT_LLM_PROVIDER", &c.LLM.Provider)
	str("PAYCHAT_OPENAI_BASE_URL", &c.LLM.OpenAI.BaseURL)
	str("PAYCHAT_OPENAI_MODEL", &c.LLM.OpenAI.Model)
	str("PAYCHAT_PASSWORD_SCHEME", &c.Auth.PasswordScheme)
	str("PAYCHAT_LOG_LEVEL", &c.Logging.Level)

	if v, ok := lookup("PAYCHAT_STARTING_BALANCE"); ok && strings.TrimSpace(v) != "" {
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("环境变量 PAYCHAT_STARTING_BALANCE 不是合法整数: %w", err)
		}
		c.Ledger.StartingBalance = parsed
	}
	if err := integer("PAYCHAT_AGENT_MAX_ROUNDS", &c.Agent.MaxRounds); err != nil {
		return err
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadHeaderTimeoutSeconds <= 0 {
		c.Server.ReadHeaderTimeoutSeconds = 5
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 5
	}

	c.Storage.Ledger.Driver = strings.ToLower(c.Storage.Ledger.Driver)
	if c.Storage.Ledger.Driver == "" {
		c.Storage.Ledger.Driver = "memory"
	}
	if c.Storage.Ledger.Driver == "sqlite" && c.Storage.Ledger.DSN == "" {
		c.Storage.Ledger.DSN = "file:" + filepath.Join(baseDir, "data", "paychat.db") + "?_pragma=busy_timeout(5000)"
	}
	if c.Storage.Ledger.AutoMigrate == nil {
		enabled := true
		c.Storage.Ledger.AutoMigrate = &enabled
	}

	if c.Ledger.StartingBalance <= 0 {
		c.Ledger.StartingBalance = 100
	}

	c.Events.Driver = strings.ToLower(c.Events.Driver)
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}

	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.APIKey == "" {
		c.LLM.OpenAI.APIKey = os.Getenv(c.LLM.OpenAI.APIKeyEnv)
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = 60
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else if !filepath.IsAbs(c.LLM.Python.WorkingDir) {
		c.LLM.Python.WorkingDir = filepath.Join(baseDir, c.LLM.Python.WorkingDir)
	}

	if c.Agent.MaxRounds <= 0 {
		c.Agent.MaxRounds = 8
	}
	if c.Agent.LLMTimeoutSeconds <= 0 {
		c.Agent.LLMTimeoutSeconds = 60
	}
	if c.Agent.SessionIdleMinutes <= 0 {
		c.Agent.SessionIdleMinutes = 30
	}

	c.Auth.PasswordScheme = strings.ToLower(c.Auth.PasswordScheme)
	if c.Auth.PasswordScheme == "" {
		c.Auth.PasswordScheme = "plain"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	}
}

// Validate 检查配置之间的一致性。
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Ledger.Driver {
	case "memory", "sqlite":
	case "mysql", "postgres":
		if strings.TrimSpace(c.Storage.Ledger.DSN) == "" {
			errs = append(errs, fmt.Errorf("%s 账本需要配置 storage.ledger.dsn", c.Storage.Ledger.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的账本驱动: %s", c.Storage.Ledger.Driver))
	}

	switch c.Events.Driver {
	case "none", "memory":
	case "redis":
		if c.Events.Redis.Address == "" {
			errs = append(errs, errors.New("redis 事件需要配置 events.redis.address"))
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("rabbitmq 事件需要配置 events.rabbitmq.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的事件驱动: %s", c.Events.Driver))
	}

	switch c.LLM.Provider {
	case "openai":
	case "python_bridge":
		if c.LLM.Python.ScriptPath == "" {
			errs = append(errs, errors.New("python_bridge 需要配置 llm.python_bridge.script_path"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的大模型提供方: %s", c.LLM.Provider))
	}

	switch c.Auth.PasswordScheme {
	case "plain", "sha256", "bcrypt":
	default:
		errs = append(errs, fmt.Errorf("不支持的密码方案: %s", c.Auth.PasswordScheme))
	}
	return errors.Join(errs...)
}

// ReadHeaderTimeout 返回 HTTP 头读取超时。
func (s ServerConfig) ReadHeaderTimeout() time.Duration {
	return time.Duration(s.ReadHeaderTimeoutSeconds) * time.Second
}

// ShutdownTimeout 返回优雅关闭的等待时间。
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// LLMTimeout 返回单次模型调用的超时时间。
func (a AgentConfig) LLMTimeout() time.Duration {
	return time.Duration(a.LLMTimeoutSeconds) * time.Second
}

// SessionIdle 返回会话空闲回收时间。
func (a AgentConfig) SessionIdle() time.Duration {
	return time.Duration(a.SessionIdleMinutes) * time.Minute
}
