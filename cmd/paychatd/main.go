package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"PayChat/internal/agent"
	"PayChat/internal/api"
	"PayChat/internal/auth"
	"PayChat/internal/catalog"
	"PayChat/internal/config"
	"PayChat/internal/dispatch"
	"PayChat/internal/events"
	"PayChat/internal/ledger"
	"PayChat/internal/llm"
	"PayChat/internal/llm/openai"
	"PayChat/internal/llm/pythonbridge"
	"PayChat/internal/observability/alerting"
	"PayChat/internal/observability/metrics"
	"PayChat/internal/storage/sqlstore"
	"PayChat/pkg/logger"
)

// main 是 PayChat 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("paychatd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load("")
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("paychatd")

	verifier, err := auth.NewVerifier(cfg.Auth.PasswordScheme, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}

	store, err := openLedger(ctx, cfg, verifier)
	if err != nil {
		return err
	}

	publisher, err := events.Open(ctx, events.Config{
		Driver: cfg.Events.Driver,
		Redis: events.RedisConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Key:      cfg.Events.Redis.Key,
		},
		RabbitMQ: events.RabbitMQConfig{
			URL:     cfg.Events.RabbitMQ.URL,
			Queue:   cfg.Events.RabbitMQ.Queue,
			Durable: cfg.Events.RabbitMQ.Durable,
		},
	})
	if err != nil {
		_ = store.Close()
		return err
	}
	ledgerStore := ledger.NewPublishingStore(store, publisher)
	defer func() {
		if err := ledgerStore.Close(); err != nil {
			log.Warn("关闭账本失败", slog.Any("error", err))
		}
	}()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerts.WebhookURL})
	}
	alerts := alerting.NewFanout(notifiers...)

	cat := catalog.Default()
	dispatcher := dispatch.New(cat, ledgerStore, dispatch.WithStartingBalance(cfg.Ledger.StartingBalance))
	sessions := agent.NewManager(llmClient, dispatcher, cat,
		agent.WithIdleTimeout(cfg.Agent.SessionIdle()),
		agent.WithSessionOptions(
			agent.WithMaxRounds(cfg.Agent.MaxRounds),
			agent.WithLLMTimeout(cfg.Agent.LLMTimeout()),
			agent.WithPreamble(cfg.Agent.Preamble),
			agent.WithAlerts(alerts),
		),
	)
	go sessions.Run(ctx)

	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" && cfg.Metrics.Address != cfg.Server.Address {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	log.Info("PayChat 启动",
		slog.String("ledger_driver", cfg.Storage.Ledger.Driver),
		slog.String("events_driver", cfg.Events.Driver),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("password_scheme", cfg.Auth.PasswordScheme))

	server := api.NewServer(cfg.Server.Address, sessions,
		api.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout()),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout()),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openLedger(ctx context.Context, cfg *config.Config, verifier auth.Verifier) (ledger.Store, error) {
	ledgerCfg := cfg.Storage.Ledger
	switch ledgerCfg.Driver {
	case "memory":
		return ledger.NewMemoryStore(ledger.WithVerifier(verifier)), nil
	case "sqlite", "mysql", "postgres":
		return sqlstore.Open(ctx, sqlstore.Config{
			Driver:          ledgerCfg.Driver,
			DSN:             ledgerCfg.DSN,
			MaxOpenConns:    ledgerCfg.MaxOpenConns,
			MaxIdleConns:    ledgerCfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(ledgerCfg.ConnMaxLifetimeSeconds) * time.Second,
			AutoMigrate:     ledgerCfg.AutoMigrate == nil || *ledgerCfg.AutoMigrate,
		}, sqlstore.WithVerifier(verifier))
	default:
		return nil, fmt.Errorf("未知的账本驱动: %s", ledgerCfg.Driver)
	}
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Temperature: cfg.LLM.OpenAI.Temperature,
			Timeout:     time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
