package ledger

import (
	"context"
	"log/slog"
	"time"

	"PayChat/internal/events"
	"PayChat/pkg/logger"
)

const defaultPublishTimeout = 2 * time.Second

// PublishingStore 在底层事务提交后写审计日志并投递账本事件。
// 事件投递失败只记录日志，不影响已提交的结果。
type PublishingStore struct {
	Store
	publisher events.Publisher
	timeout   time.Duration
	log       *slog.Logger
	audit     *slog.Logger
}

// NewPublishingStore 包装 store。publisher 为空时只写审计日志。
func NewPublishingStore(store Store, publisher events.Publisher) *PublishingStore {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &PublishingStore{
		Store:     store,
		publisher: publisher,
		timeout:   defaultPublishTimeout,
		log:       logger.Named("ledger"),
		audit:     logger.Audit(),
	}
}

// Create 创建账户并发布 account.created。
func (s *PublishingStore) Create(ctx context.Context, username, password string, initialBalance int64) (*Account, error) {
	acc, err := s.Store.Create(ctx, username, password, initialBalance)
	if err != nil {
		return nil, err
	}
	s.audit.Info("账户已创建", slog.String("username", acc.Username), slog.Int64("balance", acc.Balance))

	ev := events.New(events.TypeAccountCreated)
	ev.Username = acc.Username
	ev.Balance = acc.Balance
	s.publish(ctx, ev)
	return acc, nil
}

// Update 覆盖账户并写审计日志。
func (s *PublishingStore) Update(ctx context.Context, account Account) error {
	if err := s.Store.Update(ctx, account); err != nil {
		return err
	}
	s.audit.Info("账户已更新", slog.String("username", account.Username), slog.Int64("balance", account.Balance))
	return nil
}

// Transfer 完成转账并发布 transfer.completed。
func (s *PublishingStore) Transfer(ctx context.Context, from, to string, amount int64) (*Transfer, error) {
	tr, err := s.Store.Transfer(ctx, from, to, amount)
	if err != nil {
		return nil, err
	}
	s.audit.Info("转账完成",
		slog.String("transfer_id", tr.ID),
		slog.String("from", tr.From),
		slog.String("to", tr.To),
		slog.Int64("amount", tr.Amount),
		slog.Int64("from_balance", tr.FromBalance),
		slog.Int64("to_balance", tr.ToBalance))

	ev := events.New(events.TypeTransferCompleted)
	ev.From, ev.To, ev.Amount = tr.From, tr.To, tr.Amount
	ev.Balance = tr.FromBalance
	ev.TransferID = tr.ID
	s.publish(ctx, ev)
	return tr, nil
}

// Close 关闭底层存储与事件投递器。
func (s *PublishingStore) Close() error {
	pubErr := s.publisher.Close()
	if err := s.Store.Close(); err != nil {
		return err
	}
	return pubErr
}

func (s *PublishingStore) publish(ctx context.Context, ev events.Event) {
	// 请求上下文可能已被取消，事件使用独立的超时。
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, ev); err != nil {
		s.log.Warn("账本事件投递失败",
			slog.String("event_id", ev.ID),
			slog.String("type", string(ev.Type)),
			slog.Any("error", err))
	}
}
