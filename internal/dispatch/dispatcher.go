package dispatch

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"

	"PayChat/internal/catalog"
	xerrors "PayChat/internal/errors"
	"PayChat/internal/ledger"
	"PayChat/internal/observability/metrics"
	"PayChat/pkg/logger"
)

// ErrorMarker 是所有可恢复失败文本的前缀。
const ErrorMarker = "Error: "

// 成功时返回给模型的确认文本。
const (
	SignupOK   = "Signup successfully"
	LoginOK    = "Login successfully"
	LogoutOK   = "Logout successfully"
	TransferOK = "Transfer successfully"
)

// ErrNotLoggedIn 表示在未登录状态下请求了需要登录的操作。
var ErrNotLoggedIn = xerrors.New(xerrors.CodeUnauthenticated, "User not logged in")

// Session 是分发器需要的会话能力。SetAccount 传 nil 表示登出，
// 实现方必须在认证状态或余额变化时立即重建 system 消息。
type Session interface {
	Account() *ledger.Account
	SetAccount(account *ledger.Account)
}

// Dispatcher 校验并执行模型请求的操作。
type Dispatcher struct {
	catalog         *catalog.Catalog
	store           ledger.Store
	startingBalance int64
	log             *slog.Logger
}

// Option 定义可选配置。
type Option func(*Dispatcher)

// WithStartingBalance 设置注册时的初始余额。
func WithStartingBalance(balance int64) Option {
	return func(d *Dispatcher) {
		if balance >= 0 {
			d.startingBalance = balance
		}
	}
}

// DefaultStartingBalance 是新账户的默认余额。
const DefaultStartingBalance int64 = 100

// New 创建分发器。
func New(cat *catalog.Catalog, store ledger.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog:         cat,
		store:           store,
		startingBalance: DefaultStartingBalance,
		log:             logger.Named("dispatch"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Dispatch 执行一次操作并返回写入 function 消息的文本。
// 业务失败以 "Error: " 开头的文本返回，只有基础设施故障才返回 error。
func (d *Dispatcher) Dispatch(ctx context.Context, session Session, name string, raw map[string]any) (string, error) {
	text, err := d.dispatch(ctx, session, name, raw)
	switch {
	case err == nil:
		metrics.ObserveDispatch(name, metrics.OutcomeOK)
		d.log.Debug("操作执行成功", slog.String("operation", name))
		return text, nil
	case recoverable(err):
		metrics.ObserveDispatch(name, metrics.OutcomeRejected)
		d.log.Info("操作被拒绝",
			slog.String("operation", name),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.String("reason", xerrors.Render(err)))
		return ErrorMarker + text + xerrors.Render(err), nil
	default:
		metrics.ObserveDispatch(name, metrics.OutcomeFailed)
		d.log.Error("操作执行失败", slog.String("operation", name), slog.Any("error", err))
		return "", err
	}
}

// dispatch 在失败时返回的 text 作为错误文本的前缀。
func (d *Dispatcher) dispatch(ctx context.Context, session Session, name string, raw map[string]any) (string, error) {
	authenticated := session.Account() != nil
	if !d.catalog.Visible(name, authenticated) {
		if _, err := d.catalog.Describe(name); err != nil {
			return "", err
		}
		if !authenticated {
			return "", ErrNotLoggedIn
		}
		return "", xerrors.New(catalog.CodeUnknownOperation,
			fmt.Sprintf("operation %s is not available while logged in", name))
	}

	descriptor, err := d.catalog.Describe(name)
	if err != nil {
		return "", err
	}
	args, err := descriptor.Validate(raw)
	if err != nil {
		return "", err
	}

	switch name {
	case catalog.OpSignup:
		return d.signup(ctx, session, args)
	case catalog.OpLogin:
		return d.login(ctx, session, args)
	case catalog.OpLogout:
		session.SetAccount(nil)
		return LogoutOK, nil
	case catalog.OpTransfer:
		return d.transfer(ctx, session, args)
	}
	return "", catalog.UnknownOperation(name)
}

func (d *Dispatcher) signup(ctx context.Context, session Session, args catalog.Arguments) (string, error) {
	account, err := d.store.Create(ctx, args.String("username"), args.String("password"), d.startingBalance)
	if err != nil {
		return "Signup failed: ", err
	}
	session.SetAccount(account)
	return SignupOK, nil
}

func (d *Dispatcher) login(ctx context.Context, session Session, args catalog.Arguments) (string, error) {
	account, err := d.store.Authenticate(ctx, args.String("username"), args.String("password"))
	if err != nil {
		return "Login failed: ", err
	}
	session.SetAccount(account)
	return LoginOK, nil
}

func (d *Dispatcher) transfer(ctx context.Context, session Session, args catalog.Arguments) (string, error) {
	current := session.Account()
	if current == nil {
		return "", ErrNotLoggedIn
	}
	result, err := d.store.Transfer(ctx, current.Username, args.String("to"), args.Int("amount"))
	if err != nil {
		return "Transfer failed: ", err
	}
	refreshed := *current
	refreshed.Balance = result.FromBalance
	refreshed.UpdatedAt = result.CompletedAt
	session.SetAccount(&refreshed)
	return fmt.Sprintf("%s. Your balance is now %d.", TransferOK, result.FromBalance), nil
}

// recoverable 判断错误能否作为文本交还给模型。
func recoverable(err error) bool {
	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var validation *catalog.ValidationError
	if stdErrors.As(err, &validation) {
		return true
	}
	return xerrors.Recoverable(err)
}
