package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	xerrors "PayChat/internal/errors"
)

// 账本相关的错误码。
const (
	CodeAccountNotFound     xerrors.Code = "ACCOUNT_NOT_FOUND"
	CodeAccountExists       xerrors.Code = "ACCOUNT_EXISTS"
	CodeWrongCredential     xerrors.Code = "WRONG_CREDENTIAL"
	CodeInsufficientBalance xerrors.Code = "INSUFFICIENT_BALANCE"
	CodeInvalidAmount       xerrors.Code = "INVALID_AMOUNT"
	CodeSameAccount         xerrors.Code = "SAME_ACCOUNT"
	CodeBalanceOverflow     xerrors.Code = "BALANCE_OVERFLOW"
)

func init() {
	xerrors.Register(CodeAccountNotFound, xerrors.Attributes{Message: "account not found", Severity: xerrors.SeverityInfo, Recoverable: true})
	xerrors.Register(CodeAccountExists, xerrors.Attributes{Message: "username already exists", Severity: xerrors.SeverityInfo, Recoverable: true})
	xerrors.Register(CodeWrongCredential, xerrors.Attributes{Message: "wrong username or password", Severity: xerrors.SeverityWarning, Recoverable: true})
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{Message: "insufficient balance", Severity: xerrors.SeverityInfo, Recoverable: true})
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{Message: "amount must be a positive integer", Severity: xerrors.SeverityInfo, Recoverable: true})
	xerrors.Register(CodeSameAccount, xerrors.Attributes{Message: "cannot transfer to the same account", Severity: xerrors.SeverityInfo, Recoverable: true})
	xerrors.Register(CodeBalanceOverflow, xerrors.Attributes{Message: "recipient balance would overflow", Severity: xerrors.SeverityWarning, Recoverable: true})
}

// 供 errors.Is 比较的哨兵错误，按错误码匹配。
var (
	ErrAccountNotFound     = xerrors.New(CodeAccountNotFound, "")
	ErrAccountExists       = xerrors.New(CodeAccountExists, "")
	ErrWrongCredential     = xerrors.New(CodeWrongCredential, "")
	ErrInsufficientBalance = xerrors.New(CodeInsufficientBalance, "")
	ErrInvalidAmount       = xerrors.New(CodeInvalidAmount, "")
	ErrSameAccount         = xerrors.New(CodeSameAccount, "")
	ErrBalanceOverflow     = xerrors.New(CodeBalanceOverflow, "")
)

// Account 是账本中的一条账户记录。Password 保存的是校验器生成的凭证。
type Account struct {
	Username  string `json:"username"`
	Password  string `json:"-"`
	Balance   int64  `json:"balance"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Transfer 记录一次已提交的转账以及提交后的双方余额。
type Transfer struct {
	ID          string `json:"id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      int64  `json:"amount"`
	FromBalance int64  `json:"from_balance"`
	ToBalance   int64  `json:"to_balance"`
	CompletedAt int64  `json:"completed_at"`
}

// Store 定义账本的持久化能力。所有余额变更必须经过 Transfer 的事务。
// Create 与 Authenticate 接收明文口令，Update 按原样写入 Account.Password，
// 调用方须传入已由校验器生成的凭证。
type Store interface {
	Create(ctx context.Context, username, password string, initialBalance int64) (*Account, error)
	Find(ctx context.Context, username string) (*Account, error)
	Authenticate(ctx context.Context, username, password string) (*Account, error)
	Update(ctx context.Context, account Account) error
	Transfer(ctx context.Context, from, to string, amount int64) (*Transfer, error)
	Close() error
}

// NotFound 构造指定用户名的 ACCOUNT_NOT_FOUND 错误。
func NotFound(username string) error {
	return xerrors.New(CodeAccountNotFound, fmt.Sprintf("account %s not found", username))
}

// Exists 构造指定用户名的 ACCOUNT_EXISTS 错误。
func Exists(username string) error {
	return xerrors.New(CodeAccountExists, fmt.Sprintf("username %s already exists", username))
}

// Insufficient 构造余额不足错误。
func Insufficient(balance, amount int64) error {
	return xerrors.New(CodeInsufficientBalance,
		fmt.Sprintf("insufficient balance: have %d, need %d", balance, amount),
		xerrors.WithMetadata("balance", fmt.Sprint(balance)))
}

// CheckCredit 确认入账后余额不超出 int64 范围，需在锁内基于最新余额调用。
func CheckCredit(username string, balance, amount int64) error {
	if amount > math.MaxInt64-balance {
		return xerrors.New(CodeBalanceOverflow,
			fmt.Sprintf("recipient %s cannot receive %d: balance would overflow", username, amount))
	}
	return nil
}

// ValidateCredentials 检查注册参数。
func ValidateCredentials(username, password string) error {
	if strings.TrimSpace(username) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "username cannot be empty")
	}
	if password == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "password cannot be empty")
	}
	return nil
}

// ValidateTransfer 在开启事务之前检查转账参数。
func ValidateTransfer(from, to string, amount int64) error {
	if amount <= 0 {
		return xerrors.New(CodeInvalidAmount, fmt.Sprintf("amount must be positive, got %d", amount))
	}
	if from == to {
		return ErrSameAccount
	}
	return nil
}

// LockOrder 返回两个账户的加锁顺序，与转账方向无关。
func LockOrder(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Clock 允许测试注入时间。
type Clock func() time.Time
