package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"PayChat/internal/auth"
	xerrors "PayChat/internal/errors"
	"PayChat/internal/ledger"
)

const (
	insertAccountSQL = `INSERT INTO accounts (username, password, balance, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?)`
	selectAccountSQL = `SELECT username, password, balance, created_at, updated_at
    FROM accounts WHERE username = ?`
	updateAccountSQL = `UPDATE accounts SET password = ?, balance = ?, updated_at = ?
    WHERE username = ?`
	lockBalanceSQL = `SELECT balance FROM accounts WHERE username = ?`
	debitSQL       = `UPDATE accounts SET balance = balance - ?, updated_at = ? WHERE username = ?`
	creditSQL      = `UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE username = ?`
)

// Store 基于 database/sql 的账本实现，支持 mysql、postgres 与 sqlite。
type Store struct {
	db       *sql.DB
	dialect  dialect
	verifier auth.Verifier
	now      ledger.Clock
}

var _ ledger.Store = (*Store)(nil)

// Option 定义 Store 的可选配置。
type Option func(*Store)

// WithVerifier 指定密码校验器，默认 auth.Plain。
func WithVerifier(v auth.Verifier) Option {
	return func(s *Store) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithClock 指定时间来源。
func WithClock(clock ledger.Clock) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Open 建立连接，并在 AutoMigrate 打开时执行内置迁移。
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	d, err := lookupDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	db, err := openDatabase(ctx, d, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开账本数据库失败")
	}
	store := newStore(db, d, opts...)
	if cfg.AutoMigrate {
		if err := store.runMigrations(ctx); err != nil {
			db.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行账本迁移失败")
		}
	}
	return store, nil
}

// New 使用已有的连接池构造 Store，不执行迁移。
func New(db *sql.DB, driver string, opts ...Option) (*Store, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	return newStore(db, d, opts...), nil
}

func newStore(db *sql.DB, d dialect, opts ...Option) *Store {
	s := &Store{db: db, dialect: d, verifier: auth.Plain{}, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Migrate 执行尚未应用的迁移。
func (s *Store) Migrate(ctx context.Context) error {
	return s.runMigrations(ctx)
}

// Create 新建账户，唯一键冲突映射为 ACCOUNT_EXISTS。
func (s *Store) Create(ctx context.Context, username, password string, initialBalance int64) (*ledger.Account, error) {
	if err := ledger.ValidateCredentials(username, password); err != nil {
		return nil, err
	}
	if initialBalance < 0 {
		return nil, ledger.ErrInvalidAmount
	}
	stored, err := s.verifier.Hash(password)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	_, err = s.db.ExecContext(ctx, s.dialect.rebind(insertAccountSQL), username, stored, initialBalance, now, now)
	if err != nil {
		if s.dialect.uniqueViolation(err) {
			return nil, ledger.Exists(username)
		}
		return nil, s.storageError(err, "创建账户失败")
	}
	return &ledger.Account{Username: username, Password: stored, Balance: initialBalance, CreatedAt: now, UpdatedAt: now}, nil
}

// Find 根据用户名查询账户。
func (s *Store) Find(ctx context.Context, username string) (*ledger.Account, error) {
	var acc ledger.Account
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(selectAccountSQL), username).
		Scan(&acc.Username, &acc.Password, &acc.Balance, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.NotFound(username)
	}
	if err != nil {
		return nil, s.storageError(err, "查询账户失败")
	}
	return &acc, nil
}

// Authenticate 校验用户名与密码。
func (s *Store) Authenticate(ctx context.Context, username, password string) (*ledger.Account, error) {
	acc, err := s.Find(ctx, username)
	if err != nil {
		return nil, err
	}
	if !s.verifier.Verify(acc.Password, password) {
		return nil, ledger.ErrWrongCredential
	}
	return acc, nil
}

// Update 以用户名为键整体覆盖账户，Password 按原样写入。影响行数为 0 时返回 ACCOUNT_NOT_FOUND。
func (s *Store) Update(ctx context.Context, account ledger.Account) error {
	if account.Balance < 0 {
		return ledger.ErrInvalidAmount
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(updateAccountSQL),
		account.Password, account.Balance, s.now().Unix(), account.Username)
	if err != nil {
		return s.storageError(err, "更新账户失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return s.storageError(err, "读取影响行数失败")
	}
	if affected == 0 {
		return ledger.NotFound(account.Username)
	}
	return nil
}

// Transfer 在单个事务内按用户名字典序锁定双方账户，重新读取余额后完成扣减与入账。
func (s *Store) Transfer(ctx context.Context, from, to string, amount int64) (result *ledger.Transfer, err error) {
	if err := ledger.ValidateTransfer(from, to, amount); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.storageError(err, "开启转账事务失败")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	first, second := ledger.LockOrder(from, to)
	locked := make(map[string]int64, 2)
	for _, name := range []string{first, second} {
		balance, lockErr := s.lockBalance(ctx, tx, name)
		if lockErr != nil {
			return nil, lockErr
		}
		locked[name] = balance
	}

	if locked[from] < amount {
		return nil, ledger.Insufficient(locked[from], amount)
	}
	if err := ledger.CheckCredit(to, locked[to], amount); err != nil {
		return nil, err
	}

	now := s.now().Unix()
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(debitSQL), amount, now, from); err != nil {
		return nil, s.storageError(err, "扣减余额失败")
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(creditSQL), amount, now, to); err != nil {
		return nil, s.storageError(err, "增加余额失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, s.storageError(err, "提交转账事务失败")
	}

	return &ledger.Transfer{
		ID:          uuid.NewString(),
		From:        from,
		To:          to,
		Amount:      amount,
		FromBalance: locked[from] - amount,
		ToBalance:   locked[to] + amount,
		CompletedAt: now,
	}, nil
}

func (s *Store) lockBalance(ctx context.Context, tx *sql.Tx, username string) (int64, error) {
	var balance int64
	query := s.dialect.rebind(lockBalanceSQL + s.dialect.lockClause)
	err := tx.QueryRowContext(ctx, query, username).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ledger.NotFound(username)
	}
	if err != nil {
		return 0, s.storageError(err, fmt.Sprintf("锁定账户 %s 失败", username))
	}
	return balance, nil
}

// storageError 将驱动错误包装为 STORAGE_FAILURE，对话层据此中止本轮。
func (s *Store) storageError(err error, message string) error {
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, message, xerrors.WithMetadata("driver", s.dialect.name))
}

// DB 暴露底层连接池，供健康检查使用。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭连接池。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
