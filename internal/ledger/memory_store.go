package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"PayChat/internal/auth"
)

// MemoryStore 基于内存的账本实现，适用于本地调试与单元测试。
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	verifier auth.Verifier
	now      Clock
}

// MemoryOption 定义 MemoryStore 的可选配置。
type MemoryOption func(*MemoryStore)

// WithVerifier 指定密码校验器，默认 auth.Plain。
func WithVerifier(v auth.Verifier) MemoryOption {
	return func(s *MemoryStore) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithClock 指定时间来源。
func WithClock(clock Clock) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewMemoryStore 创建内存账本。
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		accounts: make(map[string]*Account),
		verifier: auth.Plain{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create 新建账户，用户名已存在时返回 ACCOUNT_EXISTS。
func (s *MemoryStore) Create(ctx context.Context, username, password string, initialBalance int64) (*Account, error) {
	if err := ValidateCredentials(username, password); err != nil {
		return nil, err
	}
	if initialBalance < 0 {
		return nil, ErrInvalidAmount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stored, err := s.verifier.Hash(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[username]; ok {
		return nil, Exists(username)
	}
	now := s.now().Unix()
	acc := &Account{Username: username, Password: stored, Balance: initialBalance, CreatedAt: now, UpdatedAt: now}
	s.accounts[username] = acc
	clone := *acc
	return &clone, nil
}

// Find 根据用户名查询账户。
func (s *MemoryStore) Find(ctx context.Context, username string) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[username]
	if !ok {
		return nil, NotFound(username)
	}
	clone := *acc
	return &clone, nil
}

// Authenticate 校验用户名与密码。
func (s *MemoryStore) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	acc, err := s.Find(ctx, username)
	if err != nil {
		return nil, err
	}
	if !s.verifier.Verify(acc.Password, password) {
		return nil, ErrWrongCredential
	}
	return acc, nil
}

// Update 以用户名为键整体覆盖账户，Password 按原样保存。
func (s *MemoryStore) Update(ctx context.Context, account Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if account.Balance < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.accounts[account.Username]
	if !ok {
		return NotFound(account.Username)
	}
	account.CreatedAt = existing.CreatedAt
	account.UpdatedAt = s.now().Unix()
	s.accounts[account.Username] = &account
	return nil
}

// Transfer 在一把锁内完成余额检查与扣减，保证原子性。
func (s *MemoryStore) Transfer(ctx context.Context, from, to string, amount int64) (*Transfer, error) {
	if err := ValidateTransfer(from, to, amount); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sender, ok := s.accounts[from]
	if !ok {
		return nil, NotFound(from)
	}
	receiver, ok := s.accounts[to]
	if !ok {
		return nil, NotFound(to)
	}
	if sender.Balance < amount {
		return nil, Insufficient(sender.Balance, amount)
	}
	if err := CheckCredit(to, receiver.Balance, amount); err != nil {
		return nil, err
	}

	now := s.now().Unix()
	sender.Balance -= amount
	receiver.Balance += amount
	sender.UpdatedAt = now
	receiver.UpdatedAt = now
	return &Transfer{
		ID:          uuid.NewString(),
		From:        from,
		To:          to,
		Amount:      amount,
		FromBalance: sender.Balance,
		ToBalance:   receiver.Balance,
		CompletedAt: now,
	}, nil
}

// Close 对内存实现无操作。
func (s *MemoryStore) Close() error { return nil }
