package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"PayChat/internal/catalog"
	"PayChat/internal/dispatch"
	xerrors "PayChat/internal/errors"
	"PayChat/internal/llm"
	"PayChat/internal/observability/metrics"
	"PayChat/pkg/logger"
)

// Manager 按 ID 管理会话，并回收长时间空闲的会话。
type Manager struct {
	model       llm.Client
	dispatcher  *dispatch.Dispatcher
	catalog     *catalog.Catalog
	options     []Option
	idleTimeout time.Duration
	clock       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerOption 定义可选的管理器配置。
type ManagerOption func(*Manager)

// WithIdleTimeout 设置会话空闲回收时间，0 表示不回收。
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d >= 0 {
			m.idleTimeout = d
		}
	}
}

// WithSessionOptions 为新建会话附加配置。
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.options = append(m.options, opts...)
	}
}

// WithManagerClock 允许测试注入时间。
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager 创建会话管理器。
func NewManager(model llm.Client, dispatcher *dispatch.Dispatcher, cat *catalog.Catalog, opts ...ManagerOption) *Manager {
	m := &Manager{
		model:       model,
		dispatcher:  dispatcher,
		catalog:     cat,
		idleTimeout: 30 * time.Minute,
		clock:       time.Now,
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Create 新建一个未登录的会话。
func (m *Manager) Create() *Session {
	id := uuid.NewString()
	opts := append([]Option{WithClock(m.clock)}, m.options...)
	session := NewSession(id, m.model, m.dispatcher, m.catalog, opts...)

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	metrics.SessionOpened()
	logger.Named("agent").Info("会话已创建", slog.String("session_id", id))
	return session
}

// Get 按 ID 查找会话并刷新其活跃时间。刷新与 Evict 共用 m.mu，
// 取出的会话在进入 Chat 之前不会被回收。
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, xerrors.New(CodeSessionNotFound, fmt.Sprintf("session %s not found", id))
	}
	session.touch()
	return session, nil
}

// End 结束并丢弃会话。
func (m *Manager) End(id string) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return xerrors.New(CodeSessionNotFound, fmt.Sprintf("session %s not found", id))
	}
	metrics.SessionClosed()
	logger.Named("agent").Info("会话已结束", slog.String("session_id", id))
	return nil
}

// Len 返回当前会话数量。
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Evict 回收空闲超时且没有进行中 Chat 的会话，返回回收数量。
func (m *Manager) Evict() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	deadline := m.clock().Add(-m.idleTimeout)

	m.mu.Lock()
	var evicted []string
	for id, session := range m.sessions {
		if session.Busy() || session.LastActive().After(deadline) {
			continue
		}
		delete(m.sessions, id)
		evicted = append(evicted, id)
	}
	m.mu.Unlock()

	for _, id := range evicted {
		metrics.SessionClosed()
		logger.Named("agent").Info("空闲会话已回收", slog.String("session_id", id))
	}
	return len(evicted)
}

// Run 周期性回收空闲会话，直到 ctx 结束。
func (m *Manager) Run(ctx context.Context) {
	if m.idleTimeout <= 0 {
		<-ctx.Done()
		return
	}
	interval := m.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict()
		}
	}
}
