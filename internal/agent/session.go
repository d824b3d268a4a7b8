package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"PayChat/internal/catalog"
	"PayChat/internal/dispatch"
	xerrors "PayChat/internal/errors"
	"PayChat/internal/ledger"
	"PayChat/internal/llm"
	"PayChat/internal/observability/alerting"
	"PayChat/internal/observability/metrics"
	"PayChat/pkg/logger"
)

// 会话相关的错误码。
const (
	CodeSessionBusy        xerrors.Code = "SESSION_BUSY"
	CodeLoopBudgetExceeded xerrors.Code = "LOOP_BUDGET_EXCEEDED"
	CodeSessionNotFound    xerrors.Code = "SESSION_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeSessionBusy, xerrors.Attributes{Message: "session is busy with another message", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeLoopBudgetExceeded, xerrors.Attributes{Message: "too many operations requested for one message", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeSessionNotFound, xerrors.Attributes{Message: "session not found", Severity: xerrors.SeverityInfo})
}

// 供 errors.Is 比较的哨兵错误。
var (
	ErrSessionBusy        = xerrors.New(CodeSessionBusy, "")
	ErrLoopBudgetExceeded = xerrors.New(CodeLoopBudgetExceeded, "")
	ErrSessionNotFound    = xerrors.New(CodeSessionNotFound, "")
)

// DefaultPreamble 是 system 消息的固定开头。
const DefaultPreamble = "You are the AI assistant of a payment system. " +
	"You need to assist the user based on the functions you are provided. " +
	"Note that you have access to only four functions: signup, login, transfer, and logout. " +
	"Please focus on the functions you are provided.\n"

// DefaultMaxRounds 是单次 Chat 允许的最大操作分发次数。
const DefaultMaxRounds = 8

// State 是会话状态机的状态。
type State int32

const (
	StateIdle State = iota
	StateAwaitingModel
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateDispatching:
		return "dispatching"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session 持有一段对话的认证状态与历史，并驱动与大模型的循环。
// 同一时刻只允许一个 Chat 调用。
type Session struct {
	id         string
	model      llm.Client
	dispatcher *dispatch.Dispatcher
	catalog    *catalog.Catalog
	preamble   string
	maxRounds  int
	llmTimeout time.Duration
	alerts     alerting.Dispatcher
	clock      func() time.Time
	log        *slog.Logger

	busy  atomic.Bool
	state atomic.Int32

	mu         sync.Mutex
	account    *ledger.Account
	system     llm.Message
	history    []llm.Message
	lastActive time.Time
}

// Option 定义可选的会话配置。
type Option func(*Session)

// WithMaxRounds 设置单次 Chat 的最大操作分发次数。
func WithMaxRounds(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxRounds = n
		}
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		if timeout <= 0 {
			s.llmTimeout = 0
			return
		}
		s.llmTimeout = timeout
	}
}

// WithPreamble 覆盖 system 消息的开头。
func WithPreamble(preamble string) Option {
	return func(s *Session) {
		if preamble != "" {
			s.preamble = preamble
		}
	}
}

// WithAlerts 配置硬失败的告警通道。
func WithAlerts(alerts alerting.Dispatcher) Option {
	return func(s *Session) {
		s.alerts = alerts
	}
}

// WithClock 允许测试注入时间。
func WithClock(clock func() time.Time) Option {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSession 创建一个未登录的会话。
func NewSession(id string, model llm.Client, dispatcher *dispatch.Dispatcher, cat *catalog.Catalog, opts ...Option) *Session {
	s := &Session{
		id:         id,
		model:      model,
		dispatcher: dispatcher,
		catalog:    cat,
		preamble:   DefaultPreamble,
		maxRounds:  DefaultMaxRounds,
		clock:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = logger.Named("agent").With(slog.String("session_id", id))
	s.system = systemMessage(s.preamble, nil)
	s.lastActive = s.clock()
	return s
}

// ID 返回会话标识。
func (s *Session) ID() string { return s.id }

// State 返回当前状态。
func (s *Session) State() State { return State(s.state.Load()) }

// Busy 返回是否有 Chat 正在进行。
func (s *Session) Busy() bool { return s.busy.Load() }

// Account 返回当前登录账户的副本，未登录时为 nil。
func (s *Session) Account() *ledger.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return nil
	}
	clone := *s.account
	return &clone
}

// SetAccount 更新认证状态并立即重建 system 消息。nil 表示登出。
func (s *Session) SetAccount(account *ledger.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account == nil {
		s.account = nil
	} else {
		clone := *account
		s.account = &clone
	}
	s.system = systemMessage(s.preamble, s.account)
}

// System 返回当前的 system 消息。
func (s *Session) System() llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.system
}

// History 返回历史消息的副本，不含 system 消息。
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

// LastActive 返回最近一次 Chat 的时间。
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Chat 追加用户消息并驱动模型循环，按顺序产出每轮模型给出的文本。
// 硬失败作为最后一个元素的 error 产出。序列是惰性的，不可重放。
func (s *Session) Chat(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !s.busy.CompareAndSwap(false, true) {
			yield("", xerrors.New(CodeSessionBusy, fmt.Sprintf("session %s is busy", s.id)))
			return
		}
		defer func() {
			s.state.Store(int32(StateIdle))
			s.touch()
			s.busy.Store(false)
		}()

		s.appendTurn(llm.Message{Role: llm.RoleUser, Content: text})
		if err := s.loop(ctx, yield); err != nil {
			s.fail(ctx, err)
			yield("", err)
		}
	}
}

// loop 返回的 error 为硬失败；消费方提前停止时返回 nil。
func (s *Session) loop(ctx context.Context, yield func(string, error) bool) error {
	dispatched := 0
	for {
		s.state.Store(int32(StateAwaitingModel))
		reply, err := s.complete(ctx)
		if err != nil {
			return err
		}

		var call *llm.FunctionCall
		if len(reply.FunctionCalls) > 0 {
			call = &reply.FunctionCalls[0]
			if extra := len(reply.FunctionCalls) - 1; extra > 0 {
				s.log.Warn("模型一次请求了多个操作，仅执行第一个",
					slog.String("operation", call.Name),
					slog.Int("discarded", extra))
			}
		}

		if reply.Content != "" {
			s.appendTurn(llm.Message{Role: llm.RoleAssistant, Content: reply.Content})
			if !yield(reply.Content, nil) {
				return nil
			}
		}
		if call == nil {
			return nil
		}

		if dispatched >= s.maxRounds {
			return xerrors.New(CodeLoopBudgetExceeded,
				fmt.Sprintf("more than %d operations requested for one message", s.maxRounds),
				xerrors.WithMetadata("operation", call.Name))
		}
		dispatched++

		s.state.Store(int32(StateDispatching))
		result, err := s.dispatch(ctx, *call)
		if err != nil {
			return err
		}
		s.appendTurn(llm.Message{Role: llm.RoleFunction, Name: call.Name, Content: result})
	}
}

func (s *Session) complete(ctx context.Context) (*llm.Reply, error) {
	if s.model == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	req := s.request()

	llmCtx := ctx
	if s.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, s.llmTimeout)
		defer cancel()
	}

	started := time.Now()
	reply, err := s.model.Complete(llmCtx, req)
	metrics.ObserveModelCall(err, time.Since(started))
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "language model timed out")
		}
		return nil, xerrors.Wrap(xerrors.CodeModelFailure, err, "language model request failed")
	}
	if reply == nil {
		return nil, xerrors.New(xerrors.CodeModelFailure, "language model returned an empty reply")
	}
	return reply, nil
}

func (s *Session) dispatch(ctx context.Context, call llm.FunctionCall) (string, error) {
	args, err := call.DecodeArguments()
	if err != nil {
		s.log.Info("模型给出的参数无法解析", slog.String("operation", call.Name), slog.Any("error", err))
		return dispatch.ErrorMarker + err.Error(), nil
	}
	return s.dispatcher.Dispatch(ctx, s, call.Name, args)
}

// request 每轮重新构造，system 消息始终在首位。
func (s *Session) request() llm.Request {
	s.mu.Lock()
	messages := make([]llm.Message, 0, len(s.history)+1)
	messages = append(messages, s.system)
	messages = append(messages, s.history...)
	authenticated := s.account != nil
	s.mu.Unlock()

	descriptors := s.catalog.OperationsFor(authenticated)
	functions := make([]llm.FunctionDefinition, len(descriptors))
	for i, d := range descriptors {
		functions[i] = llm.FunctionDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters()}
	}
	return llm.Request{Messages: messages, Functions: functions}
}

func (s *Session) appendTurn(msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.clock()
}

func (s *Session) fail(ctx context.Context, err error) {
	code := xerrors.CodeOf(err)
	metrics.ObserveChatFailure(string(code))
	s.log.Error("对话处理失败", slog.String("code", string(code)), slog.Any("error", err))
	if s.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if alertErr := s.alerts.Notify(context.WithoutCancel(ctx), alerting.FromError(err, s.id)); alertErr != nil {
		s.log.Warn("告警发送失败", slog.Any("error", alertErr))
	}
}

func systemMessage(preamble string, account *ledger.Account) llm.Message {
	content := preamble
	if account != nil {
		content += fmt.Sprintf("User info:\nusername: %s\nbalance: %d.", account.Username, account.Balance)
	} else {
		content += "User hasn't logged in."
	}
	return llm.Message{Role: llm.RoleSystem, Content: content}
}
