package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"PayChat/internal/catalog"
	"PayChat/internal/dispatch"
	xerrors "PayChat/internal/errors"
	"PayChat/internal/ledger"
	"PayChat/internal/llm"
	"PayChat/internal/observability/alerting"
)

func newTestSession(t *testing.T, model llm.Client, opts ...Option) (*Session, ledger.Store) {
	t.Helper()
	store := ledger.NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, "alice", "pw-a", 100); err != nil {
		t.Fatalf("seed alice: %v", err)
	}
	if _, err := store.Create(ctx, "bob", "pw-b", 50); err != nil {
		t.Fatalf("seed bob: %v", err)
	}
	cat := catalog.Default()
	d := dispatch.New(cat, store, dispatch.WithStartingBalance(100))
	return NewSession("test", model, d, cat, opts...), store
}

type chunk struct {
	text string
	err  error
}

func collect(seq func(func(string, error) bool)) []chunk {
	var out []chunk
	seq(func(text string, err error) bool {
		out = append(out, chunk{text: text, err: err})
		return true
	})
	return out
}

func functionNames(req llm.Request) []string {
	names := make([]string, len(req.Functions))
	for i, f := range req.Functions {
		names[i] = f.Name
	}
	return names
}

func TestSignupConversation(t *testing.T) {
	model := llm.NewScripted(
		llm.Call(catalog.OpSignup, `{"username":"carol","password":"pw-c"}`),
		llm.Text("Welcome carol"),
	)
	session, store := newTestSession(t, model)

	chunks := collect(session.Chat(context.Background(), "sign me up as carol with password pw-c"))
	if len(chunks) != 1 || chunks[0].text != "Welcome carol" || chunks[0].err != nil {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}

	history := session.History()
	if len(history) != 3 {
		t.Fatalf("expected user, function and assistant turns, got %+v", history)
	}
	if history[1].Role != llm.RoleFunction || history[1].Name != catalog.OpSignup || history[1].Content != dispatch.SignupOK {
		t.Fatalf("unexpected function turn: %+v", history[1])
	}
	if history[2].Role != llm.RoleAssistant || history[2].Content != "Welcome carol" {
		t.Fatalf("unexpected assistant turn: %+v", history[2])
	}

	requests := model.Requests()
	if len(requests) != 2 {
		t.Fatalf("expected two model calls, got %d", len(requests))
	}
	if got := strings.Join(functionNames(requests[0]), ","); got != "signup,login" {
		t.Fatalf("first call offered %s", got)
	}
	if got := strings.Join(functionNames(requests[1]), ","); got != "transfer,logout" {
		t.Fatalf("second call offered %s", got)
	}
	if !strings.Contains(requests[0].Messages[0].Content, "User hasn't logged in.") {
		t.Fatalf("unexpected first system turn: %q", requests[0].Messages[0].Content)
	}
	if !strings.Contains(requests[1].Messages[0].Content, "username: carol") {
		t.Fatalf("system turn not regenerated: %q", requests[1].Messages[0].Content)
	}
	if session.State() != StateIdle {
		t.Fatalf("session should be idle, got %s", session.State())
	}
	if _, err := store.Find(context.Background(), "carol"); err != nil {
		t.Fatalf("carol not created: %v", err)
	}
}

func TestLoginTransferLogout(t *testing.T) {
	model := llm.NewScripted(
		llm.Call(catalog.OpLogin, `{"username":"alice","password":"pw-a"}`),
		llm.Text("Logged in."),
		llm.Call(catalog.OpTransfer, `{"to":"bob","amount":30}`),
		llm.Text("Sent 30 to bob."),
		llm.Call(catalog.OpLogout, `{}`),
		llm.Call(catalog.OpTransfer, `{"to":"bob","amount":1}`),
		llm.Text("You need to log in first."),
	)
	session, store := newTestSession(t, model)
	ctx := context.Background()

	collect(session.Chat(ctx, "login alice pw-a"))
	if session.Account() == nil {
		t.Fatalf("expected authenticated session")
	}

	chunks := collect(session.Chat(ctx, "send bob 30"))
	if len(chunks) != 1 || chunks[0].text != "Sent 30 to bob." {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	if session.Account().Balance != 70 {
		t.Fatalf("session balance not refreshed: %+v", session.Account())
	}
	if !strings.Contains(session.System().Content, "balance: 70.") {
		t.Fatalf("system turn not refreshed after transfer: %q", session.System().Content)
	}
	bob, _ := store.Find(ctx, "bob")
	if bob.Balance != 80 {
		t.Fatalf("bob should have 80, got %d", bob.Balance)
	}

	chunks = collect(session.Chat(ctx, "logout and pay bob 1"))
	if len(chunks) != 1 || chunks[0].err != nil {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	history := session.History()
	last := history[len(history)-2]
	if last.Role != llm.RoleFunction || last.Content != "Error: User not logged in" {
		t.Fatalf("transfer after logout should be an auth error turn, got %+v", last)
	}
	bob, _ = store.Find(ctx, "bob")
	if bob.Balance != 80 {
		t.Fatalf("bob balance changed after logout: %d", bob.Balance)
	}
}

func TestOnlyFirstFunctionCallIsHonored(t *testing.T) {
	model := llm.NewScripted(
		llm.Step{Reply: &llm.Reply{
			Content: "Working on it.",
			FunctionCalls: []llm.FunctionCall{
				{Name: catalog.OpLogin, Arguments: `{"username":"alice","password":"pw-a"}`},
				{Name: catalog.OpSignup, Arguments: `{"username":"eve","password":"x"}`},
			},
		}},
		llm.Text("Done."),
	)
	session, store := newTestSession(t, model)

	chunks := collect(session.Chat(context.Background(), "login"))
	if len(chunks) != 2 || chunks[0].text != "Working on it." || chunks[1].text != "Done." {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	var functionTurns int
	for _, msg := range session.History() {
		if msg.Role == llm.RoleFunction {
			functionTurns++
		}
	}
	if functionTurns != 1 {
		t.Fatalf("expected exactly one function turn, got %d", functionTurns)
	}
	if _, err := store.Find(context.Background(), "eve"); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Fatalf("second call must be discarded, got %v", err)
	}
}

func TestLoopBudgetExceeded(t *testing.T) {
	model := llm.NewScripted(
		llm.Call(catalog.OpLogin, `{"username":"alice","password":"wrong"}`),
		llm.Call(catalog.OpLogin, `{"username":"alice","password":"wrong"}`),
		llm.Call(catalog.OpLogin, `{"username":"alice","password":"wrong"}`),
	)
	session, _ := newTestSession(t, model, WithMaxRounds(2))

	chunks := collect(session.Chat(context.Background(), "login"))
	if len(chunks) != 1 || !errors.Is(chunks[0].err, ErrLoopBudgetExceeded) {
		t.Fatalf("expected loop budget error, got %+v", chunks)
	}
	if got := len(session.History()); got != 3 {
		t.Fatalf("expected user turn plus two function turns, got %d", got)
	}
	if session.State() != StateIdle || session.Busy() {
		t.Fatalf("session must return to idle")
	}
}

func TestModelFailureKeepsUserTurn(t *testing.T) {
	model := llm.NewScripted(
		llm.Fail(errors.New("connection reset")),
		llm.Text("Hello again"),
	)
	session, _ := newTestSession(t, model)

	chunks := collect(session.Chat(context.Background(), "hi"))
	if len(chunks) != 1 || xerrors.CodeOf(chunks[0].err) != xerrors.CodeModelFailure {
		t.Fatalf("expected model failure, got %+v", chunks)
	}
	history := session.History()
	if len(history) != 1 || history[0].Role != llm.RoleUser || history[0].Content != "hi" {
		t.Fatalf("only the user turn should remain: %+v", history)
	}

	chunks = collect(session.Chat(context.Background(), "hi again"))
	if len(chunks) != 1 || chunks[0].text != "Hello again" {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	if got := len(model.Requests()[1].Messages); got != 3 {
		t.Fatalf("retry should see system and both user turns, got %d messages", got)
	}
}

type blockingModel struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlockingModel() *blockingModel {
	return &blockingModel{entered: make(chan struct{}), release: make(chan struct{})}
}

func (m *blockingModel) Complete(ctx context.Context, _ llm.Request) (*llm.Reply, error) {
	m.once.Do(func() { close(m.entered) })
	select {
	case <-m.release:
		return &llm.Reply{Content: "done"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestModelTimeout(t *testing.T) {
	session, _ := newTestSession(t, newBlockingModel(), WithLLMTimeout(20*time.Millisecond))

	chunks := collect(session.Chat(context.Background(), "hi"))
	if len(chunks) != 1 || xerrors.CodeOf(chunks[0].err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %+v", chunks)
	}
	if !errors.Is(chunks[0].err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded cause, got %v", chunks[0].err)
	}
	if len(session.History()) != 1 {
		t.Fatalf("only the user turn should remain")
	}
}

func TestConcurrentChatIsRejected(t *testing.T) {
	model := newBlockingModel()
	session, _ := newTestSession(t, model)

	done := make(chan []chunk, 1)
	go func() {
		done <- collect(session.Chat(context.Background(), "first"))
	}()
	<-model.entered
	if session.State() != StateAwaitingModel {
		t.Fatalf("expected awaiting_model, got %s", session.State())
	}

	chunks := collect(session.Chat(context.Background(), "second"))
	if len(chunks) != 1 || !errors.Is(chunks[0].err, ErrSessionBusy) {
		t.Fatalf("expected busy rejection, got %+v", chunks)
	}

	close(model.release)
	first := <-done
	if len(first) != 1 || first[0].text != "done" {
		t.Fatalf("unexpected first chat result: %+v", first)
	}
	for _, msg := range session.History() {
		if msg.Content == "second" {
			t.Fatalf("rejected message must not be recorded")
		}
	}
}

func TestConsumerMayStopEarly(t *testing.T) {
	model := llm.NewScripted(
		llm.Step{Reply: &llm.Reply{
			Content:       "Logging you in.",
			FunctionCalls: []llm.FunctionCall{{Name: catalog.OpLogin, Arguments: `{"username":"alice","password":"pw-a"}`}},
		}},
		llm.Text("unused"),
	)
	session, _ := newTestSession(t, model)

	for text, err := range session.Chat(context.Background(), "login") {
		if err != nil || text != "Logging you in." {
			t.Fatalf("unexpected element: %q %v", text, err)
		}
		break
	}
	if model.Remaining() != 1 {
		t.Fatalf("loop should stop once the consumer stops")
	}
	if session.Busy() || session.State() != StateIdle {
		t.Fatalf("session must be released")
	}
}

type recordingAlerts struct {
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.events = append(r.events, event)
	return nil
}

func TestHardFailureRaisesAlert(t *testing.T) {
	alerts := &recordingAlerts{}
	session, _ := newTestSession(t, llm.NewScripted(llm.Fail(errors.New("503"))), WithAlerts(alerts))

	collect(session.Chat(context.Background(), "hi"))
	if len(alerts.events) != 1 || alerts.events[0].Code != xerrors.CodeModelFailure || alerts.events[0].SessionID != "test" {
		t.Fatalf("unexpected alerts: %+v", alerts.events)
	}
}

func TestMalformedArgumentsAreRecoverable(t *testing.T) {
	model := llm.NewScripted(
		llm.Call(catalog.OpLogin, `{"username":`),
		llm.Text("Please try again."),
	)
	session, _ := newTestSession(t, model)

	chunks := collect(session.Chat(context.Background(), "login"))
	if len(chunks) != 1 || chunks[0].err != nil {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
	turn := session.History()[1]
	if turn.Role != llm.RoleFunction || !strings.HasPrefix(turn.Content, dispatch.ErrorMarker) {
		t.Fatalf("expected error function turn, got %+v", turn)
	}
}
