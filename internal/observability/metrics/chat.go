package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Dispatch outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type dispatchKey struct {
	operation string
	outcome   string
}

type chatMetrics struct {
	mu           sync.Mutex
	modelCalls   map[string]uint64
	modelLatency *histogram
	dispatches   map[dispatchKey]uint64
	failures     map[string]uint64
	sessions     atomic.Int64
}

var chatCollector = newChatMetrics()

func newChatMetrics() *chatMetrics {
	return &chatMetrics{
		modelCalls:   make(map[string]uint64),
		modelLatency: newHistogram(),
		dispatches:   make(map[dispatchKey]uint64),
		failures:     make(map[string]uint64),
	}
}

// ObserveModelCall records one round trip to the language model.
func ObserveModelCall(err error, duration time.Duration) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFailed
	}
	chatCollector.mu.Lock()
	defer chatCollector.mu.Unlock()
	chatCollector.modelCalls[outcome]++
	chatCollector.modelLatency.observe(duration.Seconds())
}

// ObserveDispatch records one dispatched operation.
func ObserveDispatch(operation, outcome string) {
	chatCollector.mu.Lock()
	defer chatCollector.mu.Unlock()
	chatCollector.dispatches[dispatchKey{operation: operation, outcome: outcome}]++
}

// ObserveChatFailure records a Chat call that ended with a hard error.
func ObserveChatFailure(code string) {
	chatCollector.mu.Lock()
	defer chatCollector.mu.Unlock()
	chatCollector.failures[code]++
}

// SessionOpened increments the active session gauge.
func SessionOpened() { chatCollector.sessions.Add(1) }

// SessionClosed decrements the active session gauge.
func SessionClosed() { chatCollector.sessions.Add(-1) }

func (c *chatMetrics) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP paychat_model_calls_total Language model round trips by outcome.\n")
	builder.WriteString("# TYPE paychat_model_calls_total counter\n")
	for _, outcome := range sortedKeys(c.modelCalls) {
		builder.WriteString(fmt.Sprintf("paychat_model_calls_total{outcome=\"%s\"} %d\n", escape(outcome), c.modelCalls[outcome]))
	}

	builder.WriteString("# HELP paychat_model_call_duration_seconds Language model round trip duration in seconds.\n")
	builder.WriteString("# TYPE paychat_model_call_duration_seconds histogram\n")
	c.modelLatency.write(&builder, "paychat_model_call_duration_seconds", "")

	dispatches := make([]dispatchKey, 0, len(c.dispatches))
	for key := range c.dispatches {
		dispatches = append(dispatches, key)
	}
	sort.Slice(dispatches, func(i, j int) bool {
		if dispatches[i].operation == dispatches[j].operation {
			return dispatches[i].outcome < dispatches[j].outcome
		}
		return dispatches[i].operation < dispatches[j].operation
	})
	builder.WriteString("# HELP paychat_dispatch_total Operations dispatched on behalf of the model.\n")
	builder.WriteString("# TYPE paychat_dispatch_total counter\n")
	for _, key := range dispatches {
		builder.WriteString(fmt.Sprintf("paychat_dispatch_total{operation=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.operation), escape(key.outcome), c.dispatches[key]))
	}

	builder.WriteString("# HELP paychat_chat_failures_total Chat calls aborted with a hard error, by error code.\n")
	builder.WriteString("# TYPE paychat_chat_failures_total counter\n")
	for _, code := range sortedKeys(c.failures) {
		builder.WriteString(fmt.Sprintf("paychat_chat_failures_total{code=\"%s\"} %d\n", escape(code), c.failures[code]))
	}

	builder.WriteString("# HELP paychat_active_sessions Number of live chat sessions.\n")
	builder.WriteString("# TYPE paychat_active_sessions gauge\n")
	builder.WriteString(fmt.Sprintf("paychat_active_sessions %d\n", c.sessions.Load()))

	return builder.String()
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
