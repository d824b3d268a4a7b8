package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted 表示脚本中的回复已全部用完。
var ErrScriptExhausted = errors.New("scripted model has no more replies")

// Step 是脚本中的一步：返回 Reply 或 Err。
type Step struct {
	Reply *Reply
	Err   error
}

// Scripted 按顺序回放预设回复，并记录每次收到的请求。
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []Request
}

// NewScripted 创建脚本化的模型客户端。
func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Text 构造只有文本的回复。
func Text(content string) Step {
	return Step{Reply: &Reply{Content: content}}
}

// Call 构造只有单个函数调用的回复。
func Call(name, arguments string) Step {
	return Step{Reply: &Reply{FunctionCalls: []FunctionCall{{Name: name, Arguments: arguments}}}}
}

// Fail 构造返回错误的一步。
func Fail(err error) Step {
	return Step{Err: err}
}

// Complete 返回下一步脚本。
func (s *Scripted) Complete(ctx context.Context, req Request) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, cloneRequest(req))
	if len(s.steps) == 0 {
		return nil, ErrScriptExhausted
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Reply, nil
}

// Requests 返回迄今为止收到的请求副本。
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	for i, r := range s.requests {
		out[i] = cloneRequest(r)
	}
	return out
}

// Remaining 返回尚未消费的步骤数。
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

func cloneRequest(r Request) Request {
	return Request{
		Messages:  append([]Message(nil), r.Messages...),
		Functions: append([]FunctionDefinition(nil), r.Functions...),
	}
}
