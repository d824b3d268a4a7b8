package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Role 表示对话中一条消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// Message 是发送给大模型的一条对话记录。Role 为 function 时 Name 为操作名。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// FunctionDefinition 描述一个可供模型调用的函数及其 JSON Schema 参数。
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// FunctionCall 是模型请求调用的函数，Arguments 为原始 JSON 文本。
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// DecodeArguments 将 Arguments 解析为键值对，空字符串视为无参数。
func (c FunctionCall) DecodeArguments() (map[string]any, error) {
	raw := strings.TrimSpace(c.Arguments)
	if raw == "" {
		return map[string]any{}, nil
	}
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var args map[string]any
	if err := decoder.Decode(&args); err != nil {
		return nil, fmt.Errorf("arguments of %s are not a JSON object: %w", c.Name, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// Request 是一次模型调用的完整输入。
type Request struct {
	Messages  []Message
	Functions []FunctionDefinition
}

// Reply 是模型的一次回复，文本与函数调用可能同时出现。
type Reply struct {
	Content       string
	FunctionCalls []FunctionCall
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Reply, error)
}
