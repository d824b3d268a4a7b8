package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"PayChat/internal/llm"
)

// Client 通过调用外部脚本实现大模型推理。脚本从 stdin 读取 JSON 请求，
// 向 stdout 写出 JSON 回复。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

type bridgeRequest struct {
	Messages  []llm.Message            `json:"messages"`
	Functions []llm.FunctionDefinition `json:"functions"`
}

type bridgeCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type bridgeReply struct {
	Content       string       `json:"content"`
	FunctionCall  *bridgeCall  `json:"function_call"`
	FunctionCalls []bridgeCall `json:"function_calls"`
}

// Complete 调用外部脚本，并解析输出。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	encoded, err := json.Marshal(bridgeRequest{Messages: req.Messages, Functions: req.Functions})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("执行 Python 脚本失败: %w, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp bridgeReply
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析 Python 输出失败: %w", err)
	}

	reply := &llm.Reply{Content: resp.Content}
	calls := resp.FunctionCalls
	if resp.FunctionCall != nil {
		calls = append([]bridgeCall{*resp.FunctionCall}, calls...)
	}
	for _, call := range calls {
		if call.Name == "" {
			return nil, errors.New("Python 输出的函数调用缺少 name")
		}
		reply.FunctionCalls = append(reply.FunctionCalls, llm.FunctionCall{
			Name:      call.Name,
			Arguments: normalizeArguments(call.Arguments),
		})
	}
	return reply, nil
}

// normalizeArguments 允许脚本以对象或 JSON 字符串两种形式给出参数。
func normalizeArguments(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}"
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
