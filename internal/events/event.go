package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type 表示账本事件类型。
type Type string

const (
	TypeAccountCreated    Type = "account.created"
	TypeTransferCompleted Type = "transfer.completed"
)

// Event 是提交成功后对外广播的账本事件。
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Username   string    `json:"username,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Amount     int64     `json:"amount,omitempty"`
	Balance    int64     `json:"balance"`
	TransferID string    `json:"transfer_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// New 生成带有 ID 与时间戳的事件。
func New(typ Type) Event {
	return Event{ID: uuid.NewString(), Type: typ, OccurredAt: time.Now().UTC()}
}

// Encode 将事件序列化为 JSON。
func (e Event) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("序列化事件失败: %w", err)
	}
	return body, nil
}

// Publisher 负责投递账本事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop 丢弃所有事件。
type Nop struct{}

// Publish 不做任何事。
func (Nop) Publish(context.Context, Event) error { return nil }

// Close 不做任何事。
func (Nop) Close() error { return nil }
