package chat

import (
	"fmt"
	"time"
)

// Sender 标识消息记录的作者
type Sender int

const (
	SenderUser Sender = iota
	SenderAgent
	SenderSystem
)

func (s Sender) String() string {
	switch s {
	case SenderUser:
		return "user"
	case SenderAgent:
		return "agent"
	case SenderSystem:
		return "system"
	default:
		return "unknown"
	}
}

// MarshalText 输出小写的传输名称
func (s Sender) MarshalText() ([]byte, error) {
	switch s {
	case SenderUser, SenderAgent, SenderSystem:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("invalid sender %d", int(s))
	}
}

// UnmarshalText 解析 MarshalText 产生的名称
func (s *Sender) UnmarshalText(text []byte) error {
	switch string(text) {
	case "user":
		*s = SenderUser
	case "agent":
		*s = SenderAgent
	case "system":
		*s = SenderSystem
	default:
		return fmt.Errorf("invalid sender %q", string(text))
	}
	return nil
}

// Placeholder 角色回复生成期间显示的占位文本
const Placeholder = "…"

// Message 一条消息记录。ID、Sender 与 AgentID 创建后不变；
// Text 至多替换一次，从占位文本变为最终回复。
type Message struct {
	ID          int64     `json:"id"`
	Sender      Sender    `json:"sender"`
	AgentID     string    `json:"agentId,omitempty"`
	Text        string    `json:"text"`
	Placeholder bool      `json:"placeholder,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Turn 发送给语言模型的带角色历史条目
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role Turn 的对话角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)
