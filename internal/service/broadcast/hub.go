// Package broadcast 将单个回合的消息记录、打字进度与状态分发给观察者。
package broadcast

import (
	"context"
	"log"
	"sync"

	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
	chatservice "github.com/zhouzirui/peer-essay/backend/internal/service/chat"
	"github.com/zhouzirui/peer-essay/backend/internal/typing"
)

// EventType 观察者事件类型
type EventType string

const (
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventStatus  EventType = "status"
)

// Event 一次观察者更新
type Event struct {
	Type    EventType     `json:"type"`
	Change  string        `json:"change,omitempty"`
	Message *chat.Message `json:"message,omitempty"`
	Removed []int64       `json:"removed,omitempty"`
	Typing  *Typing       `json:"typing,omitempty"`
	Status  *Status       `json:"status,omitempty"`
}

// Typing 一条已提交消息的实时展示进度
type Typing struct {
	MessageID int64  `json:"messageId"`
	AgentID   string `json:"agentId,omitempty"`
	Revealed  string `json:"revealed"`
	Percent   int    `json:"percent"`
	Done      bool   `json:"done"`
}

// Status 回合阶段与倒计时
type Status struct {
	RoundID       string           `json:"roundId"`
	Phase         roundmodel.Phase `json:"phase"`
	TimeRemaining int              `json:"timeRemaining"`
	QuestionID    string           `json:"questionId"`
}

// Hub 可并发使用。消费过慢的订阅者会丢失事件，不会拖住回合。
type Hub struct {
	// slot 同一时间只展示一条消息，为 nil 时立即展示
	slot *typing.Slot

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

// NewHub 创建 Hub，animator 为 nil 时消息立即展示。
func NewHub(animator *typing.Animator) *Hub {
	h := &Hub{subs: make(map[int]chan Event)}
	if animator != nil {
		h.slot = typing.NewSlot(animator)
	}
	return h
}

// Subscribe 返回后续事件的 channel 及其取消函数。
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 128
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(ch)
			}
		})
	}
}

// Publish 非阻塞地把 ev 投递给每个订阅者。
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("[broadcast] subscriber %d lagging, dropped %s event", id, ev.Type)
		}
	}
}

// PublishStatus 发布状态事件。
func (h *Hub) PublishStatus(s Status) {
	h.Publish(Event{Type: EventStatus, Status: &s})
}

// Forward 转发记录变更，直到 changes 关闭或 ctx 结束。
func (h *Hub) Forward(ctx context.Context, changes <-chan chatservice.Change) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			ev := Event{Type: EventMessage, Change: change.Kind.String(), Removed: change.Removed}
			if change.Kind == chatservice.ChangeAppend || change.Kind == chatservice.ChangeReplace {
				msg := change.Message
				ev.Message = &msg
			}
			h.Publish(ev)
		}
	}
}

// Present 为观察者播放 msg 的打字动画，展示完成后返回。
// 新的 Present 或 Close 会中断当前展示，且不发送完成事件。
func (h *Hub) Present(ctx context.Context, msg chat.Message) error {
	done := Event{Type: EventTyping, Typing: &Typing{MessageID: msg.ID, AgentID: msg.AgentID, Revealed: msg.Text, Percent: 100, Done: true}}
	if h.slot == nil {
		h.Publish(done)
		return nil
	}

	run := h.slot.Play(msg.Text, func(p typing.Progress) {
		h.Publish(Event{Type: EventTyping, Typing: &Typing{MessageID: msg.ID, AgentID: msg.AgentID, Revealed: p.Revealed, Percent: p.Percent}})
	}, nil)

	select {
	case <-run.Done():
		if run.Completed() {
			h.Publish(done)
		}
		return nil
	case <-ctx.Done():
		run.Cancel()
		return ctx.Err()
	}
}

// Close 停止正在进行的展示并结束所有订阅，之后的订阅会被立即关闭。

func (h *Hub) Close() {
	if h.slot != nil {
		h.slot.Stop()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
