package chat

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
)

var ErrMessageNotFound = errors.New("message not found")

// IDGenerator 生成严格递增的消息 ID。它从不重置，
// 共享它的所有回合之间 ID 保持唯一。
type IDGenerator struct {
	last atomic.Int64
}

// Next 返回新的 ID。
func (g *IDGenerator) Next() int64 {
	return g.last.Add(1)
}

// ChangeKind 告知订阅者记录发生了哪种变更。
type ChangeKind int

const (
	ChangeAppend ChangeKind = iota
	ChangeReplace
	ChangeRemove
	ChangeClear
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAppend:
		return "append"
	case ChangeReplace:
		return "replace"
	case ChangeRemove:
		return "remove"
	case ChangeClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Change 描述一次记录变更。
type Change struct {
	Kind    ChangeKind
	Message chat.Message
	Removed []int64
}

// Store 单个回合的有序消息记录，插入顺序即显示顺序。
type Store struct {
	ids *IDGenerator
	now func() time.Time

	mu       sync.RWMutex
	messages []chat.Message
	subs     map[int]chan Change
	nextSub  int
}

// NewStore 创建空记录，从 ids 获取消息 ID。
func NewStore(ids *IDGenerator) *Store {
	if ids == nil {
		ids = &IDGenerator{}
	}
	return &Store{
		ids:      ids,
		now:      func() time.Time { return time.Now().UTC() },
		messages: make([]chat.Message, 0, 32),
		subs:     make(map[int]chan Change),
	}
}

// Append 为 msg 分配 ID 与时间戳后追加。
func (s *Store) Append(msg chat.Message) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(msg)
}

// AppendIf 仅在 valid 仍成立时追加。valid 在记录锁内求值，
// 检查与追加之间不会插入其他变更。
func (s *Store) AppendIf(valid func() bool, msg chat.Message) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !valid() {
		return chat.Message{}, false
	}
	return s.appendLocked(msg), true
}

func (s *Store) appendLocked(msg chat.Message) chat.Message {
	msg.ID = s.ids.Next()
	if msg.Sender != chat.SenderAgent {
		msg.AgentID = ""
	}
	msg.Timestamp = s.now()
	s.messages = append(s.messages, msg)
	s.publishLocked(Change{Kind: ChangeAppend, Message: msg})
	return msg
}

// ReplaceText 替换已有消息的文本并清除占位标记。
func (s *Store) ReplaceText(id int64, text string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(id, text)
}

// ReplaceTextIf 在记录锁内以 valid 保护的 ReplaceText。
// valid 拒绝写入时布尔值为 false。
func (s *Store) ReplaceTextIf(valid func() bool, id int64, text string) (chat.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !valid() {
		return chat.Message{}, false, nil
	}
	msg, err := s.replaceLocked(id, text)
	if err != nil {
		return chat.Message{}, true, err
	}
	return msg, true, nil
}

func (s *Store) replaceLocked(id int64, text string) (chat.Message, error) {
	for i := range s.messages {
		if s.messages[i].ID != id {
			continue
		}
		s.messages[i].Text = text
		s.messages[i].Placeholder = false
		s.messages[i].Timestamp = s.now()
		msg := s.messages[i]
		s.publishLocked(Change{Kind: ChangeReplace, Message: msg})
		return msg, nil
	}
	return chat.Message{}, ErrMessageNotFound
}

// FilterOut 删除所有满足 pred 的消息并返回删除数量。
func (s *Store) FilterOut(pred func(chat.Message) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	var removed []int64
	for _, msg := range s.messages {
		if pred(msg) {
			removed = append(removed, msg.ID)
			continue
		}
		kept = append(kept, msg)
	}
	// 清零尾部，底层数组不再持有已删除的消息
	for i := len(kept); i < len(s.messages); i++ {
		s.messages[i] = chat.Message{}
	}
	s.messages = kept

	if len(removed) > 0 {
		s.publishLocked(Change{Kind: ChangeRemove, Removed: removed})
	}
	return len(removed)
}

// Snapshot 按显示顺序返回记录副本。
func (s *Store) Snapshot() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]chat.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

// Get 返回指定 ID 的消息。
func (s *Store) Get(id int64) (chat.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return chat.Message{}, false
}

// Len 返回消息数量。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Clear 清空所有消息，ID 生成器继续计数。
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]chat.Message, 0, 32)
	s.publishLocked(Change{Kind: ChangeClear})
}

// Subscribe 按变更顺序推送之后的每次变更。
// 消费过慢的订阅者会丢失变更，不会阻塞写入方。

func (s *Store) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Change, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Store) publishLocked(change Change) {
	for id, ch := range s.subs {
		select {
		case ch <- change:
		default:
			log.Printf("[chat] subscriber %d lagging, dropped %s change", id, change.Kind)
		}
	}
}
