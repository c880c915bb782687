package typing

import (
	"sort"
	"sync"
	"time"
)

// Timer 待执行的定时回调
type Timer interface {
	Stop() bool
}

// Scheduler 在不阻塞调用方的情况下调度回调
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler 使用运行时定时器调度
type RealScheduler struct{}

func (RealScheduler) Now() time.Time { return time.Now() }

func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualScheduler 只在调用 Advance 时推进，回调在调用 Advance 的 goroutine 上执行。
type ManualScheduler struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	pending []*manualTimer
}

type manualTimer struct {
	s   *ManualScheduler
	at  time.Time
	seq int
	f   func()
}

// NewManualScheduler 手动时钟从 start 开始
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &manualTimer{s: s, at: s.now.Add(d), seq: s.seq, f: f}
	s.pending = append(s.pending, t)
	return t
}

// Pending 返回已调度回调的数量
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Advance 将时钟推进 d，并执行所有到期回调，包括推进过程中由回调新调度的回调。

func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	for {
		sort.Slice(s.pending, func(i, j int) bool {
			if s.pending[i].at.Equal(s.pending[j].at) {
				return s.pending[i].seq < s.pending[j].seq
			}
			return s.pending[i].at.Before(s.pending[j].at)
		})
		if len(s.pending) == 0 || s.pending[0].at.After(target) {
			break
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		s.now = next.at
		s.mu.Unlock()
		next.f()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i, p := range t.s.pending {
		if p == t {
			t.s.pending = append(t.s.pending[:i], t.s.pending[i+1:]...)
			return true
		}
	}
	return false
}
