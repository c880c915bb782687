package typing

import (
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

const (
	DefaultSpeed = 30.0
	DefaultFrame = 16 * time.Millisecond

	// runesPerUnit 恰好等待一个基础间隔的分块长度
	runesPerUnit = 5
)

// Config 调节动画节奏
type Config struct {
	// Speed 每秒展示的名义分块数
	Speed float64
	// Frame 运行中的动画多久唤醒一次检查间隔
	Frame     time.Duration
	Scheduler Scheduler
	Rand      *rand.Rand
}

// Progress 每展示一个分块后上报的进度
type Progress struct {
	Revealed string `json:"revealed"`
	Percent  int    `json:"percent"`
	Chunk    int    `json:"chunk"`
	Chunks   int    `json:"chunks"`
}

// Animator 以随机节奏逐块展示固定文本
type Animator struct {
	speed float64
	frame time.Duration
	sched Scheduler

	randMu sync.Mutex
	rng    *rand.Rand
}

// NewAnimator 为零值配置项填充默认值
func NewAnimator(cfg Config) *Animator {
	if cfg.Speed <= 0 {
		cfg.Speed = DefaultSpeed
	}
	if cfg.Frame <= 0 {
		cfg.Frame = DefaultFrame
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler{}
	}
	return &Animator{
		speed: cfg.Speed,
		frame: cfg.Frame,
		sched: cfg.Scheduler,
		rng:   cfg.Rand,
	}
}

const (
	runRunning int32 = iota
	runCompleted
	runCancelled
)

// Run 单次动画。每次运行有独立的完成标记，
// 较早运行的过期 tick 不会完成后来的运行。
type Run struct {
	a          *Animator
	chunks     []string
	totalLen   int
	onProgress func(Progress)
	onComplete func()

	state atomic.Int32
	done  chan struct{}

	mu          sync.Mutex
	cursor      int
	revealed    strings.Builder
	lastReveal  time.Time
	interval    time.Duration
	timer       Timer
	lastPercent int
}

// Start 开始展示 text。onProgress 在每个分块后调用，onComplete 至多调用一次，二者都可为 nil。
// 空文本在 Start 返回前即完成。
func (a *Animator) Start(text string, onProgress func(Progress), onComplete func()) *Run {
	a.randMu.Lock()
	chunks := Chunk(text, a.rng)
	a.randMu.Unlock()

	r := &Run{
		a:          a,
		chunks:     chunks,
		totalLen:   len(text),
		onProgress: onProgress,
		onComplete: onComplete,
		done:       make(chan struct{}),
	}

	if len(chunks) == 0 {
		r.emit(Progress{Percent: 100})
		r.complete()
		return r
	}

	r.mu.Lock()
	r.lastReveal = a.sched.Now()
	r.interval = a.intervalFor(chunks[0])
	r.scheduleLocked()
	r.mu.Unlock()
	return r
}

// Cancel 停止动画。Cancel 返回后不再触发回调，已在执行的回调除外。
func (r *Run) Cancel() {
	if !r.state.CompareAndSwap(runRunning, runCancelled) {
		return
	}
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
	close(r.done)
}

// Done 在运行完成或被取消时关闭
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Completed 判断是否已展示全部文本
func (r *Run) Completed() bool {
	return r.state.Load() == runCompleted
}

// Revealed 返回目前已展示的文本
func (r *Run) Revealed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revealed.String()
}

func (r *Run) alive() bool {
	return r.state.Load() == runRunning
}

func (r *Run) scheduleLocked() {
	r.timer = r.a.sched.AfterFunc(r.a.frame, r.tick)
}

func (r *Run) tick() {
	if !r.alive() {
		return
	}

	r.mu.Lock()
	now := r.a.sched.Now()
	if now.Sub(r.lastReveal) < r.interval {
		r.scheduleLocked()
		r.mu.Unlock()
		return
	}

	r.revealed.WriteString(r.chunks[r.cursor])
	r.cursor++
	r.lastReveal = now

	percent := 100
	if r.totalLen > 0 {
		percent = r.revealed.Len() * 100 / r.totalLen
	}
	if percent < r.lastPercent {
		percent = r.lastPercent
	}
	r.lastPercent = percent

	p := Progress{
		Revealed: r.revealed.String(),
		Percent:  percent,
		Chunk:    r.cursor,
		Chunks:   len(r.chunks),
	}

	finished := r.cursor >= len(r.chunks)
	if !finished {
		r.interval = r.a.intervalFor(r.chunks[r.cursor])
		r.scheduleLocked()
	} else {
		r.timer = nil
	}
	r.mu.Unlock()

	r.emit(p)
	if finished {
		r.complete()
	}
}

func (r *Run) emit(p Progress) {
	if r.onProgress != nil && r.alive() {
		r.onProgress(p)
	}
}

func (r *Run) complete() {
	if !r.state.CompareAndSwap(runRunning, runCompleted) {
		return
	}
	close(r.done)
	if r.onComplete != nil {
		r.onComplete()
	}
}

// intervalFor 计算展示 chunk 前的等待时间：由速度得出基础间隔，
// 乘以 [0.5, 1.0] 内的随机系数，长分块再按长度放大。
func (a *Animator) intervalFor(chunk string) time.Duration {
	base := float64(time.Second) / a.speed

	a.randMu.Lock()
	multiplier := 0.5 + 0.5*float64n(a.rng)
	a.randMu.Unlock()

	lengthFactor := float64(utf8.RuneCountInString(chunk)) / runesPerUnit
	if lengthFactor < 1 {
		lengthFactor = 1
	}

	return time.Duration(base * multiplier * lengthFactor)
}

// Slot 同一时间只播放一个动画的展示位，播放新文本会取消正在展示的内容。
type Slot struct {
	a *Animator

	mu      sync.Mutex
	current *Run
}

// NewSlot 将展示位绑定到 animator
func NewSlot(a *Animator) *Slot {
	return &Slot{a: a}
}

// Play 从空白开始重新展示 text
func (s *Slot) Play(text string, onProgress func(Progress), onComplete func()) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.Cancel()
	}
	s.current = s.a.Start(text, onProgress, onComplete)
	return s.current
}

// Stop 取消正在运行的动画（如果有）
func (s *Slot) Stop() {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Cancel()
	}
}
