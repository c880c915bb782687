package round

import (
	"context"
	"log"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/peer-essay/backend/internal/config"
	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
	"github.com/zhouzirui/peer-essay/backend/internal/service/ai"
	"github.com/zhouzirui/peer-essay/backend/internal/service/broadcast"
	chatservice "github.com/zhouzirui/peer-essay/backend/internal/service/chat"
	"github.com/zhouzirui/peer-essay/backend/internal/typing"
)

// minCandidates 话题应提供的最小角色池
const minCandidates = 3

// ResultSink 保存已结束的回合
type ResultSink interface {
	SaveResult(ctx context.Context, result roundmodel.Result) error
}

// Deps 所有回合共享的依赖
type Deps struct {
	Catalog   persona.Catalog
	Questions *roundmodel.QuestionBank
	Generator ai.Generator
	Prompts   *ai.PersonaPromptManager
	Sink      ResultSink
}

type entry struct {
	ctrl   *Controller
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager 按 ID 保存进行中的回合
type Manager struct {
	ctx    context.Context
	deps   Deps
	cfg    config.RoundConfig
	typing config.TypingConfig
	now    func() time.Time

	mu     sync.RWMutex
	rounds map[string]*entry
}

// NewManager 创建回合管理器，回合运行到 ctx 结束为止
func NewManager(ctx context.Context, deps Deps, cfg config.RoundConfig, typingCfg config.TypingConfig) *Manager {
	if deps.Prompts == nil {
		deps.Prompts = ai.NewPersonaPromptManager(0)
	}
	return &Manager{
		ctx:    ctx,
		deps:   deps,
		cfg:    cfg,
		typing: typingCfg,
		now:    time.Now,
		rounds: make(map[string]*entry),
	}
}

// Create 以 topic 开始新回合并返回其 controller
func (m *Manager) Create(topic string, mode roundmodel.Mode) (*Controller, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, ErrTopicRequired
	}

	id := uuid.NewString()
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	var animator *typing.Animator
	if m.typing.Enabled {
		animator = typing.NewAnimator(typing.Config{
			Speed: m.typing.Speed,
			Frame: m.typing.Frame,
			Rand:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		})
	}
	hub := broadcast.NewHub(animator)

	ctrl := NewController(Options{
		ID:        id,
		Topic:     topic,
		Mode:      mode,
		Cfg:       m.cfg,
		Draw:      func(rng *rand.Rand) Setup { return m.drawSetup(topic, rng) },
		Generator: m.deps.Generator,
		Prompts:   m.deps.Prompts,
		Hub:       hub,
		IDs:       &chatservice.IDGenerator{},
		Rand:      rng,
		Now:       m.now,
		OnClosed:  m.persist,
	})

	ctx, cancel := context.WithCancel(m.ctx)
	e := &entry{ctrl: ctrl, cancel: cancel, done: make(chan struct{})}

	changes, unsubscribe := ctrl.Store().Subscribe(256)
	go func() {
		defer close(e.done)
		defer hub.Close()
		defer unsubscribe()

		go hub.Forward(ctx, changes)
		if err := ctrl.Run(ctx); err != nil {
			log.Printf("[round] %s stopped: %v", id, err)
		}
	}()

	if err := ctrl.Start(); err != nil {
		cancel()
		return nil, err
	}

	m.mu.Lock()
	m.rounds[id] = e
	m.mu.Unlock()

	log.Printf("[round] created round=%s topic=%s mode=%s", id, topic, mode)
	return ctrl, nil
}

// Get 返回指定 ID 的进行中回合
func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.rounds[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return e.ctrl, nil
}

// Remove 停止并移除指定 ID 的回合
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.rounds[id]
	delete(m.rounds, id)
	m.mu.Unlock()
	if !ok {
		return ErrRoundNotFound
	}
	e.cancel()
	<-e.done
	return nil
}

// Len 返回进行中回合的数量
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rounds)
}

// Run 定期清理超过保留时长无人操作的回合，直到 ctx 结束
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep 移除超过保留时长未被操作的回合
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.cfg.Retention)

	m.mu.RLock()
	var stale []string
	for id, e := range m.rounds {
		if e.ctrl.LastTouched().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		if err := m.Remove(id); err == nil {
			log.Printf("[round] swept idle round=%s", id)
		}
	}
	return len(stale)
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	entries := m.rounds
	m.rounds = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range entries {
		e.cancel()
		<-e.done
	}
}

// persist 将已关闭的回合交给 sink，不阻塞回合本身
func (m *Manager) persist(result roundmodel.Result) {
	if m.deps.Sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.deps.Sink.SaveResult(ctx, result); err != nil {
			log.Printf("[round] failed to persist round=%s: %v", result.RoundID, err)
			return
		}
		log.Printf("[round] persisted round=%s messages=%d", result.RoundID, len(result.Transcript))
	}()
}

// drawSetup 抽取题目和角色子集，话题没有数据时使用内置兜底数据
func (m *Manager) drawSetup(topic string, rng *rand.Rand) Setup {
	question, ok := m.deps.Questions.Draw(topic, rng)
	if !ok {
		log.Printf("[round] no questions for topic=%s, using fallback question", topic)
	}

	var pool []persona.Persona
	teacher, hasTeacher := persona.Persona{}, false
	if m.deps.Catalog != nil {
		pool = persona.Peers(m.deps.Catalog.ForTopic(topic))
		teacher, hasTeacher = m.deps.Catalog.Teacher(topic)
	}

	fallback := persona.FallbackPersonas()
	if len(pool) == 0 {
		log.Printf("[round] empty persona pool for topic=%s, using fallback personas", topic)
		pool = persona.Peers(fallback)
	} else if len(pool) < minCandidates {
		log.Printf("[round] topic=%s has only %d personas", topic, len(pool))
	}
	if !hasTeacher {
		for _, p := range fallback {
			if p.IsTeacher() {
				teacher = p
				break
			}
		}
	}

	return Setup{
		Question:     question,
		Participants: persona.Pick(pool, m.cfg.MaxPersonas, rng),
		Teacher:      teacher,
	}
}
