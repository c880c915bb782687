package round

import (
	"context"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/peer-essay/backend/internal/config"
	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
	"github.com/zhouzirui/peer-essay/backend/internal/service/ai"
	"github.com/zhouzirui/peer-essay/backend/internal/service/broadcast"
	chatservice "github.com/zhouzirui/peer-essay/backend/internal/service/chat"
	"github.com/zhouzirui/peer-essay/backend/internal/service/orchestrator"
	"github.com/zhouzirui/peer-essay/backend/internal/service/session"
)

// Options 单个 Controller 的配置
type Options struct {
	ID    string
	Topic string
	Mode  roundmodel.Mode
	Cfg   config.RoundConfig

	Draw      func(rng *rand.Rand) Setup
	Generator ai.Generator
	Prompts   *ai.PersonaPromptManager
	// Hub 接收状态事件并展示已提交的消息，可选
	Hub *broadcast.Hub
	IDs *chatservice.IDGenerator

	Rand *rand.Rand
	Now  func() time.Time
	// Sleep 覆盖调度器的发言间隔等待
	Sleep func(ctx context.Context, d time.Duration) error
	// OnClosed 接收每个已结束的回合
	OnClosed func(roundmodel.Result)
}

// Controller 持有单个回合的状态、消息记录、会话令牌与调度器
type Controller struct {
	id       string
	topic    string
	cfg      config.RoundConfig
	draw     func(rng *rand.Rand) Setup
	store    *chatservice.Store
	guard    *session.Guard
	orch     *orchestrator.Orchestrator
	hub      *broadcast.Hub
	now      func() time.Time
	onClosed func(roundmodel.Result)

	mu      sync.Mutex
	state   State
	rng     *rand.Rand
	touched time.Time
}

// NewController 创建尚未开始的回合，先调用 Start 再调用 Run
func NewController(opts Options) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	c := &Controller{
		id:       opts.ID,
		topic:    opts.Topic,
		cfg:      opts.Cfg,
		draw:     opts.Draw,
		store:    chatservice.NewStore(opts.IDs),
		guard:    &session.Guard{},
		hub:      opts.Hub,
		now:      opts.Now,
		onClosed: opts.OnClosed,
		rng:      opts.Rand,
		state: NewState(Rules{
			Duration:              opts.Cfg.Duration,
			IdleThreshold:         opts.Cfg.IdleThreshold,
			IdleMinWords:          opts.Cfg.IdleMinWords,
			WordFeedbackIncrement: opts.Cfg.WordFeedbackIncrement,
		}, opts.Mode),
	}
	c.touched = c.now()

	orchCfg := orchestrator.Config{
		PacingDelay: opts.Cfg.PacingDelay,
		IntroDelay:  opts.Cfg.IntroDelay,
		Sleep:       opts.Sleep,
		Hooks: orchestrator.Hooks{
			IntrosPosted: func(token session.Token) {
				c.applyFor(token, func() Event { return IntrosPosted{Now: c.now()} })
			},
			EvaluationDone: func(token session.Token) {
				c.applyFor(token, func() Event { return EvaluationDone{} })
			},
		},
	}
	if opts.Hub != nil {
		orchCfg.Presenter = opts.Hub
	}
	c.orch = orchestrator.New(c.store, c.guard, opts.Generator, opts.Prompts, orchCfg)
	return c
}

// ID 回合标识
func (c *Controller) ID() string {
	return c.id
}

// Topic 回合话题
func (c *Controller) Topic() string {
	return c.topic
}

// Store 回合的消息记录
func (c *Controller) Store() *chatservice.Store {
	return c.store
}

// Hub 回合的事件广播; 未配置时为 nil
func (c *Controller) Hub() *broadcast.Hub {
	return c.hub
}

// Guard 回合的会话令牌
func (c *Controller) Guard() *session.Guard {
	return c.guard
}

// Orchestrator 回合的发言调度器
func (c *Controller) Orchestrator() *orchestrator.Orchestrator {
	return c.orch
}

// Run 驱动倒计时、空闲轮询与调度器工作协程，直到 ctx 结束
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.orch.Run(ctx) })
	g.Go(func() error {
		tick := time.NewTicker(c.cfg.Tick)
		defer tick.Stop()
		idle := time.NewTicker(c.cfg.IdlePoll)
		defer idle.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
				_ = c.Apply(Tick{Step: c.cfg.Tick})
			case <-idle.C:
				_ = c.Apply(IdleCheck{Now: c.now()})
			}
		}
	})
	return g.Wait()
}

// Start 抽取第一道题和角色，并发布自我介绍
func (c *Controller) Start() error {
	return c.apply(func() Event { return Start{Setup: c.draw(c.rng), Now: c.now()} }, nil)
}

// Next 开始下一回合，只能在回合关闭后调用
func (c *Controller) Next() error {
	return c.apply(func() Event { return Next{Setup: c.draw(c.rng), Now: c.now()} }, nil)
}

// Ask 发布参与者的提问
func (c *Controller) Ask(text string) error {
	return c.Apply(Ask{Text: text})
}

// Edit 替换参与者的答案
func (c *Controller) Edit(answer string) error {
	return c.Apply(Edit{Answer: answer, Now: c.now()})
}

// EditNotes 替换参与者的笔记
func (c *Controller) EditNotes(notes string) error {
	return c.Apply(NotesEdit{Notes: notes})
}

// Submit 结束写作并开始评估
func (c *Controller) Submit() error {
	return c.Apply(Submit{})
}

// Apply 将 e 交给 reducer 并执行产生的副作用
func (c *Controller) Apply(e Event) error {
	return c.apply(func() Event { return e }, nil)
}

// applyFor 仅在 token 仍有效时应用事件
func (c *Controller) applyFor(token session.Token, build func() Event) {
	if err := c.apply(build, &token); err != nil {
		log.Printf("[round] %s: hook event rejected: %v", c.id, err)
	}
}

func (c *Controller) apply(build func() Event, token *session.Token) error {
	c.mu.Lock()
	if token != nil && !c.guard.Valid(*token) {
		c.mu.Unlock()
		return nil
	}

	e := build()
	next, effects, err := Reduce(c.state, e)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	prevPhase := c.state.Phase
	c.state = next
	switch e.(type) {
	case Tick, IdleCheck:
	default:
		c.touched = c.now()
	}

	var closed *roundmodel.Result
	for _, eff := range effects {
		if result := c.runEffectLocked(eff); result != nil {
			closed = result
		}
	}
	// Publish 从不阻塞，状态在锁内按顺序发出
	if c.hub != nil {
		c.hub.PublishStatus(c.statusLocked())
	}
	c.mu.Unlock()

	if prevPhase != next.Phase {
		log.Printf("[round] %s: %s -> %s", c.id, prevPhase, next.Phase)
	}
	if closed != nil && c.onClosed != nil {
		c.onClosed(*closed)
	}
	return nil
}

func (c *Controller) runEffectLocked(eff Effect) *roundmodel.Result {
	setting := c.settingLocked()

	switch ef := eff.(type) {
	case ResetTranscript:
		c.guard.Bump()
		c.store.Clear()

	case PostIntros:
		c.orch.Enqueue(orchestrator.IntrosTask(c.guard.Current(), setting))

	case AskAll:
		token := c.guard.Bump()
		c.store.Append(chat.Message{Sender: chat.SenderUser, Text: ef.Text})
		c.orch.Enqueue(orchestrator.QuestionTask(token, setting, c.rng))

	case AskDirected:
		token := c.guard.Bump()
		c.store.Append(chat.Message{Sender: chat.SenderUser, Text: ef.Text})
		c.orch.Enqueue(orchestrator.DirectedTask(token, setting, ef.Target, c.cfg.FollowupProbability, c.rng))

	case StarterFeedback:
		log.Printf("[round] %s: idle starter feedback", c.id)
		c.orch.Enqueue(orchestrator.FeedbackTask(orchestrator.TaskStarterFeedback, c.guard.Current(), setting, ef.Draft, c.rng))

	case WordFeedback:
		log.Printf("[round] %s: word-count feedback at checkpoint %d", c.id, c.state.WordCheckpoint)
		c.orch.Enqueue(orchestrator.FeedbackTask(orchestrator.TaskWordFeedback, c.guard.Current(), setting, ef.Draft, c.rng))

	case FinalEvaluation:
		token := c.guard.Bump()
		c.store.Append(chat.Message{Sender: chat.SenderUser, Text: ef.Message})
		c.orch.Enqueue(orchestrator.FinalEvaluationTask(token, setting, ef.Answer))

	case RoundClosed:
		answer := c.state.Answer
		if answer == "" {
			answer = NoAnswer
		}
		return &roundmodel.Result{
			RoundID:     c.id,
			Topic:       c.topic,
			Mode:        c.state.Mode,
			Question:    c.state.Setup.Question,
			FinalAnswer: answer,
			Notes:       c.state.Notes,
			Transcript:  c.store.Snapshot(),
			Elapsed:     ef.Elapsed,
			ClosedAt:    c.now().UTC(),
		}
	}
	return nil
}

func (c *Controller) settingLocked() orchestrator.Setting {
	return orchestrator.Setting{
		Question:     c.state.Setup.Question,
		Participants: c.state.Setup.Participants,
		Teacher:      c.state.Setup.Teacher,
	}
}

func (c *Controller) statusLocked() broadcast.Status {
	return broadcast.Status{
		RoundID:       c.id,
		Phase:         c.state.Phase,
		TimeRemaining: int(c.state.TimeRemaining / time.Second),
		QuestionID:    c.state.Setup.Question.ID,
	}
}

// State 返回当前状态的副本
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastTouched 参与者或回合自身最后一次操作的时间
func (c *Controller) LastTouched() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touched
}

// View 对外可见的回合信息
type View struct {
	ID            string              `json:"id"`
	Topic         string              `json:"topic"`
	Mode          roundmodel.Mode     `json:"mode"`
	Phase         roundmodel.Phase    `json:"phase"`
	TimeRemaining int                 `json:"timeRemaining"`
	Question      roundmodel.Question `json:"question"`
	Personas      []persona.Persona   `json:"personas"`
	Teacher       persona.Persona     `json:"teacher"`
	Answer        string              `json:"answer"`
	Notes         string              `json:"notes"`
	Transcript    []chat.Message      `json:"transcript"`
}

// View 生成用于渲染的回合快照
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		ID:            c.id,
		Topic:         c.topic,
		Mode:          c.state.Mode,
		Phase:         c.state.Phase,
		TimeRemaining: int(c.state.TimeRemaining / time.Second),
		Question:      c.state.Setup.Question,
		Personas:      append([]persona.Persona(nil), c.state.Setup.Participants...),
		Teacher:       c.state.Setup.Teacher,
		Answer:        c.state.Answer,
		Notes:         c.state.Notes,
		Transcript:    c.store.Snapshot(),
	}
}
