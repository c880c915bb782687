// Package orchestrator 决定每个触发事件由哪些角色发言，并按顺序把回复写入消息记录。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	"github.com/zhouzirui/peer-essay/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/peer-essay/backend/internal/service/chat"
	"github.com/zhouzirui/peer-essay/backend/internal/service/session"
)

// FinalAnswerFallback 角色未能给出最终答案时的替代文本
const FinalAnswerFallback = "could not provide a final answer"

var errEmptyReply = errors.New("model returned empty reply")

// Presenter 向观察者展示已提交的消息，Present 阻塞到展示（打字动画）结束。
type Presenter interface {
	Present(ctx context.Context, msg chat.Message) error
}

// PresenterFunc 将函数适配为 Presenter
type PresenterFunc func(ctx context.Context, msg chat.Message) error

func (f PresenterFunc) Present(ctx context.Context, msg chat.Message) error {
	return f(ctx, msg)
}

type immediatePresenter struct{}

func (immediatePresenter) Present(context.Context, chat.Message) error { return nil }

// Hooks 向回合回报批次里程碑
type Hooks struct {
	IntrosPosted   func(token session.Token)
	EvaluationDone func(token session.Token)
}

// Config 发言节奏与依赖配置
type Config struct {
	PacingDelay time.Duration
	IntroDelay  time.Duration
	Presenter   Presenter
	Hooks       Hooks
	// Sleep 发言之间的等待，默认是可被 context 取消的定时器
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator 针对单个回合的消息记录逐个执行任务
type Orchestrator struct {
	store   *chatservice.Store
	guard   *session.Guard
	gen     ai.Generator
	prompts *ai.PersonaPromptManager
	cfg     Config
	queue   *queue
}

// New 创建调度器，调用 Run 启动工作协程
func New(store *chatservice.Store, guard *session.Guard, gen ai.Generator, prompts *ai.PersonaPromptManager, cfg Config) *Orchestrator {
	if cfg.Presenter == nil {
		cfg.Presenter = immediatePresenter{}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if prompts == nil {
		prompts = ai.NewPersonaPromptManager(0)
	}
	return &Orchestrator{
		store:   store,
		guard:   guard,
		gen:     gen,
		prompts: prompts,
		cfg:     cfg,
		queue:   newQueue(),
	}
}

// Enqueue 将 t 排在已有任务之后，从不阻塞
func (o *Orchestrator) Enqueue(t Task) {
	o.queue.push(t)
}

// Pending 返回排队中的任务数
func (o *Orchestrator) Pending() int {
	return o.queue.len()
}

// Run 顺序执行排队任务，直到 ctx 结束
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		task, ok := o.queue.pop(ctx)
		if !ok {
			return nil
		}
		o.execute(ctx, task)
		o.queue.done()
	}
}

// Idle 判断是否既没有排队任务也没有正在执行的任务
func (o *Orchestrator) Idle() bool {
	return o.queue.idle()
}

func (o *Orchestrator) execute(ctx context.Context, t Task) {
	if !o.guard.Valid(t.Token) {
		log.Printf("[orchestrator] dropping stale %s task token=%d current=%d", t.Kind, t.Token, o.guard.Current())
		return
	}

	var action NextAction
	switch t.Kind {
	case TaskIntros:
		action = o.runIntros(ctx, t)
	case TaskQuestion:
		action = o.runBatch(ctx, t, ai.IntentReply)
	case TaskDirected:
		action = o.runDirected(ctx, t)
	case TaskStarterFeedback:
		action = o.runBatch(ctx, t, ai.IntentStarterFeedback)
	case TaskWordFeedback:
		action = o.runBatch(ctx, t, ai.IntentDraftFeedback)
	case TaskFinalEvaluation:
		action = o.runFinalEvaluation(ctx, t)
	default:
		log.Printf("[orchestrator] unknown task kind %d", int(t.Kind))
		return
	}

	if action == Abandon {
		log.Printf("[orchestrator] %s batch superseded token=%d", t.Kind, t.Token)
	}
}

func (o *Orchestrator) runIntros(ctx context.Context, t Task) NextAction {
	valid := o.guard.Check(t.Token)
	for _, p := range t.Speakers {
		if strings.TrimSpace(p.IntroText) == "" {
			continue
		}
		msg, ok := o.store.AppendIf(valid, chat.Message{Sender: chat.SenderAgent, AgentID: p.ID, Text: p.IntroText})
		if !ok {
			return Abandon
		}
		if action := o.pace(ctx, msg, o.cfg.IntroDelay); action != Continue {
			return action
		}
	}

	if !o.guard.Valid(t.Token) {
		return Abandon
	}
	if o.cfg.Hooks.IntrosPosted != nil {
		o.cfg.Hooks.IntrosPosted(t.Token)
	}
	return Finish
}

func (o *Orchestrator) runBatch(ctx context.Context, t Task, intent ai.Intent) NextAction {
	pc := promptContext(t)
	for _, p := range t.Speakers {
		if _, action := o.speak(ctx, t, p, intent, pc); action != Continue {
			return action
		}
	}
	return Finish
}

func (o *Orchestrator) runDirected(ctx context.Context, t Task) NextAction {
	if len(t.Speakers) == 0 {
		return Finish
	}

	pc := promptContext(t)
	first, action := o.speak(ctx, t, t.Speakers[0], ai.IntentReply, pc)
	if action != Continue {
		return action
	}
	if t.FollowUp == nil || first.err != nil {
		return Finish
	}

	pc.FollowUpTo = &first.msg
	if _, action := o.speak(ctx, t, *t.FollowUp, ai.IntentFollowUp, pc); action != Continue {
		return action
	}
	return Finish
}

func (o *Orchestrator) runFinalEvaluation(ctx context.Context, t Task) NextAction {
	pc := promptContext(t)
	answers := []ai.FinalAnswer{{Name: "Participant", Text: t.Draft}}

	for _, p := range t.Speakers {
		res, action := o.speak(ctx, t, p, ai.IntentFinalAnswer, pc)
		if action != Continue {
			return action
		}
		answers = append(answers, ai.FinalAnswer{Name: p.Name, Text: res.msg.Text})
	}

	if teacher := t.Setting.Teacher; teacher.ID != "" {
		pc.FinalAnswers = answers
		if _, action := o.speak(ctx, t, teacher, ai.IntentEvaluate, pc); action != Continue {
			return action
		}
	} else {
		log.Printf("[orchestrator] no teacher persona, skipping evaluation token=%d", t.Token)
	}

	if !o.guard.Valid(t.Token) {
		return Abandon
	}
	if o.cfg.Hooks.EvaluationDone != nil {
		o.cfg.Hooks.EvaluationDone(t.Token)
	}
	return Finish
}

type turnResult struct {
	msg chat.Message
	err error
}

// speak 执行一次角色发言：占位、生成、提交、展示，然后等待
func (o *Orchestrator) speak(ctx context.Context, t Task, p persona.Persona, intent ai.Intent, pc ai.PromptContext) (turnResult, NextAction) {
	valid := o.guard.Check(t.Token)
	placeholder, ok := o.store.AppendIf(valid, chat.Message{
		Sender:      chat.SenderAgent,
		AgentID:     p.ID,
		Text:        chat.Placeholder,
		Placeholder: true,
	})
	if !ok {
		return turnResult{}, Abandon
	}

	req := o.prompts.BuildRequest(p, intent, pc, o.store.Snapshot())
	text, err := o.gen.Generate(ctx, req)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errEmptyReply
	}
	if err != nil {
		log.Printf("[orchestrator] persona=%s intent=%s generation failed: %v", p.ID, intent, err)
		text = failureText(p, intent, err)
	} else {
		text = strings.TrimSpace(text)
	}

	msg, ok, replaceErr := o.store.ReplaceTextIf(valid, placeholder.ID, text)
	if !ok {
		o.store.FilterOut(func(m chat.Message) bool { return m.ID == placeholder.ID })
		return turnResult{}, Abandon
	}
	if replaceErr != nil {
		return turnResult{}, Abandon
	}

	return turnResult{msg: msg, err: err}, o.pace(ctx, msg, o.cfg.PacingDelay)
}

// pace 展示 msg，然后等待 delay 再轮到下一位
func (o *Orchestrator) pace(ctx context.Context, msg chat.Message, delay time.Duration) NextAction {
	if err := o.cfg.Presenter.Present(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return Abandon
		}
		log.Printf("[orchestrator] presenting message %d failed: %v", msg.ID, err)
	}
	if err := o.cfg.Sleep(ctx, delay); err != nil {
		return Abandon
	}
	return Continue
}

func failureText(p persona.Persona, intent ai.Intent, err error) string {
	if intent == ai.IntentFinalAnswer {
		return FinalAnswerFallback
	}

	var genErr *ai.GenerationError
	if errors.As(err, &genErr) {
		return fmt.Sprintf("[%s could not respond right now (error %d).]", p.Name, genErr.Status)
	}
	return fmt.Sprintf("[%s could not respond right now.]", p.Name)
}

func promptContext(t Task) ai.PromptContext {
	participants := append([]persona.Persona(nil), t.Setting.Participants...)
	if t.Setting.Teacher.ID != "" {
		participants = append(participants, t.Setting.Teacher)
	}
	return ai.PromptContext{
		Question:     t.Setting.Question,
		Participants: participants,
		Draft:        t.Draft,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IntrosTask 先发老师的自我介绍，再依次发每位同伴的
func IntrosTask(token session.Token, setting Setting) Task {
	speakers := make([]persona.Persona, 0, len(setting.Participants)+1)
	if setting.Teacher.ID != "" {
		speakers = append(speakers, setting.Teacher)
	}
	speakers = append(speakers, setting.Participants...)
	return Task{Kind: TaskIntros, Token: token, Setting: setting, Speakers: speakers}
}

// QuestionTask 以随机顺序询问每位同伴
func QuestionTask(token session.Token, setting Setting, rng *rand.Rand) Task {
	return Task{Kind: TaskQuestion, Token: token, Setting: setting, Speakers: persona.Pick(setting.Participants, -1, rng)}
}

// DirectedTask 只询问 target。以 followUp 的概率由另一位同伴对 target 的回复追问。
func DirectedTask(token session.Token, setting Setting, target persona.Persona, followUp float64, rng *rand.Rand) Task {
	t := Task{Kind: TaskDirected, Token: token, Setting: setting, Speakers: []persona.Persona{target}}
	if followUp <= 0 || rng.Float64() >= followUp {
		return t
	}

	others := make([]persona.Persona, 0, len(setting.Participants))
	for _, p := range setting.Participants {
		if p.ID != target.ID {
			others = append(others, p)
		}
	}
	if len(others) > 0 {
		pick := others[rng.IntN(len(others))]
		t.FollowUp = &pick
	}
	return t
}

// FeedbackTask 以随机顺序请每位同伴点评 draft。
// kind 为 TaskStarterFeedback 或 TaskWordFeedback。
func FeedbackTask(kind TaskKind, token session.Token, setting Setting, draft string, rng *rand.Rand) Task {
	return Task{Kind: kind, Token: token, Setting: setting, Speakers: persona.Pick(setting.Participants, -1, rng), Draft: draft}
}

// FinalEvaluationTask 按入选顺序收集最终答案，再由老师结合 answer 一并点评。
func FinalEvaluationTask(token session.Token, setting Setting, answer string) Task {
	speakers := append([]persona.Persona(nil), setting.Participants...)
	return Task{Kind: TaskFinalEvaluation, Token: token, Setting: setting, Speakers: speakers, Draft: answer}
}
