package round

import (
	"strings"
	"time"

	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
)

// Event reducer 的输入事件
type Event interface{ isEvent() }

type (
	// Start 以新抽取的配置开始第一回合
	Start struct {
		Setup Setup
		Now   time.Time
	}
	// IntrosPosted 所有角色的自我介绍都已写入记录
	IntrosPosted struct{ Now time.Time }
	// Tick 倒计时前进 Step
	Tick struct{ Step time.Duration }
	// Edit 替换参与者的答案文本
	Edit struct {
		Answer string
		Now    time.Time
	}
	// NotesEdit 替换参与者的草稿笔记
	NotesEdit struct{ Notes string }
	// IdleCheck 周期性的空闲检查
	IdleCheck struct{ Now time.Time }
	// Ask 参与者的自由提问
	Ask struct{ Text string }
	// Submit 结束写作，倒计时耗尽时 Auto 为 true
	Submit struct{ Auto bool }
	// EvaluationDone 脚本化评估已完成
	EvaluationDone struct{}
	// Next 以新配置开始下一回合
	Next struct {
		Setup Setup
		Now   time.Time
	}
)

func (Start) isEvent()          {}
func (IntrosPosted) isEvent()   {}
func (Tick) isEvent()           {}
func (Edit) isEvent()           {}
func (NotesEdit) isEvent()      {}
func (IdleCheck) isEvent()      {}
func (Ask) isEvent()            {}
func (Submit) isEvent()         {}
func (EvaluationDone) isEvent() {}
func (Next) isEvent()           {}

// Effect controller 需要执行的副作用
type Effect interface{ isEffect() }

type (
	// ResetTranscript 清空记录并刷新会话令牌
	ResetTranscript struct{}
	// PostIntros 发布角色自我介绍
	PostIntros struct{}
	// AskAll 追加问题并询问所有同伴
	AskAll struct{ Text string }
	// AskDirected 追加问题并只询问 Target
	AskDirected struct {
		Text   string
		Target persona.Persona
	}
	// StarterFeedback 请每位同伴给出开头的建议
	StarterFeedback struct{ Draft string }
	// WordFeedback 请每位同伴点评草稿
	WordFeedback struct{ Draft string }
	// FinalEvaluation 追加最终答案并执行脚本化评估
	FinalEvaluation struct {
		Message string
		Answer  string
	}
	// RoundClosed 将已结束的回合交给结果存储
	RoundClosed struct{ Elapsed time.Duration }
)

func (ResetTranscript) isEffect() {}
func (PostIntros) isEffect()      {}
func (AskAll) isEffect()          {}
func (AskDirected) isEffect()     {}
func (StarterFeedback) isEffect() {}
func (WordFeedback) isEffect()    {}
func (FinalEvaluation) isEffect() {}
func (RoundClosed) isEffect()     {}

// Reduce 将 e 应用到 s，不修改输入，也不做任何 I/O。
// 当前阶段不允许的事件返回 ErrPhaseMismatch，状态保持不变。
func Reduce(s State, e Event) (State, []Effect, error) {
	switch ev := e.(type) {
	case Start:
		if s.Started {
			return s, nil, ErrAlreadyStarted
		}
		return begin(s, ev.Setup), []Effect{ResetTranscript{}, PostIntros{}}, nil

	case Next:
		if s.Phase != roundmodel.PhaseClosed {
			return s, nil, ErrPhaseMismatch
		}
		return begin(s, ev.Setup), []Effect{ResetTranscript{}, PostIntros{}}, nil

	case IntrosPosted:
		if s.Phase != roundmodel.PhaseAwaitingIntros {
			return s, nil, ErrPhaseMismatch
		}
		s.Phase = roundmodel.PhaseOpen
		s.LastActivity = ev.Now
		s.OpenedAt = ev.Now
		return s, nil, nil

	case Tick:
		if s.Phase != roundmodel.PhaseOpen {
			return s, nil, nil
		}
		s.TimeRemaining -= ev.Step
		if s.TimeRemaining > 0 {
			return s, nil, nil
		}
		s.TimeRemaining = 0
		return submit(s)

	case Edit:
		if s.Phase != roundmodel.PhaseOpen {
			return s, nil, ErrPhaseMismatch
		}
		s.Answer = ev.Answer
		s.LastActivity = ev.Now

		words := WordCount(s.Answer)
		inc := s.Rules.WordFeedbackIncrement
		if inc <= 0 || words-s.WordCheckpoint < inc {
			return s, nil, nil
		}
		// 按整数倍推进，一次大段粘贴只触发一次
		s.WordCheckpoint += inc * ((words - s.WordCheckpoint) / inc)
		return s, []Effect{WordFeedback{Draft: s.Answer}}, nil

	case NotesEdit:
		if s.Phase != roundmodel.PhaseOpen {
			return s, nil, ErrPhaseMismatch
		}
		s.Notes = ev.Notes
		return s, nil, nil

	case IdleCheck:
		if s.Phase != roundmodel.PhaseOpen || s.StarterFired {
			return s, nil, nil
		}
		words := WordCount(s.Answer)
		if ev.Now.Sub(s.LastActivity) < s.Rules.IdleThreshold || words >= s.Rules.IdleMinWords {
			return s, nil, nil
		}
		s.StarterFired = true
		// 空闲反馈优先，并同步推进字数检查点
		s.WordCheckpoint = words
		return s, []Effect{StarterFeedback{Draft: s.Answer}}, nil

	case Ask:
		if s.Phase != roundmodel.PhaseOpen {
			return s, nil, ErrPhaseMismatch
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return s, nil, ErrEmptyQuestion
		}
		return s, []Effect{askEffect(s, text)}, nil

	case Submit:
		if s.Phase != roundmodel.PhaseOpen {
			return s, nil, ErrPhaseMismatch
		}
		return submit(s)

	case EvaluationDone:
		if s.Phase != roundmodel.PhaseEvaluating {
			return s, nil, ErrPhaseMismatch
		}
		s.Phase = roundmodel.PhaseClosed
		return s, []Effect{RoundClosed{Elapsed: s.Rules.Duration - s.TimeRemaining}}, nil
	}

	return s, nil, nil
}

func begin(s State, setup Setup) State {
	next := NewState(s.Rules, s.Mode)
	next.Started = true
	next.Setup = setup
	return next
}

func submit(s State) (State, []Effect, error) {
	s.Phase = roundmodel.PhaseEvaluating
	answer := strings.TrimSpace(s.Answer)
	if answer == "" {
		answer = NoAnswer
	}
	return s, []Effect{FinalEvaluation{Message: ComposeFinalAnswer(s.Answer, s.Notes), Answer: answer}}, nil
}

func askEffect(s State, text string) Effect {
	candidates := append([]persona.Persona{}, s.Setup.Participants...)
	if s.Setup.Teacher.ID != "" {
		candidates = append(candidates, s.Setup.Teacher)
	}
	target, matched := persona.Match(candidates, text)

	switch s.Mode {
	case roundmodel.ModeSingle:
		if !matched {
			target = s.Setup.Teacher
			if target.ID == "" && len(s.Setup.Participants) > 0 {
				target = s.Setup.Participants[0]
			}
		}
		return AskDirected{Text: text, Target: target}
	case roundmodel.ModeMulti:
		if matched {
			return AskDirected{Text: text, Target: target}
		}
		return AskAll{Text: text}
	default:
		return AskAll{Text: text}
	}
}
