// Package round 驱动限时写作回合的生命周期。
package round

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
)

var (
	ErrRoundNotFound  = errors.New("round not found")
	ErrPhaseMismatch  = errors.New("action not allowed in current phase")
	ErrTopicRequired  = errors.New("topic is required")
	ErrEmptyQuestion  = errors.New("question text is required")
	ErrAlreadyStarted = errors.New("round already started")
)

// NoAnswer 答案为空时提交的替代文本
const NoAnswer = "NO ANSWER"

// Rules 回合固定的计时与反馈阈值
type Rules struct {
	Duration              time.Duration
	IdleThreshold         time.Duration
	IdleMinWords          int
	WordFeedbackIncrement int
}

// Setup 回合开始时抽取的题目与角色
type Setup struct {
	Question     roundmodel.Question
	Participants []persona.Persona
	Teacher      persona.Persona
}

// State reducer 掌握的全部回合信息
type State struct {
	Rules Rules
	Mode  roundmodel.Mode
	Setup Setup

	Phase          roundmodel.Phase
	Started        bool
	TimeRemaining  time.Duration
	Answer         string
	Notes          string
	WordCheckpoint int
	LastActivity   time.Time
	StarterFired   bool
	OpenedAt       time.Time
}

// NewState 返回尚未开始的回合
func NewState(rules Rules, mode roundmodel.Mode) State {
	return State{Rules: rules, Mode: mode, Phase: roundmodel.PhaseAwaitingIntros, TimeRemaining: rules.Duration}
}

// WordCount 统计以空白分隔的单词数
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ComposeFinalAnswer 格式化参与者的最终答案消息

func ComposeFinalAnswer(answer, notes string) string {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = NoAnswer
	}

	text := fmt.Sprintf("Final answer:\n%s", answer)
	if notes = strings.TrimSpace(notes); notes != "" {
		text += fmt.Sprintf("\n\nNotes:\n%s", notes)
	}
	return text
}
