package round

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
)

// Phase 回合所处的生命周期阶段
type Phase int

const (
	PhaseAwaitingIntros Phase = iota
	PhaseOpen
	PhaseEvaluating
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingIntros:
		return "awaiting_intros"
	case PhaseOpen:
		return "open"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText 输出阶段的传输名称
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText 解析阶段名称
func (p *Phase) UnmarshalText(text []byte) error {
	for candidate := PhaseAwaitingIntros; candidate <= PhaseClosed; candidate++ {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown round phase %q", text)
}

// Mode 决定参与者的提问如何分派给角色
type Mode int

const (
	// ModeGroup 每个问题都发给全部入选角色
	ModeGroup Mode = iota
	// ModeMulti 发给被点名的角色，无人被点名时发给所有人
	ModeMulti
	// ModeSingle 只发给一个角色，默认是老师
	ModeSingle
)

func (m Mode) String() string {
	switch m {
	case ModeGroup:
		return "group"
	case ModeMulti:
		return "multi"
	case ModeSingle:
		return "single"
	default:
		return "unknown"
	}
}

// MarshalText 输出模式的传输名称
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText 解析模式名称
func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// ParseMode 解析模式名称，空字符串表示 ModeGroup
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "group":
		return ModeGroup, nil
	case "multi":
		return ModeMulti, nil
	case "single":
		return ModeSingle, nil
	default:
		return 0, fmt.Errorf("unknown round mode %q", raw)
	}
}

// Question 一道作文题
type Question struct {
	ID     string `json:"id"`
	Topic  string `json:"topic"`
	Prompt string `json:"prompt"`
}

// Result 交给持久化层的已结束回合
type Result struct {
	RoundID     string         `json:"roundId"`
	Topic       string         `json:"topic"`
	Mode        Mode           `json:"mode"`
	Question    Question       `json:"question"`
	FinalAnswer string         `json:"finalAnswer"`
	Notes       string         `json:"notes"`
	Transcript  []chat.Message `json:"transcript"`
	Elapsed     time.Duration  `json:"elapsed"`
	ClosedAt    time.Time      `json:"closedAt"`
}

// QuestionBank 按话题保存作文题
type QuestionBank struct {
	byTopic map[string][]Question
}

// NewQuestionBank 按话题索引题目
func NewQuestionBank(questions []Question) *QuestionBank {
	bank := &QuestionBank{byTopic: make(map[string][]Question)}
	for _, q := range questions {
		topic := strings.ToLower(strings.TrimSpace(q.Topic))
		bank.byTopic[topic] = append(bank.byTopic[topic], q)
	}
	return bank
}

// Draw 为话题随机抽一道题。话题下没有题目而使用兜底题时，第二个返回值为 false。
func (b *QuestionBank) Draw(topic string, rng *rand.Rand) (Question, bool) {
	var pool []Question
	if b != nil {
		pool = b.byTopic[strings.ToLower(strings.TrimSpace(topic))]
	}
	if len(pool) == 0 {
		q := FallbackQuestion
		q.Topic = topic
		return q, false
	}
	return pool[rng.IntN(len(pool))], true
}

// FallbackQuestion 题库无法加载时使用的兜底题
var FallbackQuestion = Question{
	ID:     "fallback",
	Prompt: "Describe one change that would make your school or workplace better, and argue why it matters.",
}

// SeedQuestions 默认题库
func SeedQuestions() []Question {
	return []Question{
		{ID: "edu-1", Topic: "education", Prompt: "Should homework be abolished in secondary schools? Take a position and defend it."},
		{ID: "edu-2", Topic: "education", Prompt: "Is a university degree still worth its cost? Argue for or against."},
		{ID: "edu-3", Topic: "education", Prompt: "Should students be allowed to use AI assistants when writing assignments?"},
		{ID: "tech-1", Topic: "technology", Prompt: "Should social media platforms be required to verify the age of their users?"},
		{ID: "tech-2", Topic: "technology", Prompt: "Will remote work do more good than harm to cities over the next decade?"},
		{ID: "tech-3", Topic: "technology", Prompt: "Should governments regulate the development of artificial intelligence? Defend your view."},
	}
}
