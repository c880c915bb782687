package orchestrator

import (
	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	"github.com/zhouzirui/peer-essay/backend/internal/model/round"
	"github.com/zhouzirui/peer-essay/backend/internal/service/session"
)

// TaskKind 任务响应的触发事件
type TaskKind int

const (
	TaskIntros TaskKind = iota
	TaskQuestion
	TaskDirected
	TaskStarterFeedback
	TaskWordFeedback
	TaskFinalEvaluation
)

func (k TaskKind) String() string {
	switch k {
	case TaskIntros:
		return "intros"
	case TaskQuestion:
		return "question"
	case TaskDirected:
		return "directed"
	case TaskStarterFeedback:
		return "starter_feedback"
	case TaskWordFeedback:
		return "word_feedback"
	case TaskFinalEvaluation:
		return "final_evaluation"
	default:
		return "unknown"
	}
}

// Setting 任务运行时的回合背景，在创建任务时捕获
type Setting struct {
	Question     round.Question
	Participants []persona.Persona
	Teacher      persona.Persona
}

// Task 一批角色发言。发言顺序在创建时确定，Token 是同一时刻捕获的会话令牌。
type Task struct {
	Kind     TaskKind
	Token    session.Token
	Setting  Setting
	Speakers []persona.Persona
	// FollowUp 非空时在定向回复之后发言
	FollowUp *persona.Persona
	// Draft 供点评与最终评估使用的参与者答案
	Draft string
}

// NextAction 告诉工作循环每一步之后如何继续

type NextAction int

const (
	Continue NextAction = iota
	Abandon
	Finish
)

func (a NextAction) String() string {
	switch a {
	case Continue:
		return "continue"
	case Abandon:
		return "abandon"
	case Finish:
		return "finish"
	default:
		return "unknown"
	}
}
