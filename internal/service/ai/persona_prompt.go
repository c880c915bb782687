package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	"github.com/zhouzirui/peer-essay/backend/internal/model/round"
)

// Intent 要求角色产出的内容类型
type Intent int

const (
	IntentReply Intent = iota
	IntentFollowUp
	IntentStarterFeedback
	IntentDraftFeedback
	IntentFinalAnswer
	IntentEvaluate
)

func (i Intent) String() string {
	switch i {
	case IntentReply:
		return "reply"
	case IntentFollowUp:
		return "follow_up"
	case IntentStarterFeedback:
		return "starter_feedback"
	case IntentDraftFeedback:
		return "draft_feedback"
	case IntentFinalAnswer:
		return "final_answer"
	case IntentEvaluate:
		return "evaluate"
	default:
		return "unknown"
	}
}

// participantName 真人写作者在其他角色提示词中的称呼
const participantName = "Participant"

// FinalAnswer 老师点评输入中的一条答案
type FinalAnswer struct {
	Name string
	Text string
}

// PromptContext 提示词可引用的回合状态
type PromptContext struct {
	Question     round.Question
	Participants []persona.Persona
	Draft        string
	// FollowUpTo 追问要回应的那条回复
	FollowUpTo   *chat.Message
	FinalAnswers []FinalAnswer
}

// PersonaPromptManager 根据角色、意图与消息记录构造生成请求
type PersonaPromptManager struct {
	historyLimit int
}

// NewPersonaPromptManager 每个提示词最多保留 historyLimit 条历史
func NewPersonaPromptManager(historyLimit int) *PersonaPromptManager {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &PersonaPromptManager{historyLimit: historyLimit}
}

// BuildRequest 为 p 组装系统指令、带角色的历史以及角色自己的模型参数
func (pm *PersonaPromptManager) BuildRequest(p persona.Persona, intent Intent, pc PromptContext, transcript []chat.Message) Request {
	return Request{
		SystemInstructions: pm.BuildSystemPrompt(p, pc),
		History:            pm.buildHistory(p, intent, pc, transcript),
		ModelID:            p.Generation.Model,
		MaxTokens:          p.Generation.MaxTokens,
		Temperature:        p.Generation.Temperature,
	}
}

// BuildSystemPrompt 合并角色的行为设定与回合背景
func (pm *PersonaPromptManager) BuildSystemPrompt(p persona.Persona, pc PromptContext) string {
	others := []string{"the participant (shown as " + participantName + ")"}
	for _, other := range pc.Participants {
		if other.ID != p.ID {
			others = append(others, other.Name)
		}
	}

	return fmt.Sprintf(`%s

Essay question: %s

You are %s in a group chat with %s.
Messages from others are prefixed with the speaker's name. Do not prefix your own reply with your name.`,
		strings.TrimSpace(p.SystemInstructions),
		pc.Question.Prompt,
		p.Name,
		strings.Join(others, ", "),
	)
}

func (pm *PersonaPromptManager) buildHistory(p persona.Persona, intent Intent, pc PromptContext, transcript []chat.Message) []chat.Turn {
	names := make(map[string]string, len(pc.Participants))
	for _, item := range pc.Participants {
		names[item.ID] = item.Name
	}

	messages := make([]chat.Message, 0, len(transcript))
	for _, msg := range transcript {
		if msg.Placeholder || strings.TrimSpace(msg.Text) == "" {
			continue
		}
		messages = append(messages, msg)
	}
	if len(messages) > pm.historyLimit {
		messages = messages[len(messages)-pm.historyLimit:]
	}

	turns := make([]chat.Turn, 0, len(messages)+1)
	for _, msg := range messages {
		switch {
		case msg.Sender == chat.SenderAgent && msg.AgentID == p.ID:
			turns = appendTurn(turns, chat.RoleAssistant, msg.Text)
		case msg.Sender == chat.SenderAgent:
			name := names[msg.AgentID]
			if name == "" {
				name = msg.AgentID
			}
			turns = appendTurn(turns, chat.RoleUser, name+": "+msg.Text)
		case msg.Sender == chat.SenderSystem:
			turns = appendTurn(turns, chat.RoleUser, "[system] "+msg.Text)
		default:
			turns = appendTurn(turns, chat.RoleUser, participantName+": "+msg.Text)
		}
	}

	if instruction := pm.instruction(p, intent, pc, names); instruction != "" {
		turns = appendTurn(turns, chat.RoleUser, instruction)
	}
	return turns
}

func (pm *PersonaPromptManager) instruction(p persona.Persona, intent Intent, pc PromptContext, names map[string]string) string {
	switch intent {
	case IntentReply:
		return fmt.Sprintf("(It is your turn, %s. Reply to the latest message from %s, taking into account what the others already said.)", p.Name, participantName)
	case IntentFollowUp:
		if pc.FollowUpTo == nil {
			return fmt.Sprintf("(Add a short follow-up to the conversation, %s.)", p.Name)
		}
		speaker := names[pc.FollowUpTo.AgentID]
		if speaker == "" {
			speaker = pc.FollowUpTo.AgentID
		}
		return fmt.Sprintf("(%s was asked directly and answered: %q. Add one short follow-up reacting to that answer.)", speaker, pc.FollowUpTo.Text)
	case IntentStarterFeedback:
		return fmt.Sprintf("(%s has not written much yet. Their draft so far: %q. Suggest one concrete way to get started.)", participantName, pc.Draft)
	case IntentDraftFeedback:
		return fmt.Sprintf("(%s's current draft:\n%s\n\nGive brief, specific feedback on the draft.)", participantName, pc.Draft)
	case IntentFinalAnswer:
		return "(Time is up. Write your own final answer to the essay question in at most 120 words. Do not comment on the others.)"
	case IntentEvaluate:
		var b strings.Builder
		b.WriteString("(Everyone has submitted a final answer:\n")
		for _, answer := range pc.FinalAnswers {
			b.WriteString(fmt.Sprintf("- %s: %s\n", answer.Name, answer.Text))
		}
		b.WriteString("Evaluate the answers and say which argues its position best.)")
		return b.String()
	default:
		return ""
	}
}

// appendTurn 合并相邻的同角色消息，保证历史交替出现
func appendTurn(turns []chat.Turn, role chat.Role, content string) []chat.Turn {
	if n := len(turns); n > 0 && turns[n-1].Role == role {
		turns[n-1].Content += "\n\n" + content
		return turns
	}
	return append(turns, chat.Turn{Role: role, Content: content})
}
