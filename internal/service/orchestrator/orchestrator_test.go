package orchestrator

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	"github.com/zhouzirui/peer-essay/backend/internal/model/round"
	"github.com/zhouzirui/peer-essay/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/peer-essay/backend/internal/service/chat"
	"github.com/zhouzirui/peer-essay/backend/internal/service/session"
)

type recordedCall struct {
	persona string
	req     ai.Request
	at      time.Time
}

// recordingGenerator 回复 "<name> says hi" 并记录每个请求
type recordingGenerator struct {
	mu     sync.Mutex
	calls  []recordedCall
	failOn map[string]error
	// during 在 Generate 内、返回回复之前执行
	during func(personaName string)
}

func (g *recordingGenerator) Generate(ctx context.Context, req ai.Request) (string, error) {
	name := strings.TrimSuffix(strings.TrimPrefix(strings.SplitN(req.SystemInstructions, "\n", 2)[0], "You are "), ".")

	g.mu.Lock()
	g.calls = append(g.calls, recordedCall{persona: name, req: req, at: time.Now()})
	during := g.during
	err := g.failOn[name]
	g.mu.Unlock()

	if during != nil {
		during(name)
	}
	if err != nil {
		return "", err
	}
	return name + " says hi", nil
}

func (g *recordingGenerator) snapshot() []recordedCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]recordedCall(nil), g.calls...)
}

func testSetting() Setting {
	mk := func(id, name string, role persona.Role, keywords ...string) persona.Persona {
		return persona.Persona{
			ID:                 id,
			Name:               name,
			Role:               role,
			SystemInstructions: "You are " + name + ".",
			IntroText:          "Hi, I'm " + name + ".",
			Keywords:           keywords,
		}
	}
	return Setting{
		Question: round.Question{ID: "q1", Topic: "education", Prompt: "Should homework be banned?"},
		Participants: []persona.Persona{
			mk("maya", "Maya", persona.RolePeer, "ideas"),
			mk("leo", "Leo", persona.RolePeer, "counter"),
			mk("priya", "Priya", persona.RolePeer, "outline"),
		},
		Teacher: mk("rivera", "Rivera", persona.RoleTeacher, "teacher"),
	}
}

type fixture struct {
	store *chatservice.Store
	guard *session.Guard
	gen   *recordingGenerator
	orch  *Orchestrator
}

func newFixture(cfg Config) *fixture {
	store := chatservice.NewStore(&chatservice.IDGenerator{})
	guard := &session.Guard{}
	gen := &recordingGenerator{failOn: map[string]error{}}
	return &fixture{
		store: store,
		guard: guard,
		gen:   gen,
		orch:  New(store, guard, gen, ai.NewPersonaPromptManager(20), cfg),
	}
}

func agentMessages(store *chatservice.Store) []chat.Message {
	var out []chat.Message
	for _, msg := range store.Snapshot() {
		if msg.Sender == chat.SenderAgent {
			out = append(out, msg)
		}
	}
	return out
}

func TestQuestionBatchAllPersonasSequential(t *testing.T) {
	f := newFixture(Config{PacingDelay: 15 * time.Millisecond})
	setting := testSetting()

	token := f.guard.Bump()
	f.store.Append(chat.Message{Sender: chat.SenderUser, Text: "Help me brainstorm"})
	f.orch.execute(context.Background(), QuestionTask(token, setting, rand.New(rand.NewPCG(1, 2))))

	replies := agentMessages(f.store)
	if len(replies) != 3 {
		t.Fatalf("expected 3 agent messages, got %d", len(replies))
	}
	seen := map[string]bool{}
	for _, msg := range replies {
		if msg.Placeholder {
			t.Fatalf("placeholder left in transcript: %+v", msg)
		}
		seen[msg.AgentID] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct speakers, got %v", seen)
	}

	calls := f.gen.snapshot()
	if len(calls) != 3 {
		t.Fatalf("expected 3 generation calls, got %d", len(calls))
	}
	for i, call := range calls {
		history := joinHistory(call.req.History)
		if !strings.Contains(history, "Help me brainstorm") {
			t.Fatalf("call %d prompt missing user text: %s", i, history)
		}
		// 后发言者能看到同一批次中较早的回复
		for _, prev := range calls[:i] {
			if !strings.Contains(history, prev.persona+" says hi") {
				t.Fatalf("call %d prompt missing earlier reply from %s", i, prev.persona)
			}
		}
		if i > 0 && call.at.Sub(calls[i-1].at) < 15*time.Millisecond {
			t.Fatalf("pacing delay not honored between call %d and %d", i-1, i)
		}
	}
}

func TestStaleTaskIsDropped(t *testing.T) {
	f := newFixture(Config{})
	setting := testSetting()

	token := f.guard.Bump()
	task := QuestionTask(token, setting, rand.New(rand.NewPCG(1, 2)))
	f.guard.Bump()

	f.orch.execute(context.Background(), task)

	if got := len(agentMessages(f.store)); got != 0 {
		t.Fatalf("expected no messages from superseded batch, got %d", got)
	}
	if calls := f.gen.snapshot(); len(calls) != 0 {
		t.Fatalf("expected no generation calls, got %d", len(calls))
	}
}

func TestSupersededMidCallAppendsNothing(t *testing.T) {
	f := newFixture(Config{})
	setting := testSetting()
	f.gen.during = func(string) { f.guard.Bump() }

	token := f.guard.Bump()
	f.orch.execute(context.Background(), QuestionTask(token, setting, rand.New(rand.NewPCG(1, 2))))

	if got := len(agentMessages(f.store)); got != 0 {
		t.Fatalf("expected zero messages after supersession, got %d", got)
	}
	if calls := f.gen.snapshot(); len(calls) != 1 {
		t.Fatalf("expected the batch to stop after the first call, got %d calls", len(calls))
	}
}

func TestDirectedMentionSingleReply(t *testing.T) {
	f := newFixture(Config{})
	setting := testSetting()

	text := "Leo, can you give me a counter argument?"
	target, ok := persona.Match(setting.Participants, text)
	if !ok || target.ID != "leo" {
		t.Fatalf("expected leo to match, got %+v ok=%v", target, ok)
	}

	token := f.guard.Bump()
	f.store.Append(chat.Message{Sender: chat.SenderUser, Text: text})
	f.orch.execute(context.Background(), DirectedTask(token, setting, target, 0, rand.New(rand.NewPCG(3, 4))))

	replies := agentMessages(f.store)
	if len(replies) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(replies))
	}
	if replies[0].AgentID != "leo" {
		t.Fatalf("expected leo to reply, got %s", replies[0].AgentID)
	}
}

func TestDirectedFollowUpReferencesFirstReply(t *testing.T) {
	f := newFixture(Config{})
	setting := testSetting()

	token := f.guard.Bump()
	task := DirectedTask(token, setting, setting.Participants[1], 1, rand.New(rand.NewPCG(3, 4)))
	if task.FollowUp == nil || task.FollowUp.ID == "leo" {
		t.Fatalf("expected a follow-up from another participant, got %+v", task.FollowUp)
	}

	f.orch.execute(context.Background(), task)

	calls := f.gen.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if !strings.Contains(joinHistory(calls[1].req.History), "Leo says hi") {
		t.Fatal("follow-up prompt does not reference the first reply")
	}
}

func TestGenerationErrorContinuesBatch(t *testing.T) {
	f := newFixture(Config{})
	setting := testSetting()
	f.gen.failOn["Leo"] = &ai.GenerationError{Status: 502, Message: "upstream"}

	token := f.guard.Bump()
	f.orch.execute(context.Background(), QuestionTask(token, setting, rand.New(rand.NewPCG(1, 2))))

	replies := agentMessages(f.store)
	if len(replies) != 3 {
		t.Fatalf("expected 3 messages despite failure, got %d", len(replies))
	}
	for _, msg := range replies {
		if msg.AgentID == "leo" {
			if !strings.Contains(msg.Text, "could not respond") {
				t.Fatalf("expected visible error text, got %q", msg.Text)
			}
			continue
		}
		if !strings.HasSuffix(msg.Text, "says hi") {
			t.Fatalf("unexpected reply %q", msg.Text)
		}
	}
}

func TestFinalEvaluationUsesFallback(t *testing.T) {
	var done []session.Token
	f := newFixture(Config{Hooks: Hooks{EvaluationDone: func(tok session.Token) { done = append(done, tok) }}})
	setting := testSetting()
	f.gen.failOn["Priya"] = errors.New("timeout")

	token := f.guard.Bump()
	f.orch.execute(context.Background(), FinalEvaluationTask(token, setting, "NO ANSWER"))

	calls := f.gen.snapshot()
	if len(calls) != 4 {
		t.Fatalf("expected 3 final answers and 1 evaluation, got %d", len(calls))
	}
	for i, want := range []string{"Maya", "Leo", "Priya", "Rivera"} {
		if calls[i].persona != want {
			t.Fatalf("call %d went to %s, want %s", i, calls[i].persona, want)
		}
	}

	evaluation := joinHistory(calls[3].req.History)
	if !strings.Contains(evaluation, "Priya: "+FinalAnswerFallback) {
		t.Fatalf("evaluation prompt missing fallback answer: %s", evaluation)
	}
	if !strings.Contains(evaluation, "Participant: NO ANSWER") {
		t.Fatalf("evaluation prompt missing participant answer: %s", evaluation)
	}
	if len(done) != 1 || done[0] != token {
		t.Fatalf("expected one EvaluationDone for token %d, got %v", token, done)
	}
}

func TestRunExecutesQueuedTasksInOrder(t *testing.T) {
	introsDone := make(chan session.Token, 1)
	var presented []int64
	var mu sync.Mutex
	f := newFixture(Config{
		Hooks: Hooks{IntrosPosted: func(tok session.Token) { introsDone <- tok }},
		Presenter: PresenterFunc(func(ctx context.Context, msg chat.Message) error {
			mu.Lock()
			presented = append(presented, msg.ID)
			mu.Unlock()
			return nil
		}),
	})
	setting := testSetting()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.orch.Run(ctx)

	token := f.guard.Bump()
	f.orch.Enqueue(IntrosTask(token, setting))

	select {
	case got := <-introsDone:
		if got != token {
			t.Fatalf("unexpected token %d", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("intros never completed")
	}

	snapshot := f.store.Snapshot()
	if len(snapshot) != 4 {
		t.Fatalf("expected teacher + 3 intros, got %d", len(snapshot))
	}
	if snapshot[0].AgentID != "rivera" {
		t.Fatalf("expected teacher intro first, got %s", snapshot[0].AgentID)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(presented) != 4 {
		t.Fatalf("expected every intro to be presented, got %d", len(presented))
	}
	for i := 1; i < len(presented); i++ {
		if presented[i] <= presented[i-1] {
			t.Fatalf("presentation out of order: %v", presented)
		}
	}
}

func TestIdleCoversRunningTask(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 3)
	f := newFixture(Config{})
	f.gen.during = func(string) {
		started <- struct{}{}
		<-release
	}

	if !f.orch.Idle() {
		t.Fatal("new orchestrator should be idle")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.orch.Run(ctx)

	token := f.guard.Bump()
	f.orch.Enqueue(QuestionTask(token, testSetting(), rand.New(rand.NewPCG(1, 2))))
	if f.orch.Idle() {
		t.Fatal("queued task should make the orchestrator busy")
	}

	<-started
	if f.orch.Idle() {
		t.Fatal("running task should make the orchestrator busy")
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for !f.orch.Idle() {
		if time.Now().After(deadline) {
			t.Fatal("orchestrator never drained")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(agentMessages(f.store)); got != 3 {
		t.Fatalf("expected 3 replies once idle, got %d", got)
	}
}

func joinHistory(turns []chat.Turn) string {
	parts := make([]string, 0, len(turns))
	for _, turn := range turns {
		parts = append(parts, turn.Content)
	}
	return strings.Join(parts, "\n")
}
