package round

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/peer-essay/backend/internal/config"
	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
)

type memorySink struct {
	mu      sync.Mutex
	results []roundmodel.Result
}

func (s *memorySink) SaveResult(ctx context.Context, result roundmodel.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func newTestManager(t *testing.T, catalog persona.Catalog, sink ResultSink) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := NewManager(ctx, Deps{
		Catalog:   catalog,
		Questions: roundmodel.NewQuestionBank(roundmodel.SeedQuestions()),
		Generator: echoGenerator(),
		Sink:      sink,
	}, testRoundConfig(), config.TypingConfig{Enabled: false})
	t.Cleanup(m.closeAll)
	return m
}

func TestManagerCreateDrawsCappedPersonas(t *testing.T) {
	m := newTestManager(t, persona.NewMemoryCatalog(persona.Seed()), nil)

	ctrl, err := m.Create("education", roundmodel.ModeGroup)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	waitForPhase(t, ctrl, roundmodel.PhaseOpen)

	view := ctrl.View()
	if len(view.Personas) != 3 {
		t.Fatalf("expected 3 personas, got %d", len(view.Personas))
	}
	for _, p := range view.Personas {
		if p.IsTeacher() {
			t.Fatalf("teacher drawn as a peer: %s", p.ID)
		}
	}
	if view.Teacher.ID != "ms-rivera" {
		t.Fatalf("unexpected teacher %s", view.Teacher.ID)
	}
	if view.Question.Topic != "education" {
		t.Fatalf("unexpected question %+v", view.Question)
	}

	got, err := m.Get(ctrl.ID())
	if err != nil || got != ctrl {
		t.Fatalf("Get returned %v, %v", got, err)
	}
}

func TestManagerFallsBackForUnknownTopic(t *testing.T) {
	m := newTestManager(t, persona.NewMemoryCatalog(persona.Seed()), nil)

	ctrl, err := m.Create("astronomy", roundmodel.ModeMulti)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	view := ctrl.View()
	if view.Question.ID != roundmodel.FallbackQuestion.ID {
		t.Fatalf("expected fallback question, got %s", view.Question.ID)
	}
	if view.Teacher.ID != "fallback-teacher" || len(view.Personas) != 3 {
		t.Fatalf("expected fallback personas, got teacher=%s personas=%d", view.Teacher.ID, len(view.Personas))
	}
}

func TestManagerErrors(t *testing.T) {
	m := newTestManager(t, persona.NewMemoryCatalog(persona.Seed()), nil)

	if _, err := m.Create("  ", roundmodel.ModeGroup); !errors.Is(err, ErrTopicRequired) {
		t.Fatalf("expected ErrTopicRequired, got %v", err)
	}
	if _, err := m.Get("missing"); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("expected ErrRoundNotFound, got %v", err)
	}
	if err := m.Remove("missing"); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("expected ErrRoundNotFound, got %v", err)
	}
}

func TestManagerPersistsClosedRounds(t *testing.T) {
	sink := &memorySink{}
	m := newTestManager(t, persona.NewMemoryCatalog(persona.Seed()), sink)

	ctrl, err := m.Create("technology", roundmodel.ModeGroup)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}
	waitForPhase(t, ctrl, roundmodel.PhaseOpen)
	if err := ctrl.Edit("Age checks protect kids."); err != nil {
		t.Fatalf("Edit err: %v", err)
	}
	if err := ctrl.Submit(); err != nil {
		t.Fatalf("Submit err: %v", err)
	}

	waitFor(t, "persisted result", func() bool { return sink.count() == 1 })
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.results[0].FinalAnswer != "Age checks protect kids." {
		t.Fatalf("unexpected final answer %q", sink.results[0].FinalAnswer)
	}
}

func TestManagerSweepRemovesIdleRounds(t *testing.T) {
	m := newTestManager(t, persona.NewMemoryCatalog(persona.Seed()), nil)

	ctrl, err := m.Create("education", roundmodel.ModeGroup)
	if err != nil {
		t.Fatalf("Create err: %v", err)
	}

	if n := m.Sweep(); n != 0 {
		t.Fatalf("fresh round swept: %d", n)
	}

	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	if n := m.Sweep(); n != 1 {
		t.Fatalf("expected one swept round, got %d", n)
	}
	if _, err := m.Get(ctrl.ID()); !errors.Is(err, ErrRoundNotFound) {
		t.Fatalf("expected swept round to be gone, got %v", err)
	}
}
