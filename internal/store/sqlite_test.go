package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "rounds.db"))
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResult(id, topic string, closedAt time.Time) roundmodel.Result {
	return roundmodel.Result{
		RoundID:     id,
		Topic:       topic,
		Mode:        roundmodel.ModeMulti,
		Question:    roundmodel.Question{ID: "edu-1", Topic: topic, Prompt: "Should homework be abolished?"},
		FinalAnswer: "Yes, mostly.",
		Notes:       "cite the survey",
		Transcript: []chat.Message{
			{ID: 1, Sender: chat.SenderAgent, AgentID: "maya", Text: "Hi!", Timestamp: closedAt.Add(-time.Minute)},
			{ID: 2, Sender: chat.SenderUser, Text: "Final answer:\nYes, mostly.", Timestamp: closedAt},
		},
		Elapsed:  95 * time.Second,
		ClosedAt: closedAt,
	}
}

func TestSaveAndGetResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	closedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.SaveResult(ctx, sampleResult("r1", "Education", closedAt)); err != nil {
		t.Fatalf("SaveResult err: %v", err)
	}

	got, err := s.GetResult(ctx, "r1")
	if err != nil {
		t.Fatalf("GetResult err: %v", err)
	}
	if got.Topic != "education" || got.Mode != roundmodel.ModeMulti {
		t.Fatalf("unexpected topic/mode %s/%s", got.Topic, got.Mode)
	}
	if got.Elapsed != 95*time.Second || !got.ClosedAt.Equal(closedAt) {
		t.Fatalf("unexpected timing %v %v", got.Elapsed, got.ClosedAt)
	}
	if len(got.Transcript) != 2 || got.Transcript[0].AgentID != "maya" || got.Transcript[1].Sender != chat.SenderUser {
		t.Fatalf("transcript not round-tripped: %+v", got.Transcript)
	}
}

func TestGetMissingResult(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetResult(context.Background(), "nope"); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound, got %v", err)
	}
}

func TestListResultsByTopicNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, item := range []struct{ id, topic string }{
		{"a", "education"}, {"b", "technology"}, {"c", "education"},
	} {
		if err := s.SaveResult(ctx, sampleResult(item.id, item.topic, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveResult err: %v", err)
		}
	}

	edu, err := s.ListResults(ctx, "Education", 0)
	if err != nil {
		t.Fatalf("ListResults err: %v", err)
	}
	if len(edu) != 2 || edu[0].RoundID != "c" || edu[1].RoundID != "a" {
		t.Fatalf("unexpected education results %+v", edu)
	}

	all, err := s.ListResults(ctx, "", 2)
	if err != nil {
		t.Fatalf("ListResults err: %v", err)
	}
	if len(all) != 2 || all[0].RoundID != "c" {
		t.Fatalf("unexpected limited results %+v", all)
	}
}

func TestSaveResultUpserts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	result := sampleResult("r1", "education", time.Now().UTC())

	if err := s.SaveResult(ctx, result); err != nil {
		t.Fatalf("SaveResult err: %v", err)
	}
	result.FinalAnswer = "Changed my mind."
	if err := s.SaveResult(ctx, result); err != nil {
		t.Fatalf("SaveResult err: %v", err)
	}

	got, err := s.GetResult(ctx, "r1")
	if err != nil {
		t.Fatalf("GetResult err: %v", err)
	}
	if got.FinalAnswer != "Changed my mind." {
		t.Fatalf("expected upsert, got %q", got.FinalAnswer)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping err: %v", err)
	}
}
