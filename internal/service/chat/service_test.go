package chat_test

import (
	"errors"
	"testing"

	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/peer-essay/backend/internal/service/chat"
)

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	ids := &chatservice.IDGenerator{}
	store := chatservice.NewStore(ids)

	var last int64
	for i := 0; i < 50; i++ {
		msg := store.Append(chat.Message{Sender: chat.SenderUser, Text: "hi"})
		if msg.ID <= last {
			t.Fatalf("id %d not greater than previous %d", msg.ID, last)
		}
		last = msg.ID
	}

	store.Clear()
	msg := store.Append(chat.Message{Sender: chat.SenderSystem, Text: "new round"})
	if msg.ID <= last {
		t.Fatalf("id reused after clear: %d <= %d", msg.ID, last)
	}
}

func TestIDsUniqueAcrossStoresSharingGenerator(t *testing.T) {
	ids := &chatservice.IDGenerator{}
	a := chatservice.NewStore(ids)
	b := chatservice.NewStore(ids)

	first := a.Append(chat.Message{Sender: chat.SenderUser})
	second := b.Append(chat.Message{Sender: chat.SenderUser})
	if first.ID == second.ID {
		t.Fatalf("ids collided: %d", first.ID)
	}
}

func TestReplaceTextUpdatesOnlyText(t *testing.T) {
	store := chatservice.NewStore(nil)
	placeholder := store.Append(chat.Message{Sender: chat.SenderAgent, AgentID: "leo", Text: chat.Placeholder, Placeholder: true})

	got, err := store.ReplaceText(placeholder.ID, "final reply")
	if err != nil {
		t.Fatalf("ReplaceText err: %v", err)
	}
	if got.ID != placeholder.ID || got.AgentID != "leo" || got.Sender != chat.SenderAgent {
		t.Fatalf("identity fields changed: %+v", got)
	}
	if got.Text != "final reply" || got.Placeholder {
		t.Fatalf("unexpected replaced message: %+v", got)
	}
}

func TestReplaceTextMissingID(t *testing.T) {
	store := chatservice.NewStore(nil)
	if _, err := store.ReplaceText(99, "x"); !errors.Is(err, chatservice.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestAppendIfRejectsWhenInvalid(t *testing.T) {
	store := chatservice.NewStore(nil)
	if _, ok := store.AppendIf(func() bool { return false }, chat.Message{Sender: chat.SenderAgent}); ok {
		t.Fatal("expected append to be rejected")
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestFilterOutKeepsOrder(t *testing.T) {
	store := chatservice.NewStore(nil)
	store.Append(chat.Message{Sender: chat.SenderUser, Text: "a"})
	store.Append(chat.Message{Sender: chat.SenderAgent, Text: chat.Placeholder, Placeholder: true})
	store.Append(chat.Message{Sender: chat.SenderUser, Text: "b"})

	removed := store.FilterOut(func(m chat.Message) bool { return m.Placeholder })
	if removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}

	snap := store.Snapshot()
	if len(snap) != 2 || snap[0].Text != "a" || snap[1].Text != "b" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	store := chatservice.NewStore(nil)
	store.Append(chat.Message{Sender: chat.SenderUser, Text: "original"})

	snap := store.Snapshot()
	snap[0].Text = "mutated"

	if store.Snapshot()[0].Text != "original" {
		t.Fatal("snapshot mutation leaked into the store")
	}
}

func TestAgentIDOnlyKeptForAgents(t *testing.T) {
	store := chatservice.NewStore(nil)
	msg := store.Append(chat.Message{Sender: chat.SenderUser, AgentID: "maya", Text: "hi"})
	if msg.AgentID != "" {
		t.Fatalf("user message kept agent id %q", msg.AgentID)
	}
}

func TestSubscribeReceivesChangesInOrder(t *testing.T) {
	store := chatservice.NewStore(nil)
	changes, cancel := store.Subscribe(8)
	defer cancel()

	msg := store.Append(chat.Message{Sender: chat.SenderAgent, AgentID: "maya", Text: chat.Placeholder, Placeholder: true})
	if _, err := store.ReplaceText(msg.ID, "done"); err != nil {
		t.Fatalf("ReplaceText err: %v", err)
	}
	store.Clear()

	want := []chatservice.ChangeKind{chatservice.ChangeAppend, chatservice.ChangeReplace, chatservice.ChangeClear}
	for _, kind := range want {
		got := <-changes
		if got.Kind != kind {
			t.Fatalf("expected %s, got %s", kind, got.Kind)
		}
	}
}
