package typing

import (
	"math/rand/v2"
	"testing"
	"time"
)

func newTestAnimator(sched *ManualScheduler) *Animator {
	return NewAnimator(Config{
		Speed:     20,
		Frame:     10 * time.Millisecond,
		Scheduler: sched,
		Rand:      rand.New(rand.NewPCG(5, 6)),
	})
}

func drain(sched *ManualScheduler, rounds int) {
	for i := 0; i < rounds && sched.Pending() > 0; i++ {
		sched.Advance(50 * time.Millisecond)
	}
}

func TestAnimatorRevealsFullTextAndCompletesOnce(t *testing.T) {
	sched := NewManualScheduler(time.Unix(0, 0))
	a := newTestAnimator(sched)
	text := "Maybe start with a story about the night before a big exam, then zoom out to the policy question."

	var percents []int
	var last Progress
	completions := 0
	run := a.Start(text, func(p Progress) {
		percents = append(percents, p.Percent)
		last = p
	}, func() {
		completions++
	})

	drain(sched, 10000)

	if completions != 1 {
		t.Fatalf("expected exactly one completion, got %d", completions)
	}
	if last.Revealed != text || run.Revealed() != text {
		t.Fatalf("revealed text mismatch: %q", last.Revealed)
	}
	if last.Percent != 100 {
		t.Fatalf("expected final percent 100, got %d", last.Percent)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("percent decreased: %v", percents)
		}
	}
	if !run.Completed() {
		t.Fatal("run should report completion")
	}
	select {
	case <-run.Done():
	default:
		t.Fatal("done channel should be closed")
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no pending ticks, got %d", sched.Pending())
	}
}

func TestAnimatorDoesNotRevealBeforeInterval(t *testing.T) {
	sched := NewManualScheduler(time.Unix(0, 0))
	a := newTestAnimator(sched)

	reveals := 0
	a.Start("one two three four five six", func(Progress) { reveals++ }, nil)

	// 一帧远短于最小间隔（0.5 * 50ms）
	sched.Advance(10 * time.Millisecond)
	if reveals != 0 {
		t.Fatalf("expected no reveal after one frame, got %d", reveals)
	}
}

func TestAnimatorEmptyTextCompletesImmediately(t *testing.T) {
	sched := NewManualScheduler(time.Unix(0, 0))
	a := newTestAnimator(sched)

	var got []int
	completions := 0
	run := a.Start("", func(p Progress) { got = append(got, p.Percent) }, func() { completions++ })

	if completions != 1 {
		t.Fatalf("expected one completion, got %d", completions)
	}
	if len(got) != 1 || got[0] != 100 {
		t.Fatalf("expected a single 100%% progress, got %v", got)
	}
	if !run.Completed() {
		t.Fatal("expected completed run")
	}
	if sched.Pending() != 0 {
		t.Fatal("empty text should not schedule ticks")
	}
}

func TestAnimatorCancelStopsCallbacks(t *testing.T) {
	sched := NewManualScheduler(time.Unix(0, 0))
	a := newTestAnimator(sched)

	progress := 0
	completions := 0
	run := a.Start("a fairly long reply that will take many chunks to reveal on screen for sure", func(Progress) {
		progress++
	}, func() {
		completions++
	})

	for progress == 0 {
		sched.Advance(10 * time.Millisecond)
	}
	run.Cancel()
	seen := progress

	sched.Advance(time.Minute)

	if progress != seen {
		t.Fatalf("progress fired after cancel: before=%d after=%d", seen, progress)
	}
	if completions != 0 {
		t.Fatalf("completion fired after cancel")
	}
	if run.Completed() {
		t.Fatal("cancelled run must not report completion")
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected cancelled run to leave no ticks, got %d", sched.Pending())
	}
	run.Cancel()
}

func TestSlotRestartDropsPreviousCompletion(t *testing.T) {
	sched := NewManualScheduler(time.Unix(0, 0))
	slot := NewSlot(newTestAnimator(sched))

	firstDone, secondDone := 0, 0
	first := slot.Play("first text that is still typing when replaced", nil, func() { firstDone++ })
	sched.Advance(20 * time.Millisecond)

	var revealed string
	second := slot.Play("second", func(p Progress) { revealed = p.Revealed }, func() { secondDone++ })
	drain(sched, 10000)

	if firstDone != 0 {
		t.Fatalf("replaced run completed %d times", firstDone)
	}
	if secondDone != 1 {
		t.Fatalf("expected second run to complete once, got %d", secondDone)
	}
	if revealed != "second" {
		t.Fatalf("unexpected revealed text %q", revealed)
	}
	if first.Completed() || !second.Completed() {
		t.Fatal("unexpected completion flags")
	}
}

func TestIntervalForScalesWithLength(t *testing.T) {
	a := NewAnimator(Config{Speed: 10, Rand: rand.New(constSource(0))})

	short := a.intervalFor("hi ")
	long := a.intervalFor("a much longer chunk of text")

	if short != 50*time.Millisecond {
		t.Fatalf("expected minimum multiplier interval 50ms, got %v", short)
	}
	if long <= short {
		t.Fatalf("expected longer chunk to wait longer: short=%v long=%v", short, long)
	}
}
