package transcript

import (
	"sync"
	"testing"
)

func TestAggregator_CompleteTurn(t *testing.T) {
	agg := NewAggregator()
	agg.AppendUser("he")
	agg.AppendUser("llo ")
	agg.AppendModel("hi ")

	turn, ok := agg.Complete()
	if !ok {
		t.Fatal("expected turn to be recorded")
	}
	if turn.User != "hello " || turn.Model != "hi " {
		t.Errorf("unexpected turn %+v", turn)
	}

	history := agg.History()
	if len(history) != 1 {
		t.Fatalf("Expected 1 turn, got %d", len(history))
	}
	if history[0].User != "hello " || history[0].Model != "hi " {
		t.Errorf("unexpected history entry %+v", history[0])
	}

	user, model := agg.Pending()
	if user != "" || model != "" {
		t.Errorf("accumulators not reset: user=%q model=%q", user, model)
	}
}

func TestAggregator_EmptyTurnSkipped(t *testing.T) {
	agg := NewAggregator()
	if _, ok := agg.Complete(); ok {
		t.Error("empty turn should not be recorded")
	}
	if len(agg.History()) != 0 {
		t.Errorf("Expected empty history, got %d", len(agg.History()))
	}

	agg.AppendModel("Muraho")
	if _, ok := agg.Complete(); !ok {
		t.Error("model-only turn should be recorded")
	}
}

func TestAggregator_OrderAndReset(t *testing.T) {
	agg := NewAggregator()
	for _, text := range []string{"a", "b", "c"} {
		agg.AppendUser(text)
		agg.Complete()
	}

	history := agg.History()
	if len(history) != 3 {
		t.Fatalf("Expected 3 turns, got %d", len(history))
	}
	for i, want := range []string{"a", "b", "c"} {
		if history[i].User != want {
			t.Errorf("turn %d: got %q, want %q", i, history[i].User, want)
		}
	}

	// History is a copy.
	history[0].User = "changed"
	if agg.History()[0].User != "a" {
		t.Error("History should return a copy")
	}

	agg.AppendUser("pending")
	agg.Reset()
	if len(agg.History()) != 0 {
		t.Error("Reset should clear history")
	}
	if user, _ := agg.Pending(); user != "" {
		t.Errorf("Reset should clear accumulators, got %q", user)
	}
}

func TestAggregator_ConcurrentAppend(t *testing.T) {
	agg := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.AppendUser("x")
		}()
	}
	wg.Wait()

	user, _ := agg.Pending()
	if len(user) != 50 {
		t.Errorf("Expected 50 fragments, got %d", len(user))
	}
}
