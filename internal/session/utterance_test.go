package session

import (
	"testing"
)

func TestUtterance_ForwardTransitions(t *testing.T) {
	u := NewUtterance(0)

	for _, s := range []UtteranceState{
		StateFinalizing, StateFinalized, StateTranslating, StateSynthesizing, StateDelivered,
	} {
		if err := u.Advance(s); err != nil {
			t.Fatalf("Advance(%s): %v", s, err)
		}
	}
	if u.State() != StateDelivered {
		t.Errorf("state = %s, want delivered", u.State())
	}
}

func TestUtterance_NoSkippingOrBackwards(t *testing.T) {
	u := NewUtterance(1)

	if err := u.Advance(StateTranslating); err == nil {
		t.Error("skipping finalizing must fail")
	}
	u.Advance(StateFinalizing)
	if err := u.Advance(StateOpen); err == nil {
		t.Error("moving backwards must fail")
	}
	if err := u.Advance(StateFailed); err == nil {
		t.Error("Advance must not reach failed; only Fail() does")
	}
}

func TestUtterance_FailedIsAbsorbing(t *testing.T) {
	u := NewUtterance(2)
	u.Advance(StateFinalizing)
	u.Fail()

	if err := u.Advance(StateFinalized); err == nil {
		t.Error("transition out of failed must fail")
	}
	if u.State() != StateFailed {
		t.Errorf("state = %s, want failed", u.State())
	}
}

func TestUtterance_FinalText(t *testing.T) {
	u := NewUtterance(0)
	u.AddFinal("你好，")
	u.AddFinal("  ") // ignored
	u.AddFinal("你叫什么名字？")

	if got := u.FinalText(); got != "你好， 你叫什么名字？" {
		t.Errorf("FinalText = %q", got)
	}

	u.SetInterim("partial")
	if got := u.FinalText(); got != "你好， 你叫什么名字？" {
		t.Error("interim text must never leak into the final transcript")
	}
}

func TestUtterance_WordCount(t *testing.T) {
	u := NewUtterance(0)
	u.AddFinal("one two three")
	u.AddFinal("four five")
	if got := u.WordCount(); got != 5 {
		t.Errorf("WordCount = %d, want 5", got)
	}
}
