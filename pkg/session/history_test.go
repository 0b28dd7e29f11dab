package session

import (
	"fmt"
	"testing"
	"time"
)

func TestAppend_BoundedFIFO(t *testing.T) {
	h := &History{}
	now := time.Now()

	for i := 1; i <= 13; i++ {
		h.Append(fmt.Sprintf("user %d", i), fmt.Sprintf("bot %d", i), "Stage1", now)
	}

	if h.TurnCount() != 13 {
		t.Errorf("TurnCount = %d, want 13", h.TurnCount())
	}
	turns := h.Turns()
	if len(turns) != MaxTurns {
		t.Fatalf("len(turns) = %d, want %d", len(turns), MaxTurns)
	}
	if turns[0].UserText != "user 4" {
		t.Errorf("oldest surviving turn = %q, want user 4", turns[0].UserText)
	}
	if turns[0].TurnIndex != 4 {
		t.Errorf("turn index = %d, want 4", turns[0].TurnIndex)
	}
	last, ok := h.Last()
	if !ok || last.UserText != "user 13" {
		t.Errorf("Last = %+v", last)
	}
}

func TestParams_RoundTrip(t *testing.T) {
	h := &History{}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h.Append("hello", "hi there", "Stage1", now)
	h.Append("i'm stressed", "tell me more", "Stage2", now.Add(time.Minute))

	params := h.ToParams(map[string]string{"user_id": "alice"})
	if params["user_id"] != "alice" {
		t.Error("existing params should be preserved")
	}

	restored := FromParams(params)
	if restored.TurnCount() != 2 {
		t.Errorf("TurnCount = %d, want 2", restored.TurnCount())
	}
	turns := restored.Turns()
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[1].UserText != "i'm stressed" || turns[1].Stage != "Stage2" {
		t.Errorf("turn[1] = %+v", turns[1])
	}
}

func TestFromParams_MalformedPayload(t *testing.T) {
	cases := []map[string]string{
		nil,
		{},
		{ParamHistory: "not json"},
		{ParamHistory: `{"wrong":"shape"}`},
		{ParamTurnCount: "many"},
		{ParamTurnCount: "-3"},
	}
	for _, params := range cases {
		h := FromParams(params)
		if !h.Empty() {
			t.Errorf("FromParams(%v) should be empty", params)
		}
		if h.TurnCount() != 0 {
			t.Errorf("FromParams(%v).TurnCount = %d", params, h.TurnCount())
		}
	}
}

func TestFromParams_TruncatesOversizedPayload(t *testing.T) {
	h := &History{}
	now := time.Now()
	for i := 0; i < MaxTurns+5; i++ {
		h.turns = append(h.turns, Turn{TurnIndex: i + 1, UserText: fmt.Sprintf("u%d", i), Timestamp: now.UnixMilli()})
	}
	h.turnCount = MaxTurns + 5

	restored := FromParams(h.ToParams(nil))
	if len(restored.Turns()) > MaxTurns {
		t.Fatalf("restored %d turns, cap is %d", len(restored.Turns()), MaxTurns)
	}
}

func TestFromParams_CountNeverBelowBufferedTurns(t *testing.T) {
	h := &History{}
	h.Append("a", "b", "Stage1", time.Now())
	params := h.ToParams(nil)
	params[ParamTurnCount] = "0"

	restored := FromParams(params)
	if restored.TurnCount() != 1 {
		t.Errorf("TurnCount = %d, want 1", restored.TurnCount())
	}
}
