// Package session holds the ephemeral per-conversation turn buffer. It
// is distinct from the profile's running notes: this is raw recent
// dialogue, the notes are the model's own distilled summary of it.
package session

import (
	"encoding/json"
	"strconv"
	"time"
)

// MaxTurns bounds the history buffer; older turns fall off FIFO.
const MaxTurns = 10

// Parameter keys used to round-trip history through the webhook's
// session parameters.
const (
	ParamHistory   = "history"
	ParamTurnCount = "turn_count"
)

// Turn is one completed user/assistant exchange.
type Turn struct {
	TurnIndex     int    `json:"turn_index"`
	UserText      string `json:"user_text"`
	AssistantText string `json:"assistant_text"`
	Stage         string `json:"stage"`
	Timestamp     int64  `json:"ts"`
}

func (t Turn) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// History is the bounded turn buffer for one conversation session.
type History struct {
	turns     []Turn
	turnCount int
}

// Turns returns the buffered turns oldest first.
func (h *History) Turns() []Turn {
	if h == nil {
		return nil
	}
	return h.turns
}

// TurnCount is the total number of exchanges this session, including
// turns that already fell off the buffer.
func (h *History) TurnCount() int {
	if h == nil {
		return 0
	}
	return h.turnCount
}

// Empty reports whether the session has no buffered dialogue yet.
func (h *History) Empty() bool {
	return h == nil || len(h.turns) == 0
}

// Append records a completed exchange, evicting the oldest turn once the
// buffer is full.
func (h *History) Append(userText, assistantText, stageLabel string, at time.Time) {
	h.turnCount++
	h.turns = append(h.turns, Turn{
		TurnIndex:     h.turnCount,
		UserText:      userText,
		AssistantText: assistantText,
		Stage:         stageLabel,
		Timestamp:     at.UnixMilli(),
	})
	if len(h.turns) > MaxTurns {
		h.turns = h.turns[len(h.turns)-MaxTurns:]
	}
}

// Last returns the most recent turn, if any.
func (h *History) Last() (Turn, bool) {
	if h.Empty() {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

// FromParams restores a history round-tripped through session
// parameters. Malformed payloads yield an empty history rather than an
// error; a fresh session is always a safe fallback.
func FromParams(params map[string]string) *History {
	h := &History{}
	if params == nil {
		return h
	}
	if raw := params[ParamHistory]; raw != "" {
		var turns []Turn
		if err := json.Unmarshal([]byte(raw), &turns); err == nil {
			if len(turns) > MaxTurns {
				turns = turns[len(turns)-MaxTurns:]
			}
			h.turns = turns
		}
	}
	if raw := params[ParamTurnCount]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			h.turnCount = n
		}
	}
	if h.turnCount < len(h.turns) {
		h.turnCount = len(h.turns)
	}
	return h
}

// ToParams serializes the history back into session parameters.
func (h *History) ToParams(params map[string]string) map[string]string {
	if params == nil {
		params = map[string]string{}
	}
	raw, err := json.Marshal(h.Turns())
	if err != nil {
		raw = []byte("[]")
	}
	params[ParamHistory] = string(raw)
	params[ParamTurnCount] = strconv.Itoa(h.TurnCount())
	return params
}
