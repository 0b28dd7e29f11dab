// Package stage tracks the five-phase conversational state machine.
// Transitions are proposed by the model inside its structured output;
// this package only validates proposals and applies the time-based
// overrides, so malformed output can never corrupt persisted state.
package stage

import (
	"strings"
	"time"
)

// Stage is one point in the fixed conversational progression.
type Stage int

const (
	Stage1 Stage = iota + 1 // Relationship Building
	Stage2                  // Assessing Concern
	Stage3                  // Goal Setting
	Stage4                  // Intervention
	Stage5                  // Termination / Follow-up
)

// Initial is the stage every new user starts in.
const Initial = Stage1

var labels = map[Stage]string{
	Stage1: "Stage1",
	Stage2: "Stage2",
	Stage3: "Stage3",
	Stage4: "Stage4",
	Stage5: "Stage5",
}

var names = map[Stage]string{
	Stage1: "Relationship Building",
	Stage2: "Assessing Concern",
	Stage3: "Goal Setting",
	Stage4: "Intervention",
	Stage5: "Termination and Follow-up",
}

var goals = map[Stage]string{
	Stage1: "Build trust and rapport. Greet warmly, learn what brings the user here, and do not probe for problems they have not raised. Move to Stage2 once the user shares a concrete concern rather than only greeting or small talk.",
	Stage2: "Understand the user's concern in depth: its history, intensity, and impact on daily life. Move to Stage3 once the concern is clearly understood and the user seems ready to think about what they want to change.",
	Stage3: "Help the user articulate a realistic, specific goal for what they want to be different. Move to Stage4 once a concrete goal has been agreed.",
	Stage4: "Support the user in working toward the agreed goal with small actionable steps, coping strategies, and encouragement. Move to Stage5 when the user reports meaningful progress or wants to wind down.",
	Stage5: "Consolidate progress, reflect on what was learned, and plan follow-up. Move back to Stage1 when the conversation closes or the user returns with something new.",
}

func (s Stage) String() string {
	if label, ok := labels[s]; ok {
		return label
	}
	return "Stage1"
}

// Name returns the human-readable phase name.
func (s Stage) Name() string {
	if name, ok := names[s]; ok {
		return name
	}
	return names[Stage1]
}

// Valid reports whether s is one of the five legal stages.
func (s Stage) Valid() bool {
	_, ok := labels[s]
	return ok
}

// Next returns the following stage; Stage5 cycles back to Stage1.
func (s Stage) Next() Stage {
	if s >= Stage5 || !s.Valid() {
		return Stage1
	}
	return s + 1
}

// Describe returns the prompt text for the current stage: its name, its
// goal, and which transition is legal next.
func (s Stage) Describe() string {
	if !s.Valid() {
		s = Stage1
	}
	var sb strings.Builder
	sb.WriteString("Current stage: ")
	sb.WriteString(s.String())
	sb.WriteString(" (")
	sb.WriteString(s.Name())
	sb.WriteString("). ")
	sb.WriteString(goals[s])
	sb.WriteString(" The next stage after this one is ")
	sb.WriteString(s.Next().String())
	sb.WriteString(" (")
	sb.WriteString(s.Next().Name())
	sb.WriteString(").")
	return sb.String()
}

// Parse converts a model-proposed label into a Stage. Only the five
// exact labels are accepted, case-insensitively and ignoring surrounding
// whitespace.
func Parse(raw string) (Stage, bool) {
	raw = strings.TrimSpace(raw)
	for s, label := range labels {
		if strings.EqualFold(raw, label) {
			return s, true
		}
	}
	return 0, false
}

// Apply validates a proposed label against the current stage: a legal
// label wins, anything else keeps the current stage.
func Apply(current Stage, proposed string) Stage {
	if !current.Valid() {
		current = Initial
	}
	if s, ok := Parse(proposed); ok {
		return s
	}
	return current
}

// Gap classifies the pause since the user's previous turn.
type Gap int

const (
	GapNone Gap = iota
	GapSoft     // worth a "time has passed" note, no reset
	GapHard     // forces Stage1 and clears running notes
)

// Classify buckets the elapsed time since lastSeen. A zero lastSeen
// (first ever turn) is GapNone.
func Classify(lastSeen, now time.Time, soft, hard time.Duration) Gap {
	if lastSeen.IsZero() || !now.After(lastSeen) {
		return GapNone
	}
	elapsed := now.Sub(lastSeen)
	if hard > 0 && elapsed >= hard {
		return GapHard
	}
	if soft > 0 && elapsed >= soft {
		return GapSoft
	}
	return GapNone
}
