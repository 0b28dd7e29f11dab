package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/kdf-labs/empathicbot/pkg/memory"
	"github.com/kdf-labs/empathicbot/pkg/profile"
	"github.com/kdf-labs/empathicbot/pkg/session"
	"github.com/kdf-labs/empathicbot/pkg/stage"
)

// ContextBuilder composes the system instructions and user prompt for
// one generation call. It formats state verbatim; distilling the running
// notes is the model's own job on the next turn.
type ContextBuilder struct {
	// NotesMaxChars is the running-notes clamp communicated to the
	// model and enforced after parsing.
	NotesMaxChars int
}

const defaultNotesMaxChars = 200

// Build renders the two prompt halves for the current turn.
func (b *ContextBuilder) Build(p *profile.UserProfile, memories []memory.Retrieved, history *session.History, gap stage.Gap, message string, now time.Time) (string, string) {
	notesMax := b.NotesMaxChars
	if notesMax <= 0 {
		notesMax = defaultNotesMaxChars
	}

	current := stage.Stage(p.CurrentStage)
	if !current.Valid() {
		current = stage.Initial
	}

	var sys strings.Builder
	sys.WriteString("You are EmpathicBot, a warm, supportive mental-health companion. You are not a therapist and you never diagnose.\n\n")
	sys.WriteString("Instruction precedence, highest first. When instructions conflict, the higher level always wins:\n")
	sys.WriteString("1. Safety: if the user expresses intent to harm themselves or others, drop everything else, respond with care, and encourage them to contact a crisis line or emergency services immediately.\n")
	sys.WriteString("2. Core principles: listen actively, validate feelings, never dismiss or moralize, keep a gentle and non-clinical tone.\n")
	sys.WriteString("3. The user's standing instructions listed below.\n")
	sys.WriteString("4. General style: concise, plain language, one question at a time.\n\n")

	sys.WriteString(current.Describe())
	sys.WriteString(" Propose a stage change only when the trigger clearly applies; otherwise keep the current stage.\n\n")

	sys.WriteString("Standing instructions from this user:\n")
	if len(p.Instructions) == 0 {
		sys.WriteString("none on file\n")
	} else {
		for i, instr := range p.Instructions {
			fmt.Fprintf(&sys, "%d. %s\n", i+1, instr)
		}
	}
	sys.WriteString("\n")

	sys.WriteString("Your running notes from previous turns (keep, revise, or extend them):\n")
	if strings.TrimSpace(p.RunningNotes) == "" {
		sys.WriteString("(no notes yet)\n")
	} else {
		sys.WriteString(p.RunningNotes)
		sys.WriteString("\n")
	}
	fmt.Fprintf(&sys, "Notes are your own working memory, carried forward verbatim each turn. Keep them under %d characters.\n\n", notesMax)

	sys.WriteString("Respond with a single JSON object and nothing else, using exactly these three keys:\n")
	sys.WriteString(`{"reply_text": "your reply to the user", "new_stage": "Stage1".."Stage5", "context": "your updated running notes"}`)
	sys.WriteString("\n")

	var usr strings.Builder
	switch gap {
	case stage.GapHard:
		usr.WriteString("A long time has passed since the previous conversation; this is effectively a fresh session.\n\n")
	case stage.GapSoft:
		if p.LastSeenMS > 0 {
			fmt.Fprintf(&usr, "Time has passed since the user's previous message (%s).\n\n", relativeTime(now.Sub(time.UnixMilli(p.LastSeenMS))))
		} else {
			usr.WriteString("Time has passed since the user's previous message.\n\n")
		}
	}

	usr.WriteString("Recent conversation:\n")
	if history.Empty() {
		usr.WriteString("session just started\n")
	} else {
		for _, turn := range history.Turns() {
			fmt.Fprintf(&usr, "User: %s\n", turn.UserText)
			fmt.Fprintf(&usr, "You: %s\n", turn.AssistantText)
		}
	}
	usr.WriteString("\n")

	if len(memories) > 0 {
		usr.WriteString("Things you remember about this user from earlier sessions:\n")
		for _, m := range memories {
			age := relativeTime(now.Sub(m.Record.CreatedAt()))
			if topic := m.Record.Metadata[memory.MetaTopic]; topic != "" {
				fmt.Fprintf(&usr, "- %s (%s, %s)\n", m.Record.Summary, topic, age)
			} else {
				fmt.Fprintf(&usr, "- %s (%s)\n", m.Record.Summary, age)
			}
		}
		usr.WriteString("\n")
	}

	fmt.Fprintf(&usr, "The user says: %s", message)

	return sys.String(), usr.String()
}

// relativeTime renders a duration the way a person would say it.
func relativeTime(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < 2*time.Minute:
		return "1 minute ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}
