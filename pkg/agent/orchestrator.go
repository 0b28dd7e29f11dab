package agent

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/kdf-labs/empathicbot/pkg/analyzer"
	"github.com/kdf-labs/empathicbot/pkg/logger"
	"github.com/kdf-labs/empathicbot/pkg/memory"
	"github.com/kdf-labs/empathicbot/pkg/observability"
	"github.com/kdf-labs/empathicbot/pkg/profile"
	"github.com/kdf-labs/empathicbot/pkg/providers"
	"github.com/kdf-labs/empathicbot/pkg/session"
	"github.com/kdf-labs/empathicbot/pkg/stage"
)

const (
	// ConsentPrompt is appended to the reply while the user has never
	// answered the memory question.
	ConsentPrompt = "I can remember helpful things between sessions to better support you. Would you like me to remember parts of this conversation for next time? (yes/no)"

	// ApologyReply is used when generation fails outright.
	ApologyReply = "I'm sorry, I'm having trouble responding right now. Could you tell me that again in a moment?"

	// summarizeEvery triggers a session-summary memory after this many
	// exchanges in one session.
	summarizeEvery = 8
)

// OrchestratorConfig tunes turn handling. Zero values fall back to
// defaults.
type OrchestratorConfig struct {
	SoftGap       time.Duration // default 15m
	HardGap       time.Duration // default 24h
	NotesMaxChars int           // default 200
}

// Orchestrator ties one inbound message through the whole pipeline:
// profile load, context assembly, generation, structured-output parsing,
// significance analysis, memory and profile persistence.
type Orchestrator struct {
	profiles *profile.SQLiteStore
	memories *memory.Service
	analyze  *analyzer.Analyzer
	gen      providers.Generator
	builder  *ContextBuilder
	metrics  *observability.Metrics
	cfg      OrchestratorConfig

	now func() time.Time
}

func NewOrchestrator(profiles *profile.SQLiteStore, memories *memory.Service, an *analyzer.Analyzer, gen providers.Generator, metrics *observability.Metrics, cfg OrchestratorConfig) *Orchestrator {
	if cfg.SoftGap <= 0 {
		cfg.SoftGap = 15 * time.Minute
	}
	if cfg.HardGap <= 0 {
		cfg.HardGap = 24 * time.Hour
	}
	if cfg.NotesMaxChars <= 0 {
		cfg.NotesMaxChars = defaultNotesMaxChars
	}
	return &Orchestrator{
		profiles: profiles,
		memories: memories,
		analyze:  an,
		gen:      gen,
		builder:  &ContextBuilder{NotesMaxChars: cfg.NotesMaxChars},
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// TurnRequest is one inbound user message with its round-tripped session
// state.
type TurnRequest struct {
	UserID    string
	SessionID string
	Message   string
	Params    map[string]string
}

// TurnResponse carries the reply plus the session state to echo back.
type TurnResponse struct {
	Reply  string
	Stage  stage.Stage
	Params map[string]string
}

// HandleTurn processes one exchange. It never returns an error to the
// transport: every failure path degrades to a usable reply, and profile
// persistence is always attempted.
func (o *Orchestrator) HandleTurn(ctx context.Context, req TurnRequest) TurnResponse {
	started := o.now()
	userID := profile.SanitizeUserID(req.UserID)
	message := strings.TrimSpace(req.Message)

	p, err := o.profiles.GetOrCreate(ctx, userID)
	if err != nil {
		logger.ErrorCF("agent", "profile load failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		o.countTurn("profile_error")
		return TurnResponse{Reply: ApologyReply, Stage: stage.Initial, Params: req.Params}
	}

	history := session.FromParams(req.Params)
	now := o.now()

	var lastSeen time.Time
	if p.LastSeenMS > 0 {
		lastSeen = time.UnixMilli(p.LastSeenMS)
	}
	gap := stage.Classify(lastSeen, now, o.cfg.SoftGap, o.cfg.HardGap)
	if gap == stage.GapHard {
		// Hard reset wins over whatever the model proposed last time.
		p.CurrentStage = int(stage.Initial)
		p.RunningNotes = ""
		history = &session.History{}
		logger.InfoCF("agent", "hard gap reset", map[string]interface{}{
			"user_id": userID,
		})
	}

	var retrieved []memory.Retrieved
	if p.HasConsent() && message != "" {
		retrieved = o.memories.Retrieve(ctx, userID, message)
		if o.metrics != nil {
			o.metrics.MemoryRetrievals.Observe(float64(len(retrieved)))
		}
	}

	system, userPrompt := o.builder.Build(p, retrieved, history, gap, message, now)

	raw, genErr := o.gen.Generate(ctx, providers.GenerateRequest{
		System:   system,
		Messages: []providers.Message{{Role: "user", Content: userPrompt}},
	})

	currentStage := stage.Stage(p.CurrentStage)
	if !currentStage.Valid() {
		currentStage = stage.Initial
	}

	var reply string
	switch {
	case genErr != nil:
		logger.ErrorCF("agent", "generation failed", map[string]interface{}{
			"user_id": userID,
			"error":   genErr.Error(),
		})
		if o.metrics != nil {
			o.metrics.ProviderErrors.WithLabelValues("generate").Inc()
		}
		reply = ApologyReply
		o.countTurn("generation_error")

	default:
		out, ok := ParseTurnOutput(raw)
		if !ok {
			// Raw text becomes the reply; stage and notes stay frozen
			// and the turn is not appended to history, so malformed
			// state never feeds the next prompt.
			if o.metrics != nil {
				o.metrics.ParseFailures.Inc()
			}
			logger.WarnCF("agent", "no JSON object in model output", map[string]interface{}{
				"user_id": userID,
			})
			reply = strings.TrimSpace(raw)
			if reply == "" {
				reply = ApologyReply
			}
			o.countTurn("parse_failure")
			break
		}

		reply = strings.TrimSpace(out.ReplyText)
		applied := stage.Apply(currentStage, out.NewStage)
		if applied != currentStage && o.metrics != nil {
			o.metrics.StageTransitions.WithLabelValues(currentStage.String(), applied.String()).Inc()
		}
		p.CurrentStage = int(applied)
		p.RunningNotes = clampNotes(out.Context, o.cfg.NotesMaxChars)
		history.Append(message, reply, applied.String(), now)
		o.countTurn("ok")

		if p.HasConsent() {
			o.learnFromExchange(ctx, p, req, message, reply, applied, history)
		}
	}

	if p.ConsentUnset() {
		reply = reply + "\n\n" + ConsentPrompt
	}

	p.LastSeenMS = now.UnixMilli()
	p.SessionParams = history.ToParams(p.SessionParams)
	if err := o.profiles.Save(ctx, p); err != nil {
		logger.ErrorCF("agent", "profile persistence failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
	}

	if o.metrics != nil {
		o.metrics.ObserveTurnLatency(o.now().Sub(started))
	}

	return TurnResponse{
		Reply:  reply,
		Stage:  stage.Stage(p.CurrentStage),
		Params: history.ToParams(req.Params),
	}
}

// learnFromExchange runs the after-reply consent-gated steps:
// significance analysis, instruction capture, memory writes, and the
// periodic session summary.
func (o *Orchestrator) learnFromExchange(ctx context.Context, p *profile.UserProfile, req TurnRequest, message, reply string, applied stage.Stage, history *session.History) {
	verdict := o.analyze.Analyze(ctx, message, reply)

	if verdict.Instruction != "" {
		if p.AddInstruction(verdict.Instruction, o.profiles.MaxInstructions()) {
			logger.InfoCF("agent", "standing instruction learned", map[string]interface{}{
				"user_id": p.UserID,
			})
		}
	}

	if verdict.Significant {
		meta := map[string]string{
			memory.MetaSessionID: req.SessionID,
			memory.MetaStage:     applied.String(),
			memory.MetaTurn:      strconv.Itoa(history.TurnCount()),
		}
		if _, err := o.memories.Save(ctx, p.UserID, verdict.Summary, meta); err != nil {
			logger.WarnCF("agent", "memory write failed", map[string]interface{}{
				"user_id": p.UserID,
				"error":   err.Error(),
			})
		} else if o.metrics != nil {
			o.metrics.MemoryWrites.Inc()
		}
	}

	if history.TurnCount() > 0 && history.TurnCount()%summarizeEvery == 0 {
		o.saveSessionSummary(ctx, p, req.SessionID, applied, history)
	}
}

const sessionSummaryPrompt = `Summarize the following conversation in two or three third-person sentences, keeping only what would help a future session: the user's situation, concerns, and any progress made. Respond with the summary only.`

func (o *Orchestrator) saveSessionSummary(ctx context.Context, p *profile.UserProfile, sessionID string, applied stage.Stage, history *session.History) {
	var transcript strings.Builder
	for _, turn := range history.Turns() {
		transcript.WriteString("User: ")
		transcript.WriteString(turn.UserText)
		transcript.WriteString("\nAssistant: ")
		transcript.WriteString(turn.AssistantText)
		transcript.WriteString("\n")
	}

	summary, err := o.gen.Generate(ctx, providers.GenerateRequest{
		System:   sessionSummaryPrompt,
		Messages: []providers.Message{{Role: "user", Content: transcript.String()}},
	})
	if err != nil || strings.TrimSpace(summary) == "" {
		logger.WarnCF("agent", "session summary skipped", map[string]interface{}{
			"user_id": p.UserID,
		})
		return
	}

	meta := map[string]string{
		memory.MetaTopic:     memory.TopicSessionSummary,
		memory.MetaSessionID: sessionID,
		memory.MetaStage:     applied.String(),
		memory.MetaTurn:      strconv.Itoa(history.TurnCount()),
	}
	if _, err := o.memories.Save(ctx, p.UserID, strings.TrimSpace(summary), meta); err != nil {
		logger.WarnCF("agent", "session summary write failed", map[string]interface{}{
			"user_id": p.UserID,
			"error":   err.Error(),
		})
	} else if o.metrics != nil {
		o.metrics.MemoryWrites.Inc()
	}
}

func (o *Orchestrator) countTurn(outcome string) {
	if o.metrics != nil {
		o.metrics.Turns.WithLabelValues(outcome).Inc()
	}
}

func clampNotes(notes string, max int) string {
	notes = strings.TrimSpace(notes)
	if max <= 0 {
		return notes
	}
	runes := []rune(notes)
	if len(runes) <= max {
		return notes
	}
	return strings.TrimSpace(string(runes[:max]))
}
