package memory

import "time"

// Record is one durable long-term memory: a short plaintext summary of
// something worth carrying across sessions, scoped to a single user.
type Record struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Summary     string            `json:"summary"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAtMS int64             `json:"created_at_ms"`
}

func (r Record) CreatedAt() time.Time {
	return time.UnixMilli(r.CreatedAtMS)
}

// Retrieved pairs a record with its cosine similarity to the query.
type Retrieved struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
}

// Common metadata keys written by the orchestrator.
const (
	MetaTopic     = "topic"
	MetaSessionID = "session_id"
	MetaStage     = "stage"
	MetaTurn      = "turn"

	TopicSessionSummary = "session_summary"
)
