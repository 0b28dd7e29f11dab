package agent

import (
	"encoding/json"
	"strings"
)

// TurnOutput is the structured result the model is asked to return.
type TurnOutput struct {
	ReplyText string `json:"reply_text"`
	NewStage  string `json:"new_stage"`
	Context   string `json:"context"`
}

// ParseTurnOutput extracts the first well-formed JSON object from raw
// model output, tolerating prose or code fences around it. The second
// return is false when no usable object was found; callers then treat
// the raw text itself as the reply.
func ParseTurnOutput(raw string) (TurnOutput, bool) {
	search := raw
	for {
		start := strings.Index(search, "{")
		if start < 0 {
			return TurnOutput{}, false
		}

		dec := json.NewDecoder(strings.NewReader(search[start:]))
		var out TurnOutput
		if err := dec.Decode(&out); err == nil && strings.TrimSpace(out.ReplyText) != "" {
			return out, true
		}
		search = search[start+1:]
	}
}
