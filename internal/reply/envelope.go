package reply

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/portfolio-chat/internal/model"
	"github.com/sells-group/portfolio-chat/internal/resilience"
)

type envelope struct {
	Reply        string         `json:"reply"`
	LeadDetected bool           `json:"lead_detected"`
	Confidence   int            `json:"confidence"`
	LeadData     model.LeadData `json:"lead_data"`
}

// parseEnvelope decodes the model's JSON envelope. A missing object or an
// empty reply is malformed output.
func parseEnvelope(text string) (string, model.LeadCandidate, error) {
	raw := cleanJSON(text)
	if !strings.HasPrefix(raw, "{") {
		return "", model.LeadCandidate{}, eris.Wrap(resilience.ErrMalformedOutput, "reply: no json object")
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return "", model.LeadCandidate{}, eris.Wrapf(resilience.ErrMalformedOutput, "reply: decode envelope: %v", err)
	}
	env.Reply = strings.TrimSpace(env.Reply)
	if env.Reply == "" {
		return "", model.LeadCandidate{}, eris.Wrap(resilience.ErrMalformedOutput, "reply: empty reply")
	}

	lead := model.LeadCandidate{
		LeadDetected: env.LeadDetected,
		Confidence:   min(max(env.Confidence, 0), 100),
		LeadData:     trimLeadData(env.LeadData),
	}
	return env.Reply, lead, nil
}

func trimLeadData(d model.LeadData) model.LeadData {
	return model.LeadData{
		Name:           strings.TrimSpace(d.Name),
		Email:          strings.ToLower(strings.TrimSpace(d.Email)),
		Budget:         strings.TrimSpace(d.Budget),
		ProjectDetails: strings.TrimSpace(d.ProjectDetails),
		MeetingTime:    strings.TrimSpace(d.MeetingTime),
	}
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
