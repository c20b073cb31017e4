package reply

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/portfolio-chat/internal/model"
)

const envelopeInstructions = `Respond with a single JSON object and nothing else:
{"reply": "<your message to the visitor>", "lead_detected": <true|false>, "confidence": <0-100>,
 "lead_data": {"name": "", "email": "", "budget": "", "project_details": "", "meeting_time": ""}}
Set lead_detected when the visitor shows genuine intent to hire or buy. Fill lead_data only with
details the visitor actually stated; leave unknown fields empty.`

var strategyInstructions = map[model.StrategyMode]string{
	model.StrategyPassive: "Answer questions helpfully. Do not ask for contact details or push toward a sale.",
	model.StrategyConsultative: "Understand the visitor's project before recommending next steps. " +
		"When there is a fit, invite them to share an email so the owner can follow up.",
	model.StrategySales: "Qualify the visitor quickly: learn the project scope and budget, then ask for " +
		"the best way to reach them (email, phone or website).",
}

// buildPersona returns the stable part of the system prompt for an agent.
func buildPersona(ac *model.AgentContext) string {
	var b strings.Builder

	name := ac.DisplayName
	if name == "" {
		name = "the assistant"
	}
	fmt.Fprintf(&b, "You are %s", name)
	if ac.Role != "" {
		fmt.Fprintf(&b, ", %s", ac.Role)
	}
	fmt.Fprintf(&b, ", chatting with visitors on behalf of %s.\n", ac.SourceName())

	if ac.Portfolio != nil {
		if ac.Portfolio.Title != "" {
			fmt.Fprintf(&b, "\nPortfolio: %s\n", ac.Portfolio.Title)
		}
		if ac.Portfolio.About != "" {
			fmt.Fprintf(&b, "About:\n%s\n", ac.Portfolio.About)
		}
	}
	if ac.Intro != "" {
		fmt.Fprintf(&b, "\nYour usual greeting: %s\n", ac.Intro)
	}
	if ac.BehaviorType != "" {
		fmt.Fprintf(&b, "\nTone: %s.\n", ac.BehaviorType)
	}

	b.WriteString("\n")
	b.WriteString(strategyInstructions[ac.StrategyMode])
	b.WriteString("\n")

	if ac.CustomPrompt != "" {
		fmt.Fprintf(&b, "\nOwner instructions:\n%s\n", ac.CustomPrompt)
	}

	b.WriteString("\n")
	b.WriteString(envelopeInstructions)
	return b.String()
}

// buildAvailability returns the per-request part of the system prompt.
func buildAvailability(ac *model.AgentContext, now time.Time) string {
	if ac.WorkingHours == nil && len(ac.OffDays) == 0 {
		return ""
	}
	if ac.AvailableAt(now) {
		return "The owner is currently within working hours and can respond soon."
	}
	msg := "The owner is currently outside working hours. Let the visitor know a reply may take a while"
	if ac.WorkingHours != nil {
		msg += fmt.Sprintf(" (hours: %s-%s", ac.WorkingHours.Start, ac.WorkingHours.End)
		if ac.WorkingHours.Timezone != "" {
			msg += " " + ac.WorkingHours.Timezone
		}
		msg += ")"
	}
	return msg + "."
}
