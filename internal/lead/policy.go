// Package lead decides whether a chat exchange is a qualified lead. The
// decision combines the reply generator's own opinion with a per-strategy
// confidence threshold and a field sufficiency rule.
package lead

import (
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/portfolio-chat/internal/model"
)

// minProjectDetails is the rune count at which project details carry
// enough signal to stand in for a stronger contact channel.
const minProjectDetails = 20

// Policy is the tunable threshold table. Base holds the cutoff per strategy
// mode; Industries nudges it for portfolios whose About copy matches one of
// the Keywords lists.
type Policy struct {
	Base       map[model.StrategyMode]int `yaml:"base"`
	Industries map[string]int             `yaml:"industries"`
	Keywords   map[string][]string        `yaml:"keywords"`
}

// DefaultPolicy returns the built-in threshold table.
func DefaultPolicy() *Policy {
	return &Policy{
		Base: map[model.StrategyMode]int{
			model.StrategyPassive:      100,
			model.StrategyConsultative: 70,
			model.StrategySales:        60,
		},
		Industries: map[string]int{
			"trades":    -10,
			"creative":  -5,
			"coaching":  -5,
			"legal":     5,
			"finance":   5,
			"health":    5,
			"software":  0,
			"marketing": 0,
		},
		Keywords: map[string][]string{
			"trades":    {"plumb", "electrician", "contractor", "renovat", "roofing", "landscap", "handyman", "carpent"},
			"creative":  {"photograph", "illustrat", "designer", "artist", "videograph", "wedding", "musician"},
			"coaching":  {"coach", "mentor", "personal trainer", "fitness"},
			"legal":     {"attorney", "lawyer", "law firm", "paralegal", "notary"},
			"finance":   {"accountant", "bookkeep", "financial advisor", "tax ", "cpa"},
			"health":    {"therapist", "clinic", "dentist", "physio", "nutrition"},
			"software":  {"developer", "engineer", "software", "full-stack", "saas"},
			"marketing": {"marketing", "seo", "copywrit", "brand strateg", "social media"},
		},
	}
}

// LoadPolicy reads a YAML threshold table. Sections missing from the file
// keep their built-in values.
func LoadPolicy(r io.Reader) (*Policy, error) {
	p := DefaultPolicy()
	var file Policy
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "lead: decode policy")
	}
	for mode, v := range file.Base {
		p.Base[model.ParseStrategyMode(string(mode))] = v
	}
	if file.Industries != nil {
		p.Industries = file.Industries
	}
	if file.Keywords != nil {
		p.Keywords = file.Keywords
	}
	return p, nil
}

// IndustryHint derives an industry name from free-text About copy. It
// returns "" when nothing matches. Industries are tried in name order so the
// result is stable.
func (p *Policy) IndustryHint(about string) string {
	text := strings.ToLower(about)
	if text == "" {
		return ""
	}
	names := make([]string, 0, len(p.Keywords))
	for name := range p.Keywords {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, kw := range p.Keywords[name] {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				return name
			}
		}
	}
	return ""
}

// Threshold returns the confidence cutoff, clamped to 0..100.
func (p *Policy) Threshold(mode model.StrategyMode, industryHint string) int {
	base, ok := p.Base[mode]
	if !ok {
		base = DefaultPolicy().Base[mode]
	}
	t := base + p.Industries[industryHint]
	switch {
	case t < 0:
		return 0
	case t > 100:
		return 100
	}
	return t
}

// HasSufficientFields reports whether fields give the owner a way to follow
// up, under the mode's rule. Passive agents never surface leads.
func HasSufficientFields(mode model.StrategyMode, f model.LeadFields) bool {
	has := func(s string) bool { return strings.TrimSpace(s) != "" }
	detailed := utf8.RuneCountInString(strings.TrimSpace(f.ProjectDetails)) >= minProjectDetails

	switch mode {
	case model.StrategyPassive:
		return false
	case model.StrategySales:
		return (has(f.Email) || has(f.Phone) || has(f.Website)) && (detailed || has(f.Budget))
	default:
		return has(f.Email) || (detailed && (has(f.Phone) || has(f.Website)))
	}
}

// Decision is the outcome of Decide.
type Decision struct {
	Detected   bool
	Threshold  int
	Sufficient bool
	Fields     model.LeadFields
}

// Decide merges the candidate with channels parsed from the visitor message
// and applies the policy. A lead needs every one of: a non-passive mode, the
// model's own detection, confidence at or above the threshold, and
// sufficient fields.
func (p *Policy) Decide(mode model.StrategyMode, industryHint string, c model.LeadCandidate, ch Channels) Decision {
	fields := MergeFields(c.LeadData, ch)
	d := Decision{
		Threshold:  p.Threshold(mode, industryHint),
		Sufficient: HasSufficientFields(mode, fields),
		Fields:     fields,
	}
	d.Detected = mode != model.StrategyPassive &&
		c.LeadDetected &&
		c.Confidence >= d.Threshold &&
		d.Sufficient
	return d
}

// MergeFields combines model-extracted data with locally parsed channels.
// The model's email wins; the parsed one fills the gap.
func MergeFields(d model.LeadData, ch Channels) model.LeadFields {
	f := model.LeadFields{
		Name:           strings.TrimSpace(d.Name),
		Email:          strings.TrimSpace(d.Email),
		Phone:          ch.Phone,
		Website:        ch.Website,
		Budget:         strings.TrimSpace(d.Budget),
		ProjectDetails: strings.TrimSpace(d.ProjectDetails),
		MeetingTime:    strings.TrimSpace(d.MeetingTime),
	}
	if f.Email == "" {
		f.Email = ch.Email
	}
	return f
}
