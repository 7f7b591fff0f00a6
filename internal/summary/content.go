package summary

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidContent = errors.New("summary: generated content failed validation")

type QuickContent struct {
	HookHeadline   string   `json:"hook_headline"`
	ExecutiveBrief string   `json:"executive_brief"`
	GoldenNugget   string   `json:"golden_nugget"`
	PerfectFor     string   `json:"perfect_for"`
	Tags           []string `json:"tags"`
}

func (c *QuickContent) normalize() error {
	c.HookHeadline = strings.TrimSpace(c.HookHeadline)
	c.ExecutiveBrief = strings.TrimSpace(c.ExecutiveBrief)
	c.GoldenNugget = strings.TrimSpace(c.GoldenNugget)
	c.PerfectFor = strings.TrimSpace(c.PerfectFor)

	// A nil slice means the key was absent or null; [] is a valid answer.
	var missing []string
	if c.Tags == nil {
		missing = append(missing, "tags")
	}
	c.Tags = compact(c.Tags)
	if c.HookHeadline == "" {
		missing = append(missing, "hook_headline")
	}
	if c.ExecutiveBrief == "" {
		missing = append(missing, "executive_brief")
	}
	if c.GoldenNugget == "" {
		missing = append(missing, "golden_nugget")
	}
	if c.PerfectFor == "" {
		missing = append(missing, "perfect_for")
	}
	return missingFields(missing)
}

type CoreConcept struct {
	Concept        string `json:"concept"`
	Explanation    string `json:"explanation"`
	QuoteReference string `json:"quote_reference,omitempty"`
}

type ChronologicalSection struct {
	TimestampDescription string `json:"timestamp_description"`
	Content              string `json:"content"`
}

// Takeaway decodes either a bare string or an object with a text field.
type Takeaway string

func (t *Takeaway) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Takeaway(s)
		return nil
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("takeaway must be a string or {\"text\": ...}: %w", err)
	}
	*t = Takeaway(obj.Text)
	return nil
}

type DeepContent struct {
	ComprehensiveOverview  string                 `json:"comprehensive_overview"`
	CoreConcepts           []CoreConcept          `json:"core_concepts"`
	ChronologicalBreakdown []ChronologicalSection `json:"chronological_breakdown"`
	ContrarianViews        []string               `json:"contrarian_views"`
	ActionableTakeaways    []Takeaway             `json:"actionable_takeaways"`
}

func (c *DeepContent) normalize() error {
	c.ComprehensiveOverview = strings.TrimSpace(c.ComprehensiveOverview)

	concepts := c.CoreConcepts[:0]
	for _, cc := range c.CoreConcepts {
		cc.Concept = strings.TrimSpace(cc.Concept)
		cc.Explanation = strings.TrimSpace(cc.Explanation)
		cc.QuoteReference = strings.TrimSpace(cc.QuoteReference)
		if cc.Concept != "" && cc.Explanation != "" {
			concepts = append(concepts, cc)
		}
	}
	c.CoreConcepts = concepts

	sections := c.ChronologicalBreakdown[:0]
	for _, s := range c.ChronologicalBreakdown {
		s.TimestampDescription = strings.TrimSpace(s.TimestampDescription)
		s.Content = strings.TrimSpace(s.Content)
		if s.Content != "" {
			sections = append(sections, s)
		}
	}
	c.ChronologicalBreakdown = sections

	contrarianAbsent := c.ContrarianViews == nil
	c.ContrarianViews = compact(c.ContrarianViews)

	takeaways := c.ActionableTakeaways[:0]
	for _, t := range c.ActionableTakeaways {
		if s := strings.TrimSpace(string(t)); s != "" {
			takeaways = append(takeaways, Takeaway(s))
		}
	}
	c.ActionableTakeaways = takeaways

	var missing []string
	if c.ComprehensiveOverview == "" {
		missing = append(missing, "comprehensive_overview")
	}
	if len(c.CoreConcepts) == 0 {
		missing = append(missing, "core_concepts")
	}
	if len(c.ChronologicalBreakdown) == 0 {
		missing = append(missing, "chronological_breakdown")
	}
	if contrarianAbsent {
		missing = append(missing, "contrarian_views")
	}
	if len(c.ActionableTakeaways) == 0 {
		missing = append(missing, "actionable_takeaways")
	}
	return missingFields(missing)
}

func missingFields(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: missing %s", ErrInvalidContent, strings.Join(missing, ", "))
}

// compact trims every entry, drops blanks and never returns nil, so the
// stored document always carries an array.
func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
