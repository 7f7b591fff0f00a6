package ttml

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"podbrief/internal/domain"

	"github.com/PuerkitoBio/goquery"
)

const DefaultSplitThreshold = 500

var ErrNoUtterances = errors.New("ttml: no utterances recovered")

var (
	reTrailingDigits = regexp.MustCompile(`(\d+)$`)
	reSentence       = regexp.MustCompile(`[.!?]*[^.!?]+(?:[.!?]+["')\]]*|$)|[.!?]+["')\]]*$`)
	reTag            = regexp.MustCompile(`<[^>]*>`)
)

// Block is a run of consecutive utterances by one speaker.
type Block struct {
	Start   float64
	End     float64
	Speaker int
	Text    string
}

type Result struct {
	Utterances   []domain.Utterance
	Blocks       []Block
	FullText     string
	Duration     float64
	SpeakerCount int
}

type Parser struct {
	splitThreshold int
}

func New(splitThreshold int) *Parser {
	if splitThreshold <= 0 {
		splitThreshold = DefaultSplitThreshold
	}
	return &Parser{splitThreshold: splitThreshold}
}

// Parse reconstructs speaker-attributed utterances from timed markup. The
// markup goes through an HTML tokenizer, so unbalanced or otherwise broken
// documents still yield whatever paragraphs can be recovered.
func (p *Parser) Parse(markup string) (Result, error) {
	if strings.TrimSpace(markup) == "" {
		return Result{}, ErrNoUtterances
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Result{}, ErrNoUtterances
	}

	paragraphs := doc.Find("p")
	var agents []string
	paragraphs.Each(func(_ int, sel *goquery.Selection) {
		agents = append(agents, agentOf(sel))
	})
	speakers := newSpeakerMap(agents)

	var utterances []domain.Utterance
	paragraphs.Each(func(_ int, sel *goquery.Selection) {
		text := paragraphText(sel)
		if text == "" {
			return
		}
		begin, _ := sel.Attr("begin")
		end, _ := sel.Attr("end")
		start := ParseTimestamp(begin)
		stop := ParseTimestamp(end)
		if stop < start {
			stop = start
		}
		u := domain.Utterance{
			Start:      start,
			End:        stop,
			Speaker:    speakers.id(agentOf(sel)),
			Text:       text,
			Confidence: 1.0,
		}
		if utf8.RuneCountInString(text) > p.splitThreshold {
			utterances = append(utterances, splitUtterance(u)...)
			return
		}
		utterances = append(utterances, u)
	})

	if len(utterances) == 0 {
		return Result{}, ErrNoUtterances
	}
	return assemble(utterances), nil
}

// StripTags is the fallback when no paragraphs could be recovered.
func StripTags(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return collapse(reTag.ReplaceAllString(markup, " "))
	}
	return collapse(doc.Text())
}

// ParseTimestamp accepts HH:MM:SS.mmm, MM:SS.mmm and bare seconds (with an
// optional trailing "s"). Unparseable values yield 0.
func ParseTimestamp(raw string) float64 {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "s")
	if raw == "" {
		return 0
	}
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0
	}
	var total float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || v < 0 {
			return 0
		}
		total = total*60 + v
	}
	return total
}

func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}

func paragraphText(p *goquery.Selection) string {
	var words []string
	p.Find("span").Each(func(_ int, span *goquery.Selection) {
		if unit, _ := span.Attr("podcasts:unit"); strings.EqualFold(unit, "word") {
			if w := collapse(span.Text()); w != "" {
				words = append(words, w)
			}
		}
	})
	if len(words) > 0 {
		return strings.Join(words, " ")
	}

	var spans []string
	p.ChildrenFiltered("span").Each(func(_ int, span *goquery.Selection) {
		if s := collapse(span.Text()); s != "" {
			spans = append(spans, s)
		}
	})
	if len(spans) > 0 {
		return strings.Join(spans, " ")
	}

	return collapse(p.Text())
}

func agentOf(sel *goquery.Selection) string {
	for _, attr := range []string{"ttm:agent", "agent"} {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// speakerMap numbers agents. Agents ending in digits keep that number; named
// agents take the lowest ids no numeric agent in the document claims.
type speakerMap struct {
	named map[string]int
	taken map[int]bool
	next  int
}

func newSpeakerMap(agents []string) *speakerMap {
	m := &speakerMap{named: make(map[string]int), taken: make(map[int]bool), next: 1}
	for _, agent := range agents {
		if n, ok := numericAgent(agent); ok {
			m.taken[n] = true
		}
	}
	return m
}

func numericAgent(agent string) (int, bool) {
	match := reTrailingDigits.FindStringSubmatch(agent)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	return n, err == nil
}

func (m *speakerMap) id(agent string) int {
	if agent == "" {
		return 0
	}
	if n, ok := numericAgent(agent); ok {
		return n
	}
	if id, ok := m.named[agent]; ok {
		return id
	}
	for m.taken[m.next] {
		m.next++
	}
	id := m.next
	m.named[agent] = id
	m.taken[id] = true
	m.next++
	return id
}

// splitUtterance cuts u on sentence boundaries and spreads its time span
// over the fragments in proportion to their character offsets.
func splitUtterance(u domain.Utterance) []domain.Utterance {
	locs := reSentence.FindAllStringIndex(u.Text, -1)
	if len(locs) < 2 {
		return []domain.Utterance{u}
	}

	totalChars := float64(utf8.RuneCountInString(u.Text))
	span := u.End - u.Start
	out := make([]domain.Utterance, 0, len(locs))
	for _, loc := range locs {
		fragment := strings.TrimSpace(u.Text[loc[0]:loc[1]])
		if fragment == "" {
			continue
		}
		startOffset := float64(utf8.RuneCountInString(u.Text[:loc[0]]))
		endOffset := float64(utf8.RuneCountInString(u.Text[:loc[1]]))
		out = append(out, domain.Utterance{
			Start:      u.Start + (startOffset/totalChars)*span,
			End:        u.Start + (endOffset/totalChars)*span,
			Speaker:    u.Speaker,
			Text:       fragment,
			Confidence: 1.0,
		})
	}
	if len(out) == 0 {
		return []domain.Utterance{u}
	}
	return out
}

func assemble(utterances []domain.Utterance) Result {
	res := Result{Utterances: utterances}
	seen := make(map[int]struct{})
	for _, u := range utterances {
		seen[u.Speaker] = struct{}{}
		if u.End > res.Duration {
			res.Duration = u.End
		}
		if n := len(res.Blocks); n > 0 && res.Blocks[n-1].Speaker == u.Speaker {
			res.Blocks[n-1].Text += " " + u.Text
			res.Blocks[n-1].End = u.End
			continue
		}
		res.Blocks = append(res.Blocks, Block{Start: u.Start, End: u.End, Speaker: u.Speaker, Text: u.Text})
	}
	res.SpeakerCount = len(seen)

	lines := make([]string, 0, len(res.Blocks))
	for _, b := range res.Blocks {
		lines = append(lines, fmt.Sprintf("[%s] Speaker %d: %s", FormatTimestamp(b.Start), b.Speaker, b.Text))
	}
	res.FullText = strings.Join(lines, "\n\n")
	return res
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
