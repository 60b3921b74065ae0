package parser

import (
	"regexp"
	"strings"

	"github.com/amrrdev/quizscan/internal/types"
)

var (
	headerLine = regexp.MustCompile(`^(\d+)\.\s+(.+)$`)
	optionLine = regexp.MustCompile(`^([A-Z])\.\s+(.+)$`)

	// Matches "(CORRECT)", "[correct answer]" and the usual check glyphs.
	correctMarker = regexp.MustCompile(`(?i)[(\[]\s*correct(?:\s+answer)?\s*[)\]]|[✓✔☑✅]`)
	spaces        = regexp.MustCompile(`\s{2,}`)
)

type state int

const (
	stateIdle state = iota
	stateInQuestion
)

// QuestionParser turns recognized page text into question records.
// It never fails: lines it does not understand are skipped.
type QuestionParser struct {
	state   state
	current *types.QuestionRecord
	out     []types.QuestionRecord
	page    int
}

func NewQuestionParser() *QuestionParser {
	return &QuestionParser{}
}

// Parse runs the state machine over raw and returns the records in header order.
func (p *QuestionParser) Parse(raw string, page int) []types.QuestionRecord {
	p.reset(page)

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		p.feed(line)
	}
	p.flush()

	out := p.out
	p.out = nil
	return out
}

func (p *QuestionParser) reset(page int) {
	p.state = stateIdle
	p.current = nil
	p.out = make([]types.QuestionRecord, 0)
	p.page = page
}

func (p *QuestionParser) feed(line string) {
	if m := headerLine.FindStringSubmatch(line); m != nil {
		p.flush()
		p.current = &types.QuestionRecord{
			QuestionText:       strings.TrimSpace(m[2]),
			Options:            []string{},
			CorrectOptionIndex: types.NoCorrectOption,
			SourcePage:         p.page,
		}
		p.state = stateInQuestion
		return
	}

	if p.state != stateInQuestion {
		return
	}

	if m := optionLine.FindStringSubmatch(line); m != nil {
		text, marked := stripMarker(m[2])
		p.current.Options = append(p.current.Options, text)
		if marked && p.current.CorrectOptionIndex == types.NoCorrectOption {
			p.current.CorrectOptionIndex = len(p.current.Options) - 1
		}
	}
}

func (p *QuestionParser) flush() {
	if p.current == nil {
		return
	}
	p.current.SourceOrdinal = len(p.out) + 1
	p.out = append(p.out, *p.current)
	p.current = nil
}

func stripMarker(text string) (string, bool) {
	if !correctMarker.MatchString(text) {
		return text, false
	}
	cleaned := correctMarker.ReplaceAllString(text, " ")
	cleaned = spaces.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned), true
}

// Parse is a convenience wrapper around a fresh QuestionParser.
func Parse(raw string, page int) []types.QuestionRecord {
	return NewQuestionParser().Parse(raw, page)
}
