package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amrrdev/quizscan/internal/types"
)

func TestParse_TwoQuestionsWithMarker(t *testing.T) {
	records := Parse("1. Q?\nA. x\nB. y (CORRECT)\n2. Q2?\nA. z", 4)

	require.Len(t, records, 2)

	assert.Equal(t, "Q?", records[0].QuestionText)
	assert.Equal(t, []string{"x", "y"}, records[0].Options)
	assert.Equal(t, 1, records[0].CorrectOptionIndex)
	assert.Equal(t, 4, records[0].SourcePage)
	assert.Equal(t, 1, records[0].SourceOrdinal)

	assert.Equal(t, "Q2?", records[1].QuestionText)
	assert.Equal(t, []string{"z"}, records[1].Options)
	assert.Equal(t, types.NoCorrectOption, records[1].CorrectOptionIndex)
	assert.False(t, records[1].HasCorrectOption())
	assert.Equal(t, 2, records[1].SourceOrdinal)
}

func TestParse_VeryLongLineKeepsRestOfPage(t *testing.T) {
	long := "1. " + strings.Repeat("word ", 300_000) + "?"
	raw := long + "\r\nA. x\r\n2. Second?\r\nA. y (CORRECT)\r\n"

	records := Parse(raw, 1)

	require.Len(t, records, 2)
	assert.Equal(t, []string{"x"}, records[0].Options)
	assert.Equal(t, "Second?", records[1].QuestionText)
	assert.Equal(t, 0, records[1].CorrectOptionIndex)
}

func TestParse_HeaderWithoutOptions(t *testing.T) {
	records := Parse("7. Explain photosynthesis.", 1)

	require.Len(t, records, 1)
	assert.NotNil(t, records[0].Options)
	assert.Empty(t, records[0].Options)
	assert.Equal(t, types.NoCorrectOption, records[0].CorrectOptionIndex)
}

func TestParse_FirstMarkerWins(t *testing.T) {
	raw := `1. Pick one
A. alpha
B. beta ✓
C. gamma (CORRECT)`

	records := Parse(raw, 1)

	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].CorrectOptionIndex)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, records[0].Options)
}

func TestParse_MarkerVariants(t *testing.T) {
	tests := []struct {
		name     string
		option   string
		wantText string
	}{
		{name: "parenthesized token", option: "B. Paris (CORRECT)", wantText: "Paris"},
		{name: "lower case token", option: "B. Paris (correct)", wantText: "Paris"},
		{name: "bracketed answer", option: "B. Paris [Correct Answer]", wantText: "Paris"},
		{name: "check mark", option: "B. ✔ Paris", wantText: "Paris"},
		{name: "heavy check", option: "B. Paris ✅", wantText: "Paris"},
		{name: "marker mid text", option: "B. Paris (CORRECT) city", wantText: "Paris city"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := Parse("1. Capital of France?\nA. Rome\n"+tt.option, 1)

			require.Len(t, records, 1)
			assert.Equal(t, 1, records[0].CorrectOptionIndex)
			assert.Equal(t, tt.wantText, records[0].Options[1])
		})
	}
}

func TestParse_IgnoresNoise(t *testing.T) {
	raw := `
   Midterm Exam - Biology
A. stray option before any question

   1.   What is DNA?
   (select one)
   A. A protein
   page footer
   B. A nucleic acid (CORRECT)
`
	records := Parse(raw, 2)

	require.Len(t, records, 1)
	assert.Equal(t, "What is DNA?", records[0].QuestionText)
	assert.Equal(t, []string{"A protein", "A nucleic acid"}, records[0].Options)
	assert.Equal(t, 1, records[0].CorrectOptionIndex)
}

func TestParse_EmptyInput(t *testing.T) {
	assert.Empty(t, Parse("", 1))
	assert.Empty(t, Parse("no questions on this page\n\n", 1))
}

func TestParse_LowercaseOptionIgnored(t *testing.T) {
	records := Parse("1. Q\na. lower\nB. upper", 1)

	require.Len(t, records, 1)
	assert.Equal(t, []string{"upper"}, records[0].Options)
}

func TestQuestionParser_Reusable(t *testing.T) {
	p := NewQuestionParser()

	first := p.Parse("1. One\nA. a", 1)
	second := p.Parse("1. Two\nA. b (CORRECT)", 2)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, "One", first[0].QuestionText)
	assert.Equal(t, types.NoCorrectOption, first[0].CorrectOptionIndex)
	assert.Equal(t, 2, second[0].SourcePage)
	assert.Equal(t, 0, second[0].CorrectOptionIndex)
}
