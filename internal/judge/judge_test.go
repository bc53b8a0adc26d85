package judge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdictValid(t *testing.T) {
	body := `{"agree":{"score":80,"good":["clear structure"],"bad":["weak close"]},"disagree":{"score":70,"good":["good rebuttal"],"bad":[]},"winnerSide":"agree"}`

	v, err := parseVerdict(body)
	require.NoError(t, err)
	assert.Equal(t, 80, v.Agree.Score)
	assert.Equal(t, 70, v.Disagree.Score)
	assert.Equal(t, "agree", v.WinnerSide)
}

func TestParseVerdictStripsCodeFence(t *testing.T) {
	body := "```\n{\"agree\":{\"score\":10,\"good\":[],\"bad\":[]},\"disagree\":{\"score\":90,\"good\":[],\"bad\":[]},\"winnerSide\":\"disagree\"}\n```"

	v, err := parseVerdict(body)
	require.NoError(t, err)
	assert.Equal(t, "disagree", v.WinnerSide)
}

func TestParseVerdictRejectsMalformedJSON(t *testing.T) {
	_, err := parseVerdict("not json")
	assert.ErrorIs(t, err, ErrJudgeFailed)
}

func TestParseVerdictRejectsInvalidWinnerSide(t *testing.T) {
	body := `{"agree":{"score":50,"good":[],"bad":[]},"disagree":{"score":50,"good":[],"bad":[]},"winnerSide":"nobody"}`
	_, err := parseVerdict(body)
	assert.ErrorIs(t, err, ErrJudgeFailed)
}

func TestFormatTranscript(t *testing.T) {
	turns := []Turn{{Speaker: "agree", Text: "A1"}, {Speaker: "disagree", Text: "D1"}}
	out := formatTranscript(turns)
	assert.Contains(t, out, "[agree] A1")
	assert.Contains(t, out, "[disagree] D1")
}
