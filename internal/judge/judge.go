// Package judge implements the two-shot external evaluator call made once
// at the end of a match: a structured scoring pass, then a prose narration
// pass describing the same verdict in human terms for the transcript.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	langchainllms "github.com/tmc/langchaingo/llms"
	langchainopenai "github.com/tmc/langchaingo/llms/openai"

	"github.com/neo/debatematch_backend/internal/logging"
)

// ErrJudgeFailed covers malformed output, network error, or an empty
// response from either pass. Callers treat it as terminal and non-forfeit.
var ErrJudgeFailed = fmt.Errorf("judge: evaluation failed")

// Side is one competitor's structured verdict component.
type Side struct {
	Score int      `json:"score"`
	Good  []string `json:"good"`
	Bad   []string `json:"bad"`
}

// Verdict is the structured result of the first pass.
type Verdict struct {
	Agree      Side   `json:"agree"`
	Disagree   Side   `json:"disagree"`
	WinnerSide string `json:"winnerSide"` // "agree" or "disagree"
}

// Turn is one speaker's contribution fed to the judge as transcript input.
type Turn struct {
	Speaker string // "agree" or "disagree"
	Text    string
}

// Client evaluates a finished match's transcript.
type Client struct {
	structured *openai.Client
	narrator   langchainllms.LLM
	model      string
}

const defaultModel = "gpt-4o-mini"

// New builds a Client backed by the given API key. narrationModel selects
// the model used for the second, prose-narration pass; if empty it falls
// back to the same model as the structured pass.
func New(apiKey string, narrationModel string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("judge: OpenAI API key is required")
	}

	if narrationModel == "" {
		narrationModel = defaultModel
	}

	narrator, err := langchainopenai.New(
		langchainopenai.WithToken(apiKey),
		langchainopenai.WithModel(narrationModel),
	)
	if err != nil {
		return nil, fmt.Errorf("judge: failed to create narration client: %v", err)
	}

	return &Client{
		structured: openai.NewClient(apiKey),
		narrator:   narrator,
		model:      defaultModel,
	}, nil
}

const structuredSystemPrompt = `You are an expert debate judge scoring a structured two-player debate.
You will be given the subject under debate and the full transcript, ordered by turn.
Score each side from 0-100 on the strength, relevance, and logic of their arguments, list
a few specific good and bad points for each, and declare a winning side.

Your response MUST be a valid JSON object with exactly this structure:
{
    "agree": {"score": <0-100>, "good": [<short strings>], "bad": [<short strings>]},
    "disagree": {"score": <0-100>, "good": [<short strings>], "bad": [<short strings>]},
    "winnerSide": "agree" | "disagree"
}

Be precise, objective, and decisive. Ties must still resolve to one winning side.`

// Evaluate runs the structured pass followed by the narration pass and
// returns both. The narration is never persisted by the caller; it exists
// only to be delivered as a Judge message.
func (c *Client) Evaluate(ctx context.Context, subject string, transcript []Turn) (*Verdict, string, error) {
	verdict, err := c.evaluateStructured(ctx, subject, transcript)
	if err != nil {
		return nil, "", err
	}

	narration, err := c.narrate(ctx, subject, transcript, verdict)
	if err != nil {
		return nil, "", err
	}

	return verdict, narration, nil
}

func (c *Client) evaluateStructured(ctx context.Context, subject string, transcript []Turn) (*Verdict, error) {
	logging.LogJudgeEvent("structured_pass_start", "", map[string]interface{}{"subject": subject, "turns": len(transcript)})

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: structuredSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Subject: %s\n\nTranscript:\n%s", subject, formatTranscript(transcript))},
	}

	resp, err := c.structured.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
	})
	if err != nil {
		logging.LogJudgeEvent("structured_pass_error", "", map[string]interface{}{"error": err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrJudgeFailed, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrJudgeFailed)
	}

	return parseVerdict(resp.Choices[0].Message.Content)
}

// parseVerdict parses and validates a structured-pass response body. Split
// out from evaluateStructured so the parsing/validation logic can be
// exercised without a network call.
func parseVerdict(content string) (*Verdict, error) {
	raw := strings.Trim(strings.TrimSpace(content), "`")
	var verdict Verdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("%w: malformed verdict JSON: %v", ErrJudgeFailed, err)
	}
	if verdict.WinnerSide != "agree" && verdict.WinnerSide != "disagree" {
		return nil, fmt.Errorf("%w: invalid winnerSide %q", ErrJudgeFailed, verdict.WinnerSide)
	}

	return &verdict, nil
}

func (c *Client) narrate(ctx context.Context, subject string, transcript []Turn, verdict *Verdict) (string, error) {
	prompt := fmt.Sprintf(`Narrate the outcome of this debate in two or three sentences, as a judge announcing
a decision. Subject: %q. Agree scored %d, Disagree scored %d, winner is %s.
Write in prose, no JSON, no bullet points.`, subject, verdict.Agree.Score, verdict.Disagree.Score, verdict.WinnerSide)

	completion, err := c.narrator.Call(ctx, prompt)
	if err != nil {
		logging.LogJudgeEvent("narration_pass_error", "", map[string]interface{}{"error": err.Error()})
		return "", fmt.Errorf("%w: narration failed: %v", ErrJudgeFailed, err)
	}

	completion = strings.TrimSpace(completion)
	if completion == "" {
		return "", fmt.Errorf("%w: empty narration", ErrJudgeFailed)
	}

	return completion, nil
}

func formatTranscript(turns []Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s] %s\n", t.Speaker, t.Text)
	}
	return b.String()
}
