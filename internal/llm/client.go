package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"linguaflow/voice/internal/types"
)

// Client wraps the chat-completion collaborator used for grammar checking
// and batch correction. Responses are requested as JSON and parsed strictly;
// a malformed reply is an error, never a partial accept.
type Client struct {
	oa    openai.Client
	model string
}

func New(apiKey, model string) *Client {
	return &Client{
		oa:    openai.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

const grammarSystemPrompt = `You are a grammar checker for spoken English from language learners.
Given a transcript and the student's CEFR level, list grammar issues.
Respond with JSON only: {"issues":[{"type":string,"severity":"minor"|"moderate"|"major","original":string,"suggestion":string,"explanation":string,"position":int}]}.
Ignore disfluencies and casual spoken register; flag real grammar errors only.`

// CheckGrammar asks the collaborator for grammar issues in one transcript.
func (c *Client) CheckGrammar(ctx context.Context, text, level string) ([]types.AnalysisIssue, error) {
	content, err := c.invoke(ctx, grammarSystemPrompt,
		fmt.Sprintf("Student level: %s\nTranscript: %q", level, text))
	if err != nil {
		return nil, err
	}
	var out struct {
		Issues []types.AnalysisIssue `json:"issues"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("grammar response parse: %w", err)
	}
	return out.Issues, nil
}

const correctionSystemPrompt = `You correct grammar in spoken-English practice transcripts from language learners.
For each sentence that contains an error, produce one correction entry.
Respond with JSON only: {"corrections":[{"original_text":string,"corrected_text":string,"explanation":string,"category":string,"severity":"minor"|"moderate"|"major"}]}.
Categories are snake_case, e.g. "grammar_verb_agreement", "grammar_article", "grammar_plural".
Sentences without errors get no entry.`

// CorrectionItem is one entry of the collaborator's batch-correction reply.
type CorrectionItem struct {
	OriginalText  string `json:"original_text"`
	CorrectedText string `json:"corrected_text"`
	Explanation   string `json:"explanation"`
	Category      string `json:"category"`
	Severity      string `json:"severity"`
}

// CorrectBatch sends all uncorrected transcripts in a single request so the
// collaborator sees cross-sentence context.
func (c *Client) CorrectBatch(ctx context.Context, transcripts []string, level string) ([]CorrectionItem, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Student level: %s\nTranscripts:\n", level)
	for i, t := range transcripts {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, t)
	}
	content, err := c.invoke(ctx, correctionSystemPrompt, sb.String())
	if err != nil {
		return nil, err
	}
	var out struct {
		Corrections []CorrectionItem `json:"corrections"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("correction response parse: %w", err)
	}
	return out.Corrections, nil
}

func (c *Client) invoke(ctx context.Context, system, user string) (string, error) {
	resp, err := c.oa.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("blocked: %s", choice.Message.Refusal)
	}
	if choice.Message.Content == "" {
		return "", fmt.Errorf("no content")
	}
	return choice.Message.Content, nil
}
