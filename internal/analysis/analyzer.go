package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Result is the structured outcome of analyzing one transcript.
type Result struct {
	Summary            string   `json:"summary"`
	Topics             []string `json:"topics"`
	Concerns           []string `json:"concerns"`
	SuggestedResponses []string `json:"suggested_responses"`
	Insights           []string `json:"insights"`
}

// Analyzer turns a transcript into a structured Result.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string) (*Result, error)
}

const systemPrompt = `You analyze transcripts of spoken conversations for a pastoral care assistant.
Respond with a JSON object containing exactly these keys:
"summary" (string, one or two sentences),
"topics" (array of strings, the key topics raised),
"concerns" (array of strings, worries or needs the speaker expressed),
"suggested_responses" (array of strings, empathetic replies a counselor could give),
"insights" (array of strings, observations about the speaker's state).
Use empty arrays when a category does not apply. Do not add other keys.`

// Client is the OpenAI-backed Analyzer.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
}

// NewClient creates an analysis client. An empty API key is a configuration
// error and fails immediately.
func NewClient(apiKey, model string, timeout time.Duration) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("analysis API key cannot be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("analysis model cannot be empty")
	}

	return &Client{
		api:     openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
	}, nil
}

// Analyze sends the transcript for analysis and parses the JSON reply.
func (c *Client) Analyze(ctx context.Context, transcript string) (*Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("cannot analyze empty transcript")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: transcript},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("analysis response contained no choices")
	}

	return parseResult([]byte(resp.Choices[0].Message.Content))
}

// parseResult validates the collaborator's JSON against the Result schema.
func parseResult(data []byte) (*Result, error) {
	var r Result
	dec := json.NewDecoder(strings.NewReader(string(data)))
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("malformed analysis response: %w", err)
	}

	if r.Topics == nil {
		r.Topics = []string{}
	}
	if r.Concerns == nil {
		r.Concerns = []string{}
	}
	if r.SuggestedResponses == nil {
		r.SuggestedResponses = []string{}
	}
	if r.Insights == nil {
		r.Insights = []string{}
	}

	return &r, nil
}
