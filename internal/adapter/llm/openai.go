package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// OpenAIClient implements CompletionClient on the OpenAI Chat Completions
// API. Credentials come from the environment via the official client.
type OpenAIClient struct {
	client *openai.Client
	model  openai.ChatModel
}

var _ CompletionClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for the given model. An empty model
// selects gpt-4o-mini.
func NewOpenAIClient(model string) *OpenAIClient {
	client := openai.NewClient()
	m := openai.ChatModelGPT4oMini
	if model != "" {
		m = openai.ChatModel(model)
	}
	return &OpenAIClient{client: &client, model: m}
}

// Complete sends a non-streaming chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		Temperature:         openai.Float(0.2),
		MaxCompletionTokens: openai.Int(4096),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
