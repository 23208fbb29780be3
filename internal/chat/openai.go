package chat

import (
	"context"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const systemPrompt = "You are a friendly health assistant. Answer health related questions clearly and briefly, and suggest seeing a doctor when symptoms sound serious."

// OpenAIClient answers through the OpenAI chat completions API.
type OpenAIClient struct {
	client  *openai.Client
	model   openai.ChatModel
	timeout time.Duration
}

// NewOpenAIClient returns a client. Without an API key Reply fails with
// ErrClientNotInitialised.
func NewOpenAIClient(apiKey string, timeout time.Duration, opts ...option.RequestOption) *OpenAIClient {
	if apiKey == "" {
		return &OpenAIClient{}
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &OpenAIClient{
		client:  &client,
		model:   openai.ChatModelGPT4oMini,
		timeout: timeout,
	}
}

func (c *OpenAIClient) Reply(ctx context.Context, text string) (string, error) {
	if c.client == nil {
		return "", ErrClientNotInitialised
	}

	req := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(systemPrompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(text),
					},
				},
			},
		},
		Temperature:         openai.Float(0.3),
		MaxCompletionTokens: openai.Int(512),
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return noResponse, nil
	}
	return resp.Choices[0].Message.Content, nil
}
