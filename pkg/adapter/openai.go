package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
)

// OpenAI is a chat completion client for OpenAI-compatible endpoints
type OpenAI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type OpenAIClient struct {
	client *openai.Client
	model  string
}

type openAIConfig struct {
	model   string
	baseURL string
}

type OpenAIOption func(*openAIConfig)

func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		c.model = model
	}
}

// WithOpenAIBaseURL points the client at a compatible provider, for example
// https://ark.cn-beijing.volces.com/api/v3
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = url
	}
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	cfg := openAIConfig{model: openai.GPT4oMini}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		clientCfg.BaseURL = cfg.baseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.model,
	}
}

// Model returns the model name requests are sent with
func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return resp, goerr.Wrap(err, "failed to create chat completion", goerr.V("model", req.Model))
	}
	return resp, nil
}
