package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

type Gemini interface {
	GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type GeminiClient struct {
	client          *genai.Client
	generativeModel string
}

type geminiConfig struct {
	model    string
	baseURL  string
	project  string
	location string
}

type GeminiOption func(*geminiConfig)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *geminiConfig) {
		g.model = model
	}
}

// WithGeminiBaseURL routes requests through a proxy or compatible endpoint
func WithGeminiBaseURL(url string) GeminiOption {
	return func(g *geminiConfig) {
		g.baseURL = url
	}
}

// WithVertexAI switches to the Vertex AI backend. The API key is ignored.
func WithVertexAI(projectID, location string) GeminiOption {
	return func(g *geminiConfig) {
		g.project = projectID
		g.location = location
	}
}

func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	cfg := geminiConfig{model: "gemini-2.5-flash"}
	for _, opt := range opts {
		opt(&cfg)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.baseURL,
		},
	}
	if cfg.project != "" {
		clientCfg.APIKey = ""
		clientCfg.Project = cfg.project
		clientCfg.Location = cfg.location
		clientCfg.Backend = genai.BackendVertexAI
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	return &GeminiClient{
		client:          client,
		generativeModel: cfg.model,
	}, nil
}

func (g *GeminiClient) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content", goerr.V("model", g.generativeModel))
	}
	return resp, nil
}
