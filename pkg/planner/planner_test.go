package planner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/planner"
	"github.com/m-mizutani/kappa/pkg/tool/physics"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

type mockGemini struct {
	generateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.generateFunc(ctx, contents, config)
}

type mockOpenAI struct {
	createFunc func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

func (m *mockOpenAI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return m.createFunc(ctx, req)
}

func planInput() *model.PlanInput {
	return &model.PlanInput{
		Instructions: "you are a graphene assistant",
		History: []*model.Turn{
			model.NewTurn(model.RoleUser, "temperature is 300K"),
			model.NewTurn(model.RoleAssistant, "what is the defect ratio?"),
		},
		Utterance: "1%",
		Tools:     physics.New().Spec().FunctionDeclarations,
		Exchanges: []*model.ToolExchange{
			{
				Call:     &model.ToolCall{ID: "c1", Name: physics.Name, Args: map[string]any{"temperature_k": 300.0, "defect_ratio": 0.01}},
				Response: map[string]any{"result": "49.89 W/mK (theoretical)"},
			},
		},
	}
}

func TestGeminiPropose(t *testing.T) {
	var gotContents []*genai.Content
	var gotConfig *genai.GenerateContentConfig
	client := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotContents, gotConfig = contents, config
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{
						Role: genai.RoleModel,
						Parts: []*genai.Part{
							{Text: "thinking", Thought: true},
							genai.NewPartFromFunctionCall(physics.Name, map[string]any{"temperature_k": 300.0}),
							{Text: "calling the tool"},
						},
					},
				}},
			}, nil
		},
	}

	proposal, err := planner.NewGemini(client).Propose(context.Background(), planInput())
	gt.NoError(t, err)
	gt.A(t, proposal.Calls).Length(1)
	gt.Equal(t, proposal.Calls[0].Name, physics.Name)
	gt.Equal(t, proposal.Text, "calling the tool")
	gt.False(t, proposal.IsFinal())

	// history(2) + utterance + call/response pair
	gt.A(t, gotContents).Length(5)
	gt.Equal(t, gotContents[0].Role, genai.RoleUser)
	gt.Equal(t, gotContents[1].Role, genai.RoleModel)
	gt.Equal(t, gotContents[2].Parts[0].Text, "1%")
	gt.NotNil(t, gotContents[3].Parts[0].FunctionCall)
	gt.NotNil(t, gotContents[4].Parts[0].FunctionResponse)
	gt.Equal(t, gotContents[4].Parts[0].FunctionResponse.ID, "c1")

	gt.A(t, gotConfig.Tools).Length(1)
	gt.Equal(t, *gotConfig.Temperature, float32(0))
	gt.Equal(t, gotConfig.SystemInstruction.Parts[0].Text, "you are a graphene assistant")
}

func TestGeminiProposeWithoutTools(t *testing.T) {
	client := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gt.A(t, config.Tools).Length(0)
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{Content: genai.NewContentFromText("done", genai.RoleModel)}},
			}, nil
		},
	}

	input := planInput()
	input.Tools = nil
	proposal, err := planner.NewGemini(client).Propose(context.Background(), input)
	gt.NoError(t, err)
	gt.True(t, proposal.IsFinal())
	gt.Equal(t, proposal.Text, "done")
}

func TestGeminiUpstreamError(t *testing.T) {
	client := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, &genai.APIError{Code: 401, Message: "API key not valid"}
		},
	}

	_, err := planner.NewGemini(client).Propose(context.Background(), planInput())
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrUpstreamUnavailable))

	var apiErr *genai.APIError
	gt.True(t, errors.As(err, &apiErr))
	gt.Equal(t, apiErr.Code, 401)

	empty := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return &genai.GenerateContentResponse{}, nil
		},
	}
	_, err = planner.NewGemini(empty).Propose(context.Background(), planInput())
	gt.True(t, errors.Is(err, model.ErrUpstreamUnavailable))
}

func TestOpenAIPropose(t *testing.T) {
	var got openai.ChatCompletionRequest
	client := &mockOpenAI{
		createFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			got = req
			return openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{{
					Message: openai.ChatCompletionMessage{
						Role: openai.ChatMessageRoleAssistant,
						ToolCalls: []openai.ToolCall{
							{
								ID:   "call_1",
								Type: openai.ToolTypeFunction,
								Function: openai.FunctionCall{
									Name:      physics.Name,
									Arguments: `{"temperature_k": 300, "defect_ratio": 0.01}`,
								},
							},
							{
								ID:       "call_2",
								Type:     openai.ToolTypeFunction,
								Function: openai.FunctionCall{Name: physics.Name, Arguments: `not json`},
							},
						},
					},
				}},
			}, nil
		},
	}

	proposal, err := planner.NewOpenAI(client).Propose(context.Background(), planInput())
	gt.NoError(t, err)
	gt.A(t, proposal.Calls).Length(2)
	gt.Equal(t, proposal.Calls[0].ID, "call_1")
	gt.Equal(t, proposal.Calls[0].Args["temperature_k"], any(300.0))
	gt.Equal(t, len(proposal.Calls[1].Args), 0)

	// system + history(2) + utterance + assistant tool call + tool result
	gt.A(t, got.Messages).Length(6)
	gt.Equal(t, got.Messages[0].Role, openai.ChatMessageRoleSystem)
	gt.Equal(t, got.Messages[2].Role, openai.ChatMessageRoleAssistant)
	gt.Equal(t, got.Messages[4].ToolCalls[0].ID, "c1")
	gt.Equal(t, got.Messages[5].ToolCallID, "c1")
	gt.S(t, got.Messages[5].Content).Contains("theoretical")

	gt.A(t, got.Tools).Length(1)
	gt.Equal(t, got.Tools[0].Function.Name, physics.Name)
}

func TestOpenAIUpstreamError(t *testing.T) {
	client := &mockOpenAI{
		createFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, &openai.APIError{HTTPStatusCode: 401, Message: "invalid api key"}
		},
	}

	_, err := planner.NewOpenAI(client).Propose(context.Background(), planInput())
	gt.True(t, errors.Is(err, model.ErrUpstreamUnavailable))

	var apiErr *openai.APIError
	gt.True(t, errors.As(err, &apiErr))
	gt.Equal(t, apiErr.HTTPStatusCode, 401)
}
