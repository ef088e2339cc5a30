package planner

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/adapter"
	"github.com/m-mizutani/kappa/pkg/interfaces"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/tool"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
	"github.com/sashabaranov/go-openai"
)

// OpenAI plans with the chat completions API of any OpenAI-compatible
// provider
type OpenAI struct {
	client adapter.OpenAI
}

var _ interfaces.Planner = (*OpenAI)(nil)

func NewOpenAI(client adapter.OpenAI) *OpenAI {
	return &OpenAI{client: client}
}

func (p *OpenAI) Propose(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
	messages, err := openAIMessages(input)
	if err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Messages: messages,
		// zero is dropped by omitempty
		Temperature: math.SmallestNonzeroFloat32,
	}
	for _, decl := range input.Tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  tool.JSONSchema(decl.Parameters),
			},
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(model.ErrUpstreamUnavailable, err), "openai planner request failed")
	}
	if len(resp.Choices) == 0 {
		return nil, goerr.Wrap(model.ErrUpstreamUnavailable, "openai returned no choice")
	}

	logger := logging.Component(ctx, "planner")
	msg := resp.Choices[0].Message
	proposal := &model.Proposal{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				logger.Warn("tool call arguments are not a JSON object", "name", tc.Function.Name, "arguments", tc.Function.Arguments)
				args = map[string]any{}
			}
		}
		proposal.Calls = append(proposal.Calls, &model.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	logger.Debug("openai proposal", "calls", len(proposal.Calls), "text", proposal.Text)
	return proposal, nil
}

func openAIMessages(input *model.PlanInput) ([]openai.ChatCompletionMessage, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: input.Instructions},
	}

	for _, turn := range input.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == model.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: input.Utterance,
	})

	for _, ex := range input.Exchanges {
		args, err := json.Marshal(ex.Call.Args)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal tool arguments", goerr.V("name", ex.Call.Name))
		}
		result, err := json.Marshal(ex.Response)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal tool response", goerr.V("name", ex.Call.Name))
		}

		messages = append(messages,
			openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   ex.Call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      ex.Call.Name,
						Arguments: string(args),
					},
				}},
			},
			openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Name:       ex.Call.Name,
				Content:    string(result),
				ToolCallID: ex.Call.ID,
			},
		)
	}

	return messages, nil
}
