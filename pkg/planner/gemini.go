package planner

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/adapter"
	"github.com/m-mizutani/kappa/pkg/interfaces"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
	"google.golang.org/genai"
)

// Gemini plans with Gemini function calling
type Gemini struct {
	client adapter.Gemini
}

var _ interfaces.Planner = (*Gemini)(nil)

func NewGemini(client adapter.Gemini) *Gemini {
	return &Gemini{client: client}
}

func (p *Gemini) Propose(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(input.Instructions, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
	}
	if len(input.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: input.Tools}}
	}

	resp, err := p.client.GenerateContent(ctx, geminiContents(input), config)
	if err != nil {
		return nil, goerr.Wrap(errors.Join(model.ErrUpstreamUnavailable, err), "gemini planner request failed")
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, goerr.Wrap(model.ErrUpstreamUnavailable, "gemini returned no candidate")
	}

	proposal := &model.Proposal{}
	var texts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part.Thought:
			continue
		case part.FunctionCall != nil:
			proposal.Calls = append(proposal.Calls, &model.ToolCall{
				ID:   part.FunctionCall.ID,
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		case part.Text != "":
			texts = append(texts, part.Text)
		}
	}
	proposal.Text = strings.Join(texts, "")

	logging.Component(ctx, "planner").Debug("gemini proposal", "calls", len(proposal.Calls), "text", proposal.Text)
	return proposal, nil
}

func geminiContents(input *model.PlanInput) []*genai.Content {
	contents := make([]*genai.Content, 0, len(input.History)+1+2*len(input.Exchanges))

	for _, turn := range input.History {
		role := genai.RoleUser
		if turn.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, genai.Role(role)))
	}

	contents = append(contents, genai.NewContentFromText(input.Utterance, genai.RoleUser))

	for _, ex := range input.Exchanges {
		call := &genai.Part{FunctionCall: &genai.FunctionCall{
			ID:   ex.Call.ID,
			Name: ex.Call.Name,
			Args: ex.Call.Args,
		}}
		response := &genai.Part{FunctionResponse: &genai.FunctionResponse{
			ID:       ex.Call.ID,
			Name:     ex.Call.Name,
			Response: ex.Response,
		}}
		contents = append(contents,
			genai.NewContentFromParts([]*genai.Part{call}, genai.RoleModel),
			genai.NewContentFromParts([]*genai.Part{response}, genai.RoleUser),
		)
	}

	return contents
}
