package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/interfaces"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/tool"
	"github.com/m-mizutani/kappa/pkg/tool/physics"
	"github.com/m-mizutani/kappa/pkg/tool/predict"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
	"google.golang.org/genai"
)

// DefaultMaxRounds bounds the planner rounds of one turn
const DefaultMaxRounds = 8

// State is a phase of a turn
type State string

const (
	StateAwaitingInput    State = "awaiting_input"
	StateExtractingParams State = "extracting_params"
	StateInvokingTools    State = "invoking_tools"
	StateComposingReply   State = "composing_reply"
)

// Reply is the outcome of one turn
type Reply struct {
	Text      string
	Exchanges []*model.ToolExchange
	Trace     []State
}

// Session runs conversation turns against a planner and a tool registry
type Session struct {
	planner      interfaces.Planner
	registry     *tool.Registry
	memory       *Memory
	instructions string
	maxRounds    int
}

type Option func(*Session)

// WithMemory continues an existing conversation
func WithMemory(memory *Memory) Option {
	return func(s *Session) {
		s.memory = memory
	}
}

func WithMaxRounds(n int) Option {
	return func(s *Session) {
		s.maxRounds = n
	}
}

func New(ctx context.Context, planner interfaces.Planner, registry *tool.Registry, opts ...Option) (*Session, error) {
	instructions, err := buildInstructions(ctx, registry)
	if err != nil {
		return nil, err
	}

	s := &Session{
		planner:      planner,
		registry:     registry,
		memory:       NewMemory(),
		instructions: instructions,
		maxRounds:    DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Memory returns the conversation memory owned by the session
func (s *Session) Memory() *Memory {
	return s.memory
}

// Send handles one user utterance. The user turn is always recorded. The
// assistant turn is recorded only on success and only if the memory was not
// cleared meanwhile.
func (s *Session) Send(ctx context.Context, utterance string) (*Reply, error) {
	logger := logging.Component(ctx, "chat")

	generation := s.memory.Generation()
	history := s.memory.Snapshot()
	s.memory.Append(model.NewTurn(model.RoleUser, utterance))

	reply := &Reply{Trace: []State{StateExtractingParams}}
	gate := newPhysicsGate()
	toolsOpen := true

	for round := 0; round < s.maxRounds; round++ {
		input := &model.PlanInput{
			Instructions: s.instructions,
			History:      history,
			Utterance:    utterance,
			Exchanges:    reply.Exchanges,
		}
		if toolsOpen {
			input.Tools = s.registry.Declarations()
		}

		proposal, err := s.planner.Propose(ctx, input)
		if err != nil {
			return nil, goerr.Wrap(err, "planner failed", goerr.V("round", round))
		}

		if proposal.IsFinal() {
			reply.Trace = append(reply.Trace, StateComposingReply)
			reply.Text = proposal.Text
			if !s.memory.AppendIfGeneration(generation, model.NewTurn(model.RoleAssistant, reply.Text)) {
				logger.Info("memory was cleared during the turn, reply is not recorded")
			}
			reply.Trace = append(reply.Trace, StateAwaitingInput)
			return reply, nil
		}

		reply.Trace = append(reply.Trace, StateInvokingTools)
		for _, call := range proposal.Calls {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}

			if !toolsOpen {
				reply.Exchanges = append(reply.Exchanges, &model.ToolExchange{
					Call: call,
					Response: map[string]any{
						"error": "tools are closed for this turn, reply to the user",
						"kind":  tool.KindRefused,
					},
				})
				continue
			}

			exchanges := s.dispatch(ctx, gate, call)
			reply.Exchanges = append(reply.Exchanges, exchanges...)

			if tool.ErrorKind(exchanges[0].Response) == tool.KindInvalidInput {
				logger.Info("invalid input, closing tools for this turn", "tool", call.Name)
				toolsOpen = false
			}
		}
	}

	return nil, goerr.Wrap(model.ErrToolFailure, "planner did not converge", goerr.V("rounds", s.maxRounds))
}

// dispatch runs one planner call under the physics gate. It returns the
// exchange of the call, followed by a forced physics exchange when the call
// was an anomalous ML prediction.
func (s *Session) dispatch(ctx context.Context, gate *physicsGate, call *model.ToolCall) []*model.ToolExchange {
	logger := logging.Component(ctx, "chat")

	if call.Name == physics.Name {
		if resp := gate.admit(call.Args); resp != nil {
			logger.Debug("physics call not run", "args", call.Args, "response", resp)
			return []*model.ToolExchange{{Call: call, Response: resp}}
		}
	}

	resp := s.execute(ctx, call)
	exchanges := []*model.ToolExchange{{Call: call, Response: resp}}

	switch call.Name {
	case physics.Name:
		gate.record(call.Args, resp)

	case predict.Name:
		if !gate.observe(call.Args, resp) || !s.registry.Has(physics.Name) {
			break
		}
		forced := &model.ToolCall{
			ID:   uuid.NewString(),
			Name: physics.Name,
			Args: map[string]any{
				"temperature_k": call.Args["temperature_k"],
				"defect_ratio":  call.Args["defect_ratio"],
			},
		}
		logger.Info("ml prediction is anomalous, running physics estimate", "args", forced.Args)
		forcedResp := s.execute(ctx, forced)
		gate.record(forced.Args, forcedResp)
		exchanges = append(exchanges, &model.ToolExchange{Call: forced, Response: forcedResp, Forced: true})
	}

	return exchanges
}

func (s *Session) execute(ctx context.Context, call *model.ToolCall) map[string]any {
	resp, err := s.registry.Execute(ctx, genai.FunctionCall{
		ID:   call.ID,
		Name: call.Name,
		Args: call.Args,
	})
	if err != nil {
		logging.Component(ctx, "chat").Warn("tool execution failed", "tool", call.Name, "error", err)
		return tool.ErrorResponse(err)
	}
	return resp.Response
}
