package chat_test

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/kappa/pkg/artifact"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/policy"
	"github.com/m-mizutani/kappa/pkg/tool"
	"github.com/m-mizutani/kappa/pkg/tool/physics"
	"github.com/m-mizutani/kappa/pkg/tool/predict"
	"github.com/m-mizutani/kappa/pkg/usecase/chat"
	"google.golang.org/genai"
)

type mockPlanner struct {
	proposeFunc func(ctx context.Context, input *model.PlanInput) (*model.Proposal, error)
	inputs      []*model.PlanInput
}

func (m *mockPlanner) Propose(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
	m.inputs = append(m.inputs, input)
	return m.proposeFunc(ctx, input)
}

// countingTool counts executions of the wrapped tool
type countingTool struct {
	tool.Tool
	calls atomic.Int32
	args  []map[string]any
}

func (c *countingTool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	c.calls.Add(1)
	c.args = append(c.args, fc.Args)
	return c.Tool.Execute(ctx, fc)
}

type fixedModel struct {
	value func(features []float64) float64
}

func (m *fixedModel) Predict(features []float64) (float64, error) { return m.value(features), nil }
func (m *fixedModel) NumFeatures() int                            { return 3 }
func (m *fixedModel) FeatureNames() []string                      { return nil }

type fixedLoader struct {
	schema *artifact.Schema
	model  artifact.Model
}

func (l *fixedLoader) Load(ctx context.Context) (*artifact.Schema, artifact.Model, error) {
	return l.schema, l.model, nil
}

type fixture struct {
	predict *countingTool
	physics *countingTool
	planner *mockPlanner
	session *chat.Session
}

// newFixture builds a session whose ML model returns value(features). The
// feature order is length_um, temperature_k, defect_ratio.
func newFixture(t *testing.T, value func(features []float64) float64, propose func(ctx context.Context, input *model.PlanInput) (*model.Proposal, error)) *fixture {
	ctx := context.Background()

	schema, err := artifact.NewSchema([]string{"length_um", "temperature_k", "defect_ratio"})
	gt.NoError(t, err)
	validator, err := policy.New(ctx)
	gt.NoError(t, err)

	f := &fixture{
		predict: &countingTool{Tool: predict.New(&fixedLoader{schema: schema, model: &fixedModel{value: value}}, validator)},
		physics: &countingTool{Tool: physics.New()},
		planner: &mockPlanner{proposeFunc: propose},
	}

	f.session, err = chat.New(ctx, f.planner, tool.New(f.predict, f.physics))
	gt.NoError(t, err)
	return f
}

var (
	reTemperature = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*K\b`)
	reDefect      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	reLength      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:um|µm)\b`)
)

// scriptedPlanner merges parameters from every user message it can see,
// later values winning, and asks for whatever is missing
func scriptedPlanner(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
	if len(input.Exchanges) > 0 {
		var results []string
		for _, ex := range input.Exchanges {
			if r, ok := ex.Response["result"].(string); ok {
				results = append(results, r)
			} else if e, ok := ex.Response["error"].(string); ok {
				results = append(results, "error: "+e)
			}
		}
		return &model.Proposal{Text: strings.Join(results, " / ")}, nil
	}

	var texts []string
	for _, turn := range input.History {
		if turn.Role == model.RoleUser {
			texts = append(texts, turn.Text)
		}
	}
	texts = append(texts, input.Utterance)

	args := map[string]any{}
	for _, text := range texts {
		if m := reTemperature.FindStringSubmatch(text); m != nil {
			args["temperature_k"], _ = strconv.ParseFloat(m[1], 64)
		}
		if m := reDefect.FindStringSubmatch(text); m != nil {
			v, _ := strconv.ParseFloat(m[1], 64)
			args["defect_ratio"] = v / 100
		}
		if m := reLength.FindStringSubmatch(text); m != nil {
			args["length_um"], _ = strconv.ParseFloat(m[1], 64)
		}
	}

	if _, ok := args["temperature_k"]; !ok {
		return &model.Proposal{Text: "What is the temperature?"}, nil
	}
	if _, ok := args["defect_ratio"]; !ok {
		return &model.Proposal{Text: "What is the defect ratio?"}, nil
	}

	return &model.Proposal{Calls: []*model.ToolCall{{Name: predict.Name, Args: args}}}, nil
}

func constant(v float64) func([]float64) float64 {
	return func([]float64) float64 { return v }
}

func TestSendPlausiblePrediction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, constant(3200.456), scriptedPlanner)

	reply, err := f.session.Send(ctx, "300 K with 1% defects")
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "3200.46 W/mK")
	gt.Equal(t, f.predict.calls.Load(), int32(1))
	gt.Equal(t, f.physics.calls.Load(), int32(0))
	gt.A(t, reply.Exchanges).Length(1)
	gt.Equal(t, reply.Trace, []chat.State{
		chat.StateExtractingParams,
		chat.StateInvokingTools,
		chat.StateComposingReply,
		chat.StateAwaitingInput,
	})

	turns := f.session.Memory().Snapshot()
	gt.A(t, turns).Length(2)
	gt.Equal(t, turns[0].Role, model.RoleUser)
	gt.Equal(t, turns[1].Role, model.RoleAssistant)
	gt.Equal(t, turns[1].Text, "3200.46 W/mK")
}

func TestSendAnomalousPredictionForcesPhysics(t *testing.T) {
	ctx := context.Background()

	for _, v := range []float64{5, 7000} {
		f := newFixture(t, constant(v), scriptedPlanner)

		reply, err := f.session.Send(ctx, "300 K and 1%")
		gt.NoError(t, err)
		gt.Equal(t, f.physics.calls.Load(), int32(1))
		gt.A(t, reply.Exchanges).Length(2)
		gt.True(t, reply.Exchanges[1].Forced)
		gt.Equal(t, reply.Exchanges[1].Call.Name, physics.Name)
		gt.S(t, reply.Text).Contains("49.89 W/mK (theoretical)")
		gt.Equal(t, f.physics.args[0]["temperature_k"], any(300.0))
		gt.Equal(t, f.physics.args[0]["defect_ratio"], any(0.01))
	}
}

func TestSendPhysicsWithoutAnomalyIsRefused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, constant(2000), func(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
		switch len(input.Exchanges) {
		case 0:
			return &model.Proposal{Calls: []*model.ToolCall{
				{Name: predict.Name, Args: map[string]any{"temperature_k": 300.0, "defect_ratio": 0.01}},
				{Name: physics.Name, Args: map[string]any{"temperature_k": 300.0, "defect_ratio": 0.01}},
			}}, nil
		default:
			return &model.Proposal{Text: "done"}, nil
		}
	})

	reply, err := f.session.Send(ctx, "300 K, 1%")
	gt.NoError(t, err)
	gt.Equal(t, f.physics.calls.Load(), int32(0))
	gt.A(t, reply.Exchanges).Length(2)
	gt.Equal(t, tool.ErrorKind(reply.Exchanges[1].Response), tool.KindRefused)
}

func TestSendRepeatedPhysicsIsNotReinvoked(t *testing.T) {
	ctx := context.Background()
	args := map[string]any{"temperature_k": 300.0, "defect_ratio": 0.01}
	f := newFixture(t, constant(1), func(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
		switch len(input.Exchanges) {
		case 0:
			return &model.Proposal{Calls: []*model.ToolCall{{Name: predict.Name, Args: args}}}, nil
		case 2:
			return &model.Proposal{Calls: []*model.ToolCall{{Name: physics.Name, Args: args}}}, nil
		default:
			return &model.Proposal{Text: "done"}, nil
		}
	})

	reply, err := f.session.Send(ctx, "300 K, 1%")
	gt.NoError(t, err)
	gt.Equal(t, f.physics.calls.Load(), int32(1))
	gt.A(t, reply.Exchanges).Length(3)
	gt.Equal(t, reply.Exchanges[2].Response["result"], reply.Exchanges[1].Response["result"])
}

func TestSendMergesParametersAcrossTurns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(features []float64) float64 {
		return features[1] * 10
	}, scriptedPlanner)

	reply, err := f.session.Send(ctx, "The temperature is 300 K")
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "What is the defect ratio?")
	gt.Equal(t, f.predict.calls.Load(), int32(0))

	reply, err = f.session.Send(ctx, "defect is 1%")
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "3000.00 W/mK")
	gt.Equal(t, f.predict.calls.Load(), int32(1))
	gt.Equal(t, f.predict.args[0]["temperature_k"], any(300.0))
	gt.Equal(t, f.predict.args[0]["defect_ratio"], any(0.01))

	// the planner saw the whole prior conversation on the second turn
	last := f.planner.inputs[len(f.planner.inputs)-2]
	gt.A(t, last.History).Length(2)

	// a later value replaces an earlier one
	reply, err = f.session.Send(ctx, "now at 350 K")
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "3500.00 W/mK")
	gt.A(t, f.session.Memory().Snapshot()).Length(6)
}

func TestSendKeepsUnchangedParameters(t *testing.T) {
	ctx := context.Background()
	var features [][]float64
	f := newFixture(t, func(v []float64) float64 {
		features = append(features, append([]float64(nil), v...))
		return 3000
	}, scriptedPlanner)

	_, err := f.session.Send(ctx, "300K, 0.5%, 10µm")
	gt.NoError(t, err)
	_, err = f.session.Send(ctx, "what about 400K instead")
	gt.NoError(t, err)

	gt.A(t, features).Length(2)
	gt.Equal(t, features[0], []float64{10, 300, 0.005})
	gt.Equal(t, features[1], []float64{10, 400, 0.005})
}

func TestSendDefaultsLength(t *testing.T) {
	ctx := context.Background()
	var features []float64
	f := newFixture(t, func(v []float64) float64 {
		features = append([]float64(nil), v...)
		return 3000
	}, scriptedPlanner)

	_, err := f.session.Send(ctx, "250 K")
	gt.NoError(t, err)
	_, err = f.session.Send(ctx, "2% defects")
	gt.NoError(t, err)

	gt.A(t, features).Length(3)
	gt.Equal(t, features[0], model.DefaultLengthUM)
	gt.Equal(t, features[1], 250.0)
	gt.Equal(t, features[2], 0.02)
}

func TestSendAfterClearForgetsParameters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, constant(3000), scriptedPlanner)

	_, err := f.session.Send(ctx, "300 K")
	gt.NoError(t, err)

	f.session.Memory().Clear()
	gt.Equal(t, f.session.Memory().Len(), 0)

	reply, err := f.session.Send(ctx, "1%")
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "What is the temperature?")
	gt.Equal(t, f.predict.calls.Load(), int32(0))
}

func TestSendInvalidInputClosesTools(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, constant(3000), func(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
		if len(input.Exchanges) == 0 {
			return &model.Proposal{Calls: []*model.ToolCall{
				{Name: predict.Name, Args: map[string]any{"temperature_k": -10.0, "defect_ratio": 0.01}},
			}}, nil
		}
		if len(input.Tools) > 0 {
			t.Error("tools must not be offered after invalid input")
		}
		return &model.Proposal{Text: "temperature must be positive"}, nil
	})

	reply, err := f.session.Send(ctx, "-10 K, 1%")
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "temperature must be positive")
	gt.Equal(t, tool.ErrorKind(reply.Exchanges[0].Response), tool.KindInvalidInput)
	gt.A(t, f.planner.inputs).Length(2)
	gt.A(t, f.planner.inputs[0].Tools).Length(2)
	gt.A(t, f.planner.inputs[1].Tools).Length(0)
}

func TestSendUpstreamFailureKeepsOnlyUserTurn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, constant(3000), func(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
		return nil, goerr.Wrap(model.ErrUpstreamUnavailable, "401 unauthorized")
	})

	_, err := f.session.Send(ctx, "300 K, 1%")
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrUpstreamUnavailable))

	turns := f.session.Memory().Snapshot()
	gt.A(t, turns).Length(1)
	gt.Equal(t, turns[0].Role, model.RoleUser)
	gt.Equal(t, turns[0].Text, "300 K, 1%")
}

func TestSendDoesNotConverge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, constant(3000), func(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
		return &model.Proposal{Calls: []*model.ToolCall{
			{Name: predict.Name, Args: map[string]any{"temperature_k": 300.0, "defect_ratio": 0.01}},
		}}, nil
	})

	_, err := f.session.Send(ctx, "loop")
	gt.True(t, errors.Is(err, model.ErrToolFailure))
	gt.A(t, f.planner.inputs).Length(chat.DefaultMaxRounds)
	gt.Equal(t, f.session.Memory().Len(), 1)
}

func TestSendReplyDroppedWhenClearedMidTurn(t *testing.T) {
	ctx := context.Background()
	var f *fixture
	f = newFixture(t, constant(3000), func(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
		f.session.Memory().Clear()
		return &model.Proposal{Text: "late reply"}, nil
	})

	reply, err := f.session.Send(ctx, "300 K, 1%")
	gt.NoError(t, err)
	gt.Equal(t, reply.Text, "late reply")
	gt.Equal(t, f.session.Memory().Len(), 0)
}

func TestSendUnknownTool(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, constant(3000), func(ctx context.Context, input *model.PlanInput) (*model.Proposal, error) {
		if len(input.Exchanges) == 0 {
			return &model.Proposal{Calls: []*model.ToolCall{{Name: "web_search"}}}, nil
		}
		return &model.Proposal{Text: "no such tool"}, nil
	})

	reply, err := f.session.Send(ctx, "search")
	gt.NoError(t, err)
	gt.Equal(t, tool.ErrorKind(reply.Exchanges[0].Response), tool.KindToolFailure)
	gt.NotEqual(t, reply.Exchanges[0].Call.ID, "")
}

func TestInstructionsMentionDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, constant(3000), scriptedPlanner)

	_, err := f.session.Send(ctx, "hello")
	gt.NoError(t, err)
	instructions := f.planner.inputs[0].Instructions
	gt.S(t, instructions).Contains("10")
	gt.S(t, instructions).Contains("6000")
	gt.S(t, instructions).Contains(predict.Name)
}
