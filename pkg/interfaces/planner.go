package interfaces

import (
	"context"

	"github.com/m-mizutani/kappa/pkg/model"
)

// Planner decides, from the conversation so far, which tools to call next or
// what to reply. Failures to reach the language model are reported as
// model.ErrUpstreamUnavailable.
type Planner interface {
	Propose(ctx context.Context, input *model.PlanInput) (*model.Proposal, error)
}
