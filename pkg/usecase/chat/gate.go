package chat

import (
	"strconv"

	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/tool"
	"github.com/m-mizutani/kappa/pkg/tool/physics"
	"github.com/m-mizutani/kappa/pkg/tool/predict"
)

// physicsGate tracks, within one turn, which parameter sets produced an
// anomalous ML prediction and which physics estimates already ran. The
// physics tool may only run for an anomalous parameter set, and at most once
// per set.
type physicsGate struct {
	anomalous map[string]bool
	results   map[string]map[string]any
}

func newPhysicsGate() *physicsGate {
	return &physicsGate{
		anomalous: make(map[string]bool),
		results:   make(map[string]map[string]any),
	}
}

// gateKey identifies a parameter set by temperature and defect ratio, the
// only inputs of the physics estimate
func gateKey(args map[string]any) (string, bool) {
	temperature, err := tool.RequiredNumber(args, "temperature_k")
	if err != nil {
		return "", false
	}
	defect, err := tool.RequiredNumber(args, "defect_ratio")
	if err != nil {
		return "", false
	}
	return strconv.FormatFloat(temperature, 'g', -1, 64) + "|" + strconv.FormatFloat(defect, 'g', -1, 64), true
}

// observe records an ML prediction. It returns true when the result is
// anomalous and no physics estimate exists yet for the same parameters.
func (g *physicsGate) observe(args map[string]any, resp map[string]any) bool {
	result, ok := model.ResultFromResponse(resp)
	if !ok || !result.IsAnomalous {
		return false
	}
	key, ok := gateKey(args)
	if !ok {
		return false
	}
	g.anomalous[key] = true
	_, done := g.results[key]
	return !done
}

// admit decides a physics call requested by the planner. It returns the
// recorded response for a repeated call, a refusal when no anomalous
// prediction matches, or nil when the call may run.
func (g *physicsGate) admit(args map[string]any) map[string]any {
	key, ok := gateKey(args)
	if !ok || !g.anomalous[key] {
		return map[string]any{
			"error": physics.Name + " is only available after an anomalous " + predict.Name + " with the same temperature_k and defect_ratio in this turn",
			"kind":  tool.KindRefused,
		}
	}
	if recorded, ok := g.results[key]; ok {
		return recorded
	}
	return nil
}

func (g *physicsGate) record(args map[string]any, resp map[string]any) {
	if key, ok := gateKey(args); ok {
		g.results[key] = resp
	}
}
