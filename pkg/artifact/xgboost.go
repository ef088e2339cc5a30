package artifact

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
)

// Model is a trained regressor taking a dense feature vector
type Model interface {
	Predict(features []float64) (float64, error)
	NumFeatures() int
	// FeatureNames returns the names embedded at training time, or nil
	FeatureNames() []string
}

type objective int

const (
	objectiveIdentity objective = iota
	objectiveSigmoid
	objectiveExp
)

var objectives = map[string]objective{
	"reg:squarederror":     objectiveIdentity,
	"reg:linear":           objectiveIdentity,
	"reg:absoluteerror":    objectiveIdentity,
	"reg:pseudohubererror": objectiveIdentity,
	"reg:quantileerror":    objectiveIdentity,
	"reg:squaredlogerror":  objectiveIdentity,
	"reg:logistic":         objectiveSigmoid,
	"binary:logistic":      objectiveSigmoid,
	"count:poisson":        objectiveExp,
	"reg:gamma":            objectiveExp,
	"reg:tweedie":          objectiveExp,
}

// xgbDocument mirrors the subset of XGBoost's save_model JSON we evaluate
type xgbDocument struct {
	Learner struct {
		FeatureNames      []string `json:"feature_names"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees []xgbTree `json:"trees"`
			} `json:"model"`
		} `json:"gradient_booster"`
	} `json:"learner"`
}

type xgbTree struct {
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     flags     `json:"default_left"`
	SplitType       []int     `json:"split_type"`
}

// flags accepts both the integer and boolean encodings of default_left
type flags []bool

func (f *flags) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make([]bool, len(raw))
	for i, v := range raw {
		switch strings.TrimSpace(string(v)) {
		case "1", "true":
			out[i] = true
		case "0", "false":
			out[i] = false
		default:
			return goerr.New("unexpected default_left value", goerr.V("value", string(v)))
		}
	}
	*f = out
	return nil
}

// XGBoost evaluates a gbtree ensemble saved in XGBoost's JSON format
type XGBoost struct {
	trees        []xgbTree
	baseMargin   float64
	objective    objective
	numFeatures  int
	featureNames []string
}

var _ Model = (*XGBoost)(nil)

// ParseXGBoost decodes and checks a JSON model. Any structural problem is
// reported as model.ErrResourceCorrupt.
func ParseXGBoost(data []byte) (*XGBoost, error) {
	var doc xgbDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, goerr.Wrap(model.ErrResourceCorrupt, "model is not valid XGBoost JSON", goerr.V("error", err.Error()))
	}
	learner := doc.Learner

	if learner.GradientBooster.Name != "gbtree" {
		return nil, goerr.Wrap(model.ErrResourceCorrupt, "unsupported booster", goerr.V("booster", learner.GradientBooster.Name))
	}

	obj, ok := objectives[learner.Objective.Name]
	if !ok {
		return nil, goerr.Wrap(model.ErrResourceCorrupt, "unsupported objective", goerr.V("objective", learner.Objective.Name))
	}

	baseScore, err := parseBaseScore(learner.LearnerModelParam.BaseScore)
	if err != nil {
		return nil, err
	}

	numFeatures := len(learner.FeatureNames)
	if s := learner.LearnerModelParam.NumFeature; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, goerr.Wrap(model.ErrResourceCorrupt, "invalid num_feature", goerr.V("num_feature", s))
		}
		numFeatures = n
	}

	m := &XGBoost{
		trees:        learner.GradientBooster.Model.Trees,
		objective:    obj,
		numFeatures:  numFeatures,
		featureNames: learner.FeatureNames,
	}

	switch obj {
	case objectiveSigmoid:
		if baseScore <= 0 || baseScore >= 1 {
			return nil, goerr.Wrap(model.ErrResourceCorrupt, "base_score out of range for logistic objective", goerr.V("base_score", baseScore))
		}
		m.baseMargin = math.Log(baseScore / (1 - baseScore))
	case objectiveExp:
		if baseScore <= 0 {
			return nil, goerr.Wrap(model.ErrResourceCorrupt, "base_score must be positive", goerr.V("base_score", baseScore))
		}
		m.baseMargin = math.Log(baseScore)
	default:
		m.baseMargin = baseScore
	}

	for i, tree := range m.trees {
		if err := tree.check(numFeatures); err != nil {
			return nil, goerr.Wrap(err, "invalid tree", goerr.V("tree", i))
		}
	}

	return m, nil
}

// parseBaseScore handles "5E-1" as well as the bracketed "[5E-1]" written by
// newer XGBoost releases
func parseBaseScore(s string) (float64, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "["), "]"))
	if trimmed == "" {
		return 0.5, nil
	}
	if i := strings.IndexByte(trimmed, ','); i >= 0 {
		return 0, goerr.Wrap(model.ErrResourceCorrupt, "multi-target base_score is not supported", goerr.V("base_score", s))
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, goerr.Wrap(model.ErrResourceCorrupt, "invalid base_score", goerr.V("base_score", s))
	}
	return v, nil
}

func (t *xgbTree) check(numFeatures int) error {
	n := len(t.LeftChildren)
	if n == 0 {
		return goerr.Wrap(model.ErrResourceCorrupt, "empty tree")
	}
	if len(t.RightChildren) != n || len(t.SplitIndices) != n || len(t.SplitConditions) != n {
		return goerr.Wrap(model.ErrResourceCorrupt, "tree arrays have inconsistent length")
	}
	if len(t.DefaultLeft) != 0 && len(t.DefaultLeft) != n {
		return goerr.Wrap(model.ErrResourceCorrupt, "default_left has inconsistent length")
	}

	for i := 0; i < n; i++ {
		if len(t.SplitType) > i && t.SplitType[i] != 0 {
			return goerr.Wrap(model.ErrResourceCorrupt, "categorical splits are not supported", goerr.V("node", i))
		}
		l, r := t.LeftChildren[i], t.RightChildren[i]
		if l == -1 {
			continue
		}
		// children are stored after their parent, which also rules out cycles
		if l <= i || l >= n || r <= i || r >= n {
			return goerr.Wrap(model.ErrResourceCorrupt, "child index out of range", goerr.V("node", i))
		}
		if idx := t.SplitIndices[i]; idx < 0 || idx >= numFeatures {
			return goerr.Wrap(model.ErrResourceCorrupt, "split feature out of range", goerr.V("node", i), goerr.V("feature", idx))
		}
	}
	return nil
}

func (t *xgbTree) leaf(features []float64) float64 {
	node := 0
	for t.LeftChildren[node] != -1 {
		x := features[t.SplitIndices[node]]
		switch {
		case math.IsNaN(x):
			if len(t.DefaultLeft) > 0 && t.DefaultLeft[node] {
				node = t.LeftChildren[node]
			} else {
				node = t.RightChildren[node]
			}
		case x < t.SplitConditions[node]:
			node = t.LeftChildren[node]
		default:
			node = t.RightChildren[node]
		}
	}
	return t.SplitConditions[node]
}

// Predict sums the leaf values of every tree over the base margin and applies
// the objective's link function
func (m *XGBoost) Predict(features []float64) (float64, error) {
	if len(features) != m.numFeatures {
		return 0, goerr.Wrap(model.ErrInvalidInput, "feature vector length mismatch",
			goerr.V("expected", m.numFeatures), goerr.V("actual", len(features)))
	}

	margin := m.baseMargin
	for i := range m.trees {
		margin += m.trees[i].leaf(features)
	}

	switch m.objective {
	case objectiveSigmoid:
		return 1 / (1 + math.Exp(-margin)), nil
	case objectiveExp:
		return math.Exp(margin), nil
	default:
		return margin, nil
	}
}

func (m *XGBoost) NumFeatures() int {
	return m.numFeatures
}

func (m *XGBoost) FeatureNames() []string {
	return m.featureNames
}
