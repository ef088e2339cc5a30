package policy

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

//go:embed rego/validate.rego
var basePolicy string

const query = "data.validate.deny"

// regoPrintHook forwards Rego print() output to the debug log
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.Component(h.ctx, "policy").Debug("rego print", "message", message)
	return nil
}

// Validator checks prediction requests against the built-in Rego rules and
// any extra rules from a policy directory. Extra files must declare
// `package validate` and add to the `deny` set.
type Validator struct {
	query rego.PreparedEvalQuery
}

type Option func(*validatorConfig)

type validatorConfig struct {
	policyDir string
}

// WithPolicyDir loads every *.rego file in dir in addition to the built-in rules
func WithPolicyDir(dir string) Option {
	return func(c *validatorConfig) {
		c.policyDir = dir
	}
}

func New(ctx context.Context, opts ...Option) (*Validator, error) {
	var cfg validatorConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	options := []func(*rego.Rego){
		rego.Query(query),
		rego.Module("validate.rego", basePolicy),
		rego.EnablePrintStatements(true),
	}

	if cfg.policyDir != "" {
		files, err := filepath.Glob(filepath.Join(cfg.policyDir, "*.rego"))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", cfg.policyDir))
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
			}
			options = append(options, rego.Module(file, string(data)))
		}
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.V("query", query))
	}

	return &Validator{query: prepared}, nil
}

// Validate returns an error wrapping model.ErrInvalidInput when the request
// violates any rule
func (v *Validator) Validate(ctx context.Context, req *model.PredictionRequest) error {
	if err := req.CheckFinite(); err != nil {
		return err
	}

	rs, err := v.query.Eval(ctx, rego.EvalInput(req.Input()), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return goerr.Wrap(err, "failed to evaluate validation policy")
	}

	violations := denyMessages(rs)
	if len(violations) == 0 {
		return nil
	}

	return goerr.Wrap(model.ErrInvalidInput, strings.Join(violations, "; "), goerr.V("violations", violations))
}

func denyMessages(rs rego.ResultSet) []string {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}

	set, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return nil
	}

	msgs := make([]string, 0, len(set))
	for _, v := range set {
		if s, ok := v.(string); ok {
			msgs = append(msgs, s)
		}
	}
	sort.Strings(msgs)
	return msgs
}
