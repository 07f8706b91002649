package rulefile

import (
	"fmt"
	"path"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/quern/internal/builtin"
	"github.com/vk/quern/internal/fsutil"
	"github.com/vk/quern/internal/rule"
)

// A declaration is one decoded rule block, not yet expanded against the
// workspace. produce resolves its input patterns and returns the concrete
// productions; the loader feeds every produced output back into the
// expander so later rules' globs can match it.
type declaration interface {
	produce(ex *expander) ([]rule.Production, error)
}

// decoder turns a rule block's body into a declaration.
type decoder func(name string, body hcl.Body) (declaration, error)

// commands maps the kind label of a rule block to its decoder.
var commands = map[string]decoder{
	"cat":      decodeCat,
	"copy":     decodeCopy,
	"template": decodeTemplate,
	"exec":     decodeExec,
}

type catDecl struct {
	name   string
	inputs []string
	output string
	fn     *rule.Function
}

func decodeCat(name string, body hcl.Body) (declaration, error) {
	var args catArgs
	if diags := gohcl.DecodeBody(body, nil, &args); diags.HasErrors() {
		return nil, fmt.Errorf("rule %q: %s", name, diags.Error())
	}
	fn, err := builtin.Cat(builtin.CatOptions{Separator: args.Separator, Transform: args.Transform})
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", name, err)
	}
	out, err := outputPath(name, args.Output)
	if err != nil {
		return nil, err
	}
	return &catDecl{name: name, inputs: args.Inputs, output: out, fn: fn}, nil
}

func (d *catDecl) produce(ex *expander) ([]rule.Production, error) {
	ins, err := ex.expand(d.inputs, map[string]bool{d.output: true})
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", d.name, err)
	}
	return []rule.Production{{
		RuleName: d.name,
		Fn:       d.fn,
		Inputs:   ins,
		Outputs:  []string{d.output},
	}}, nil
}

type copyDecl struct {
	name   string
	inputs []string
	outDir string
	fn     *rule.Function
}

func decodeCopy(name string, body hcl.Body) (declaration, error) {
	var args copyArgs
	if diags := gohcl.DecodeBody(body, nil, &args); diags.HasErrors() {
		return nil, fmt.Errorf("rule %q: %s", name, diags.Error())
	}
	dir, err := fsutil.CleanRel(args.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("rule %q: output_dir: %w", name, err)
	}
	return &copyDecl{name: name, inputs: args.Inputs, outDir: dir, fn: builtin.Copy()}, nil
}

// produce expands a copy rule into one production per matched input, each
// writing the input's base name into the output directory.
func (d *copyDecl) produce(ex *expander) ([]rule.Production, error) {
	ins, err := ex.expand(d.inputs, nil)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", d.name, err)
	}
	prods := make([]rule.Production, 0, len(ins))
	for _, in := range ins {
		prods = append(prods, rule.Production{
			RuleName: d.name + ":" + path.Base(in),
			Fn:       d.fn,
			Inputs:   []string{in},
			Outputs:  []string{path.Join(d.outDir, path.Base(in))},
		})
	}
	return prods, nil
}

type templateDecl struct {
	name   string
	inputs []string
	output string
	fn     *rule.Function
}

func decodeTemplate(name string, body hcl.Body) (declaration, error) {
	var args templateArgs
	if diags := gohcl.DecodeBody(body, nil, &args); diags.HasErrors() {
		return nil, fmt.Errorf("rule %q: %s", name, diags.Error())
	}
	out, err := outputPath(name, args.Output)
	if err != nil {
		return nil, err
	}
	return &templateDecl{name: name, inputs: args.Inputs, output: out, fn: builtin.Template()}, nil
}

func (d *templateDecl) produce(ex *expander) ([]rule.Production, error) {
	ins, err := ex.expand(d.inputs, map[string]bool{d.output: true})
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", d.name, err)
	}
	if len(ins) != 1 {
		return nil, fmt.Errorf("rule %q: template needs exactly one input, got %d", d.name, len(ins))
	}
	return []rule.Production{{
		RuleName: d.name,
		Fn:       d.fn,
		Inputs:   ins,
		Outputs:  []string{d.output},
	}}, nil
}

type execDecl struct {
	name    string
	inputs  []string
	outputs []string
	fn      *rule.Function
}

func decodeExec(name string, body hcl.Body) (declaration, error) {
	var args execArgs
	if diags := gohcl.DecodeBody(body, nil, &args); diags.HasErrors() {
		return nil, fmt.Errorf("rule %q: %s", name, diags.Error())
	}
	env, err := envPairs(args.Env)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", name, err)
	}
	fn, err := builtin.Exec(args.Command, env)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", name, err)
	}
	outs := make([]string, 0, len(args.Outputs))
	for _, o := range args.Outputs {
		out, err := outputPath(name, o)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("rule %q: exec needs at least one output", name)
	}
	return &execDecl{name: name, inputs: args.Inputs, outputs: outs, fn: fn}, nil
}

func (d *execDecl) produce(ex *expander) ([]rule.Production, error) {
	self := make(map[string]bool, len(d.outputs))
	for _, o := range d.outputs {
		self[o] = true
	}
	ins, err := ex.expand(d.inputs, self)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", d.name, err)
	}
	return []rule.Production{{
		RuleName: d.name,
		Fn:       d.fn,
		Inputs:   ins,
		Outputs:  d.outputs,
	}}, nil
}

// outputPath validates a declared output: workspace-relative, no globs.
func outputPath(ruleName, p string) (string, error) {
	if fsutil.HasMeta(p) {
		return "", fmt.Errorf("rule %q: output %q must not contain glob characters", ruleName, p)
	}
	rel, err := fsutil.CleanRel(p)
	if err != nil {
		return "", fmt.Errorf("rule %q: output: %w", ruleName, err)
	}
	return rel, nil
}

// envPairs evaluates an optional env expression into sorted KEY=VALUE
// strings.
func envPairs(expr hcl.Expression) ([]string, error) {
	if expr == nil {
		return nil, nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("env: %s", diags.Error())
	}
	if v.IsNull() {
		return nil, nil
	}
	v, err := convert.Convert(v, cty.Map(cty.String))
	if err != nil {
		return nil, fmt.Errorf("env must be a map of strings: %w", err)
	}
	var pairs []string
	for it := v.ElementIterator(); it.Next(); {
		k, val := it.Element()
		pairs = append(pairs, k.AsString()+"="+val.AsString())
	}
	sort.Strings(pairs)
	return pairs, nil
}
