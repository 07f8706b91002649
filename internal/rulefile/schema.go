package rulefile

import (
	"github.com/hashicorp/hcl/v2"
)

// ruleBlock is the skeleton of a `rule "kind" "name" { ... }` block. The
// body is decoded later by the command registered for the kind label.
type ruleBlock struct {
	Kind string   `hcl:"kind,label"`
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

// fileConfig is the top-level structure of one rule file.
type fileConfig struct {
	Rules []*ruleBlock `hcl:"rule,block"`
	Body  hcl.Body     `hcl:",remain"`
}

// catArgs is the body of a cat rule.
type catArgs struct {
	Inputs    []string `hcl:"inputs"`
	Output    string   `hcl:"output"`
	Separator string   `hcl:"separator,optional"`
	Transform string   `hcl:"transform,optional"`
}

// copyArgs is the body of a copy rule.
type copyArgs struct {
	Inputs    []string `hcl:"inputs"`
	OutputDir string   `hcl:"output_dir"`
}

// templateArgs is the body of a template rule.
type templateArgs struct {
	Inputs []string `hcl:"inputs"`
	Output string   `hcl:"output"`
}

// execArgs is the body of an exec rule. Env stays an expression so the
// registry can evaluate it into typed values.
type execArgs struct {
	Inputs  []string       `hcl:"inputs,optional"`
	Outputs []string       `hcl:"outputs"`
	Command []string       `hcl:"command"`
	Env     hcl.Expression `hcl:"env,optional"`
}
