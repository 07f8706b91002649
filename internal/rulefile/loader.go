package rulefile

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/quern/internal/ctxlog"
	"github.com/vk/quern/internal/fsutil"
	"github.com/vk/quern/internal/rule"
)

// RuleFileExt is the extension rule files are discovered by.
const RuleFileExt = ".hcl"

// Load reads every rule file under rulesPath and expands the declared
// rules into productions, indexed in declaration order. rulesPath may be
// a single file or a directory searched recursively; root is the
// workspace directory glob inputs resolve against.
func Load(ctx context.Context, rulesPath, root string) ([]rule.Production, error) {
	logger := ctxlog.FromContext(ctx)

	files, err := fsutil.FindFilesByExtension(rulesPath, RuleFileExt)
	if err != nil {
		return nil, fmt.Errorf("discover rule files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s rule files under %s", RuleFileExt, rulesPath)
	}
	sort.Strings(files)

	parser := hclparse.NewParser()
	var decls []declaration
	declaredAt := make(map[string]hcl.Range)
	for _, f := range files {
		logger.Debug("Decoding rule file.", "path", f)
		file, diags := parser.ParseHCLFile(f)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse rule file %s: %s", f, diags.Error())
		}
		var cfg fileConfig
		if diags := gohcl.DecodeBody(file.Body, nil, &cfg); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode rule file %s: %s", f, diags.Error())
		}
		for _, block := range cfg.Rules {
			rng := block.Body.MissingItemRange()
			dec, ok := commands[block.Kind]
			if !ok {
				return nil, fmt.Errorf("%s: unknown rule kind %q", rng, block.Kind)
			}
			if first, dup := declaredAt[block.Name]; dup {
				return nil, fmt.Errorf("%s: duplicate rule name %q, first declared at %s", rng, block.Name, first)
			}
			declaredAt[block.Name] = rng
			d, err := dec(block.Name, block.Body)
			if err != nil {
				return nil, err
			}
			decls = append(decls, d)
		}
	}

	// A rule's globs may match the declared outputs of earlier rules, so
	// generated files are consumable before they exist on disk.
	ex := &expander{root: root, pending: make(map[string]bool)}

	var prods []rule.Production
	for _, d := range decls {
		ps, err := d.produce(ex)
		if err != nil {
			return nil, err
		}
		prods = append(prods, ps...)
		for _, p := range ps {
			for _, o := range p.Outputs {
				ex.pending[o] = true
			}
		}
	}
	for i := range prods {
		prods[i].DeclIndex = i
	}

	logger.Debug("Rule files loaded.",
		"files", len(files), "rules", len(decls), "productions", len(prods))
	return prods, nil
}
