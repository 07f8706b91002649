package builtin

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/vk/quern/internal/rule"
)

const templateVersion = "1"

var includePattern = regexp.MustCompile(`^\s*#include\s+"([^"]+)"\s*$`)

// Template returns the include-expansion function. The single input is
// copied to the single output with every line of the form
//
//	#include "relative/path"
//
// replaced by the referenced file's content, recursively. Include paths
// resolve against the directory of the file containing the directive, and
// every included file is read through the invocation IO, which is what
// makes the engine track it as a dependency.
func Template() *rule.Function {
	return rule.NewFunction("template", "template", templateVersion, nil,
		rule.ImplFunc(expandTemplate))
}

func expandTemplate(_ context.Context, io rule.IO, inputs, outputs []string) error {
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("template: want one input and one output, got %d and %d", len(inputs), len(outputs))
	}
	out, err := expandFile(io, path.Clean(inputs[0]), nil)
	if err != nil {
		return err
	}
	return io.WriteFile(outputs[0], out)
}

func expandFile(io rule.IO, p string, stack []string) ([]byte, error) {
	for _, seen := range stack {
		if seen == p {
			return nil, fmt.Errorf("template: include cycle: %s", strings.Join(append(stack, p), " -> "))
		}
	}
	data, err := io.ReadFile(p)
	if err != nil {
		return nil, err
	}
	stack = append(stack, p)

	var buf bytes.Buffer
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if m := includePattern.FindStringSubmatch(line); m != nil {
			sub, err := expandFile(io, path.Join(path.Dir(p), m[1]), stack)
			if err != nil {
				return nil, err
			}
			// The directive's own line break is re-added below.
			buf.Write(bytes.TrimSuffix(sub, []byte("\n")))
		} else {
			buf.WriteString(line)
		}
		if i < len(lines)-1 {
			buf.WriteString("\n")
		}
	}
	return buf.Bytes(), nil
}
