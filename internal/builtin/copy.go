package builtin

import (
	"context"
	"fmt"

	"github.com/vk/quern/internal/rule"
)

const copyVersion = "1"

// Copy returns the single-file copy function. The rule front end expands
// a copy rule into one production per input, so the function always sees
// exactly one input and one output.
func Copy() *rule.Function {
	return rule.NewFunction("copy", "copy", copyVersion, nil, rule.ImplFunc(copyFile))
}

func copyFile(_ context.Context, io rule.IO, inputs, outputs []string) error {
	if len(inputs) != 1 || len(outputs) != 1 {
		return fmt.Errorf("copy: want one input and one output, got %d and %d", len(inputs), len(outputs))
	}
	data, err := io.ReadFile(inputs[0])
	if err != nil {
		return err
	}
	return io.WriteFile(outputs[0], data)
}
