package builtin

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"

	"github.com/vk/quern/internal/rule"
)

const catVersion = "1"

// Transforms accepted by Cat.
const (
	TransformNone  = ""
	TransformUpper = "upper"
	TransformGzip  = "gzip"
)

// CatOptions adjust how inputs are joined. The zero value is plain
// concatenation.
type CatOptions struct {
	// Separator is inserted between consecutive inputs.
	Separator string
	// Transform is applied to the joined result.
	Transform string
}

// Cat returns the concatenation function: inputs are joined in declared
// order, transformed, and written to the single output.
func Cat(opts CatOptions) (*rule.Function, error) {
	switch opts.Transform {
	case TransformNone, TransformUpper, TransformGzip:
	default:
		return nil, fmt.Errorf("cat: unknown transform %q", opts.Transform)
	}
	return rule.NewFunction("cat", "cat", catVersion,
		[]string{"separator=" + opts.Separator, "transform=" + opts.Transform},
		catImpl{opts: opts}), nil
}

type catImpl struct {
	opts CatOptions
}

func (c catImpl) Execute(_ context.Context, io rule.IO, inputs, outputs []string) error {
	if len(outputs) != 1 {
		return fmt.Errorf("cat: want exactly one output, got %d", len(outputs))
	}

	var buf bytes.Buffer
	for i, in := range inputs {
		if i > 0 {
			buf.WriteString(c.opts.Separator)
		}
		data, err := io.ReadFile(in)
		if err != nil {
			return err
		}
		buf.Write(data)
	}

	out := buf.Bytes()
	switch c.opts.Transform {
	case TransformUpper:
		out = bytes.ToUpper(out)
	case TransformGzip:
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(out); err != nil {
			return fmt.Errorf("cat: compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("cat: compress: %w", err)
		}
		out = zbuf.Bytes()
	}
	return io.WriteFile(outputs[0], out)
}
