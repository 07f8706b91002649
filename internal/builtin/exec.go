package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vk/quern/internal/rule"
)

const execVersion = "1"

// Command output kept in error messages.
const execOutputLimit = 1024

// rooted is implemented by IO handles backed by a real directory. Exec
// needs one to run the command inside the workspace.
type rooted interface {
	Root() string
}

// Exec returns a function that runs an external command in the workspace
// directory. argv and env are part of the function identity, so changing
// either reruns every rule bound to it. Only the declared inputs count as
// reads; the command's own file traffic is not instrumented.
func Exec(argv, env []string) (*rule.Function, error) {
	if len(argv) == 0 {
		return nil, errors.New("exec: empty command")
	}
	opts := make([]string, 0, len(argv)+len(env))
	for _, a := range argv {
		opts = append(opts, "argv="+a)
	}
	for _, e := range env {
		opts = append(opts, "env="+e)
	}
	return rule.NewFunction("exec:"+argv[0], "exec", execVersion, opts,
		execImpl{argv: argv, env: env}), nil
}

type execImpl struct {
	argv []string
	env  []string
}

func (e execImpl) Execute(ctx context.Context, io rule.IO, inputs, _ []string) error {
	// Touch the declared inputs through the IO so their digests land in
	// the observation, and so a missing input fails before the command
	// runs.
	for _, in := range inputs {
		if _, err := io.ReadFile(in); err != nil {
			return err
		}
	}

	cmd := exec.CommandContext(ctx, e.argv[0], e.argv[1:]...)
	if r, ok := io.(rooted); ok {
		cmd.Dir = r.Root()
	}
	cmd.Env = append(os.Environ(), e.env...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if len(msg) > execOutputLimit {
			msg = "... " + msg[len(msg)-execOutputLimit:]
		}
		if msg != "" {
			return fmt.Errorf("exec %s: %w: %s", e.argv[0], err, msg)
		}
		return fmt.Errorf("exec %s: %w", e.argv[0], err)
	}
	return nil
}
