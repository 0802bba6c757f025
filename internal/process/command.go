package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Command is one external program invocation
type Command struct {
	Path string
	Args []string
	Env  []string // appended to the current environment
}

// ParseCommand splits a configured command line such as "gzip -c -1"
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("command is required")
	}
	return Command{Path: fields[0], Args: fields[1:]}, nil
}

// WithArgs returns a copy with extra arguments appended
func (c Command) WithArgs(args ...string) Command {
	c.Args = append(append([]string(nil), c.Args...), args...)
	return c
}

// WithEnv returns a copy with extra KEY=value environment entries
func (c Command) WithEnv(env ...string) Command {
	c.Env = append(append([]string(nil), c.Env...), env...)
	return c
}

// String renders the command line for logs
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

func (c Command) build(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd
}

// exitCode extracts the exit status of a finished command.
// Signals and wait failures report -1.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
