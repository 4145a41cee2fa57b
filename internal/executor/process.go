package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/ynab-sync/internal/domain"
)

// inherited from the host so the binary can be located and run
var hostEnv = []string{"PATH", "HOME", "TMPDIR"}

// ProcessRunner runs the packaged executable as a child process. The child
// sees only the function's rendered environment plus a few host variables.
type ProcessRunner struct {
	command string
	args    []string
}

func NewProcessRunner(command string, args ...string) *ProcessRunner {
	return &ProcessRunner{command: command, args: args}
}

func (r *ProcessRunner) Run(ctx context.Context, fn domain.Function, event domain.TriggerEvent) error {
	cmd := exec.CommandContext(ctx, r.command, r.args...)
	cmd.Env = buildEnv(fn, event)
	cmd.WaitDelay = 5 * time.Second

	out := log.With().Str("component", "executor").Str("function", fn.Name).Logger()
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", r.command, err)
	}
	return nil
}

func buildEnv(fn domain.Function, event domain.TriggerEvent) []string {
	env := make([]string, 0, len(fn.Environment)+len(hostEnv)+2)
	for _, key := range hostEnv {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}

	keys := make([]string, 0, len(fn.Environment))
	for k := range fn.Environment {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+fn.Environment[k])
	}

	env = append(env,
		"AWS_LAMBDA_FUNCTION_NAME="+fn.Name,
		"YNABSYNC_EXECUTION_ID="+event.ExecutionID.String(),
	)
	return env
}
