// Package procutil runs the external CLI tools the language-registry
// targets shell out to (npm, twine, cargo, gem, mix, dotnet, git, ...),
// capturing stderr for idempotence-pattern matching and wrapping the whole
// invocation in the shared subprocess retry envelope (spec §4.4).
package procutil

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"

	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/logger"
	"github.com/getsentry/craft/pkg/retry"
	"github.com/getsentry/craft/pkg/stringutil"
)

var log = logger.New("procutil")

// Result is one subprocess invocation's outcome.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes name with args in dir (the process's current directory if
// empty), with env appended to the current environment (as "K=V" pairs),
// streaming nothing but capturing stdout/stderr in full. It does not
// interpret the exit code; callers decide success via Result and err.
func Run(ctx context.Context, dir string, env []string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("run %s %v (dir=%s)", name, args, dir)
	err := cmd.Run()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
	}
	return res, err
}

// RunRetrying invokes name/args under policy (callers normally pass
// retry.SpawnProcess, spec §4.4's 5-retry/3s/×2 envelope; tests pass a
// faster policy), treating a non-zero exit as retryable unless idempotent
// matches the captured stderr, in which case the invocation is treated as a
// success. stats may be nil.
func RunRetrying(ctx context.Context, policy retry.Policy, stats *retry.Stats, idempotent *regexp.Regexp, dir string, env []string, name string, args ...string) (Result, error) {
	var last Result
	err := policy.Execute(ctx, stats, func() error {
		res, runErr := Run(ctx, dir, env, name, args...)
		last = res
		if runErr == nil {
			return nil
		}
		if idempotent != nil && idempotent.MatchString(res.Stderr) {
			log.Printf("%s exited non-zero but stderr matched the idempotence pattern, treating as success", name)
			return nil
		}
		msg := name + " invocation failed"
		if res.Stderr != "" {
			msg += ": " + stringutil.Truncate(stringutil.SanitizeErrorMessage(res.Stderr), 500)
		}
		return errs.Wrap(errs.Transient, msg, runErr)
	}, nil)
	if err != nil {
		return last, err
	}
	return last, nil
}
