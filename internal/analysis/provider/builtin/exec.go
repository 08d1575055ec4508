package builtin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/analysis/provider"
)

// execProvider measures a Metric by running an isolated check command and
// interpreting its exit code: zero is a pass, non-zero is a fail, and a
// timeout is an error. Credentials are injected as environment bindings of
// the command, never as arguments, so they cannot appear in the spec or in
// process listings.
type execProvider struct{}

func newExecProvider() provider.Provider {
	return &execProvider{}
}

func (e *execProvider) Name() string {
	return "exec"
}

func (e *execProvider) Invoke(
	ctx context.Context,
	metric *v1alpha1.Metric,
	invocation *provider.Invocation,
) v1alpha1.MetricResult {
	spec := metric.Provider.Exec
	if spec == nil {
		return provider.ErrorResult("no exec provider spec")
	}

	timeout := invocation.Timeout
	if d := time.Duration(spec.Timeout); d > 0 {
		timeout = d
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
	}
	for key, value := range spec.Env {
		env = append(env, key+"="+value)
	}
	secrets := make([]string, 0, len(spec.CredentialEnv))
	for key, ref := range spec.CredentialEnv {
		creds, found, err := invocation.CredentialsDB.Get(ctx, ref.Name)
		if err != nil {
			return provider.ErrorResult(
				fmt.Sprintf("resolve credential %q: %s", ref.Name, err),
			)
		}
		if !found {
			return provider.ErrorResult(
				fmt.Sprintf("credential %q not found", ref.Name),
			)
		}
		env = append(env, key+"="+creds.Reveal())
		secrets = append(secrets, creds.Reveal())
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...) // nolint: gosec
	cmd.Env = env
	output := &bytes.Buffer{}
	cmd.Stdout = output
	cmd.Stderr = output

	err := cmd.Run()

	measurement := v1alpha1.MetricResult{Timestamp: time.Now()}
	switch {
	case ctx.Err() != nil:
		measurement.Verdict = v1alpha1.MetricVerdictError
		measurement.Message = fmt.Sprintf(
			"check command timed out after %s", timeout,
		)
	case err == nil:
		measurement.Verdict = v1alpha1.MetricVerdictSuccessful
		measurement.Value = "exit 0"
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			measurement.Verdict = v1alpha1.MetricVerdictFailed
			measurement.Value = fmt.Sprintf("exit %d", exitErr.ExitCode())
			measurement.Message = scrub(tail(output.String()), secrets)
		} else {
			measurement.Verdict = v1alpha1.MetricVerdictError
			measurement.Message = fmt.Sprintf("run check command: %s", err)
		}
	}
	return measurement
}

const maxOutputTail = 1024

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputTail {
		s = s[len(s)-maxOutputTail:]
	}
	return s
}

// scrub removes any occurrence of resolved secret values from recorded
// command output. A check that echoes its own credentials must not cause
// them to be persisted in a MetricResult.
func scrub(s string, secrets []string) string {
	for _, secret := range secrets {
		if secret != "" {
			s = strings.ReplaceAll(s, secret, "*****")
		}
	}
	return s
}
