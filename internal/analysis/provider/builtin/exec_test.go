package builtin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/analysis/provider"
	"github.com/stagegate/stagegate/internal/credentials"
)

func execMetric(spec *v1alpha1.ExecProviderSpec) *v1alpha1.Metric {
	return &v1alpha1.Metric{
		Name:     "smoke-test",
		Provider: v1alpha1.ProviderSpec{Exec: spec},
	}
}

func TestExecProvider_Invoke(t *testing.T) {
	e := newExecProvider()

	t.Run("zero exit is a pass", func(t *testing.T) {
		result := e.Invoke(
			context.Background(),
			execMetric(&v1alpha1.ExecProviderSpec{Command: "true"}),
			&provider.Invocation{},
		)
		require.Equal(t, v1alpha1.MetricVerdictSuccessful, result.Verdict)
		require.Equal(t, "exit 0", result.Value)
	})

	t.Run("non-zero exit is a fail", func(t *testing.T) {
		result := e.Invoke(
			context.Background(),
			execMetric(&v1alpha1.ExecProviderSpec{Command: "false"}),
			&provider.Invocation{},
		)
		require.Equal(t, v1alpha1.MetricVerdictFailed, result.Verdict)
		require.Equal(t, "exit 1", result.Value)
	})

	t.Run("timeout is an error", func(t *testing.T) {
		result := e.Invoke(
			context.Background(),
			execMetric(&v1alpha1.ExecProviderSpec{
				Command: "sleep",
				Args:    []string{"10"},
				Timeout: v1alpha1.Duration(25 * time.Millisecond),
			}),
			&provider.Invocation{},
		)
		require.Equal(t, v1alpha1.MetricVerdictError, result.Verdict)
		require.Contains(t, result.Message, "timed out")
	})

	t.Run("missing command is an error", func(t *testing.T) {
		result := e.Invoke(
			context.Background(),
			execMetric(&v1alpha1.ExecProviderSpec{Command: "no-such-binary-xyz"}),
			&provider.Invocation{},
		)
		require.Equal(t, v1alpha1.MetricVerdictError, result.Verdict)
	})

	t.Run("credentials injected as environment bindings", func(t *testing.T) {
		result := e.Invoke(
			context.Background(),
			execMetric(&v1alpha1.ExecProviderSpec{
				Command: "sh",
				Args:    []string{"-c", `test "$API_TOKEN" = "tok789"`},
				CredentialEnv: map[string]v1alpha1.CredentialRef{
					"API_TOKEN": {Name: "api-token"},
				},
			}),
			&provider.Invocation{
				CredentialsDB: credentials.StaticDatabase{"api-token": "tok789"},
			},
		)
		require.Equal(t, v1alpha1.MetricVerdictSuccessful, result.Verdict)
	})

	t.Run("echoed credentials are scrubbed from recorded output", func(t *testing.T) {
		result := e.Invoke(
			context.Background(),
			execMetric(&v1alpha1.ExecProviderSpec{
				Command: "sh",
				Args:    []string{"-c", `echo "leaked: $API_TOKEN"; exit 1`},
				CredentialEnv: map[string]v1alpha1.CredentialRef{
					"API_TOKEN": {Name: "api-token"},
				},
			}),
			&provider.Invocation{
				CredentialsDB: credentials.StaticDatabase{"api-token": "tok789"},
			},
		)
		require.Equal(t, v1alpha1.MetricVerdictFailed, result.Verdict)
		require.NotContains(t, result.Message, "tok789")
		require.Contains(t, result.Message, "leaked")
	})

	t.Run("credential not found", func(t *testing.T) {
		result := e.Invoke(
			context.Background(),
			execMetric(&v1alpha1.ExecProviderSpec{
				Command: "true",
				CredentialEnv: map[string]v1alpha1.CredentialRef{
					"API_TOKEN": {Name: "missing"},
				},
			}),
			&provider.Invocation{
				CredentialsDB: credentials.StaticDatabase{},
			},
		)
		require.Equal(t, v1alpha1.MetricVerdictError, result.Verdict)
	})
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry(Config{})
	for _, kind := range []string{"query", "probe", "exec"} {
		require.NotNil(t, registry.Get(kind), "expected builtin provider %q", kind)
	}
	require.Nil(t, registry.Get("job"))
}
