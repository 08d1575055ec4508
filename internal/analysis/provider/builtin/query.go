package builtin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"go.uber.org/ratelimit"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/analysis/provider"
	"github.com/stagegate/stagegate/internal/expressions"
	"github.com/stagegate/stagegate/internal/logging"
)

// queryProvider measures a Metric by executing a templated query against a
// Prometheus-compatible metrics backend and comparing the scalar result to
// the Metric's success condition.
type queryProvider struct {
	limiter ratelimit.Limiter

	// apiFactory is overridable for testing purposes.
	apiFactory func(
		address string,
		roundTripper http.RoundTripper,
	) (promv1.API, error)
}

func newQueryProvider(backendQPS int) provider.Provider {
	q := &queryProvider{
		limiter: ratelimit.New(backendQPS),
	}
	q.apiFactory = q.newAPI
	return q
}

func (q *queryProvider) Name() string {
	return "query"
}

func (q *queryProvider) newAPI(
	address string,
	roundTripper http.RoundTripper,
) (promv1.API, error) {
	client, err := promapi.NewClient(promapi.Config{
		Address:      address,
		RoundTripper: roundTripper,
	})
	if err != nil {
		return nil, fmt.Errorf("build client for %q: %w", address, err)
	}
	return promv1.NewAPI(client), nil
}

func (q *queryProvider) Invoke(
	ctx context.Context,
	metric *v1alpha1.Metric,
	invocation *provider.Invocation,
) v1alpha1.MetricResult {
	logger := logging.LoggerFromContext(ctx).WithValues(
		"metric", metric.Name,
		"provider", q.Name(),
	)

	spec := metric.Provider.Query
	if spec == nil {
		return provider.ErrorResult("no query provider spec")
	}

	query, err := expressions.ExpandTemplate(spec.Query, invocation.Args)
	if err != nil {
		return provider.ErrorResult(fmt.Sprintf("expand query: %s", err))
	}

	var roundTripper http.RoundTripper = promapi.DefaultRoundTripper
	if spec.CredentialRef != nil {
		creds, found, err := invocation.CredentialsDB.Get(
			ctx,
			spec.CredentialRef.Name,
		)
		if err != nil {
			return provider.ErrorResult(
				fmt.Sprintf("resolve credential %q: %s", spec.CredentialRef.Name, err),
			)
		}
		if !found {
			return provider.ErrorResult(
				fmt.Sprintf("credential %q not found", spec.CredentialRef.Name),
			)
		}
		roundTripper = &bearerRoundTripper{
			token: creds.Reveal(),
			next:  roundTripper,
		}
	}

	api, err := q.apiFactory(spec.Address, roundTripper)
	if err != nil {
		return provider.ErrorResult(err.Error())
	}

	if invocation.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, invocation.Timeout)
		defer cancel()
	}

	q.limiter.Take()

	value, warnings, err := api.Query(ctx, query, time.Now())
	if err != nil {
		return provider.ErrorResult(fmt.Sprintf("query backend: %s", err))
	}
	for _, warning := range warnings {
		logger.Debug("query warning", "warning", warning)
	}

	scalar, result := extractScalar(value)
	if result != nil {
		return *result
	}

	pass, err := expressions.EvaluateCondition(
		spec.SuccessCondition,
		map[string]any{"result": scalar},
	)
	if err != nil {
		return provider.ErrorResult(err.Error())
	}

	measurement := v1alpha1.MetricResult{
		Timestamp: time.Now(),
		Value:     strconv.FormatFloat(scalar, 'f', -1, 64),
	}
	if pass {
		measurement.Verdict = v1alpha1.MetricVerdictSuccessful
	} else {
		measurement.Verdict = v1alpha1.MetricVerdictFailed
		measurement.Message = fmt.Sprintf(
			"condition %q not met by result %s",
			spec.SuccessCondition,
			measurement.Value,
		)
	}
	return measurement
}

// extractScalar reduces a query response to a single scalar. A vector with
// exactly one sample is acceptable; an empty response is an inconclusive
// measurement; anything else is a malformed response.
func extractScalar(value model.Value) (float64, *v1alpha1.MetricResult) {
	switch v := value.(type) {
	case *model.Scalar:
		return float64(v.Value), nil
	case model.Vector:
		switch len(v) {
		case 1:
			return float64(v[0].Value), nil
		case 0:
			result := v1alpha1.MetricResult{
				Timestamp: time.Now(),
				Verdict:   v1alpha1.MetricVerdictInconclusive,
				Message:   "query returned no samples",
			}
			return 0, &result
		default:
			result := provider.ErrorResult(
				fmt.Sprintf("query returned %d samples; expected exactly one", len(v)),
			)
			return 0, &result
		}
	default:
		result := provider.ErrorResult(
			fmt.Sprintf("unexpected query result type %q", value.Type()),
		)
		return 0, &result
	}
}

// bearerRoundTripper attaches a bearer token to outbound requests. The token
// is attached here, at the boundary where the request is actually executed,
// so that resolved secret material never passes through the templating
// layer or any serialized spec.
type bearerRoundTripper struct {
	token string
	next  http.RoundTripper
}

func (b *bearerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(cloned)
}
