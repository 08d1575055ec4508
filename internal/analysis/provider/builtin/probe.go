package builtin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/stagegate/stagegate/api/v1alpha1"
	"github.com/stagegate/stagegate/internal/analysis/provider"
	"github.com/stagegate/stagegate/internal/expressions"
)

// probeProvider measures a Metric by issuing a synthetic HTTP request and
// inspecting the response status and latency.
type probeProvider struct {
	client *http.Client
}

func newProbeProvider() provider.Provider {
	return &probeProvider{
		client: cleanhttp.DefaultClient(),
	}
}

func (p *probeProvider) Name() string {
	return "probe"
}

func (p *probeProvider) Invoke(
	ctx context.Context,
	metric *v1alpha1.Metric,
	invocation *provider.Invocation,
) v1alpha1.MetricResult {
	spec := metric.Provider.Probe
	if spec == nil {
		return provider.ErrorResult("no probe provider spec")
	}

	url, err := expressions.ExpandTemplate(spec.URL, invocation.Args)
	if err != nil {
		return provider.ErrorResult(fmt.Sprintf("expand url: %s", err))
	}

	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	if invocation.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, invocation.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return provider.ErrorResult(fmt.Sprintf("build request: %s", err))
	}
	for key, value := range spec.Headers {
		req.Header.Set(key, value)
	}
	for key, ref := range spec.CredentialHeaders {
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
		req.Header.Set(key, creds.Reveal())
	}
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
		// The resolved value is attached to the live request only; the spec
		// and the recorded result carry the reference name alone.
		req.Header.Set("Authorization", "Bearer "+creds.Reveal())
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return provider.ErrorResult(fmt.Sprintf("probe %s: %s", url, err))
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	expect := spec.ExpectStatus
	if expect == 0 {
		expect = http.StatusOK
	}

	measurement := v1alpha1.MetricResult{
		Timestamp: time.Now(),
		Value:     fmt.Sprintf("%d in %s", resp.StatusCode, latency.Round(time.Millisecond)),
	}
	switch {
	case resp.StatusCode != expect:
		measurement.Verdict = v1alpha1.MetricVerdictFailed
		measurement.Message = fmt.Sprintf(
			"got status %d; expected %d", resp.StatusCode, expect,
		)
	case spec.MaxLatency > 0 && latency > time.Duration(spec.MaxLatency):
		measurement.Verdict = v1alpha1.MetricVerdictFailed
		measurement.Message = fmt.Sprintf(
			"latency %s exceeded limit %s",
			latency.Round(time.Millisecond),
			spec.MaxLatency,
		)
	default:
		measurement.Verdict = v1alpha1.MetricVerdictSuccessful
	}
	return measurement
}
