package v1alpha1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalRollout(t *testing.T) {
	testCases := []struct {
		name       string
		manifest   string
		assertions func(t *testing.T, rollout *Rollout, err error)
	}{
		{
			name: "valid manifest",
			manifest: `
name: vote
revision: v2
steps:
- setWeight: 10
- analysis:
    template: canary-checks
- pause:
    duration: 30s
- setWeight: 100
analysisTemplates:
- name: canary-checks
  metrics:
  - name: success-rate
    interval: 10s
    count: 5
    failureLimit: 2
    provider:
      query:
        address: http://prometheus.example.com
        query: success_rate{service="{{args.rollout}}"}
        successCondition: result >= 0.95
        credentialRef:
          name: prometheus-token
`,
			assertions: func(t *testing.T, rollout *Rollout, err error) {
				require.NoError(t, err)
				require.Len(t, rollout.Steps, 4)
				require.True(t, rollout.HasAnalysis())
				template := rollout.Template("canary-checks")
				require.NotNil(t, template)
				metric := template.Metric("success-rate")
				require.NotNil(t, metric)
				assert.Equal(t, "query", metric.Provider.Kind())
				assert.Equal(
					t, "prometheus-token", metric.Provider.Query.CredentialRef.Name,
				)
			},
		},
		{
			name:     "not yaml at all",
			manifest: "{ this is not yaml",
			assertions: func(t *testing.T, _ *Rollout, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
			},
		},
		{
			name:     "missing required fields",
			manifest: "revision: v2",
			assertions: func(t *testing.T, _ *Rollout, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "name")
			},
		},
		{
			name: "weight out of range",
			manifest: `
name: vote
steps:
- setWeight: 250
`,
			assertions: func(t *testing.T, _ *Rollout, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
			},
		},
		{
			name: "unknown template reference",
			manifest: `
name: vote
steps:
- analysis:
    template: nope
`,
			assertions: func(t *testing.T, _ *Rollout, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, `unknown analysis template "nope"`)
			},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			rollout, err := UnmarshalRollout([]byte(testCase.manifest))
			testCase.assertions(t, rollout, err)
		})
	}
}

func TestRolloutValidate(t *testing.T) {
	weight := func(w int32) *int32 { return &w }
	queryProvider := ProviderSpec{
		Query: &QueryProviderSpec{
			Address:          "http://prometheus.example.com",
			Query:            "up",
			SuccessCondition: "result > 0",
		},
	}

	testCases := []struct {
		name       string
		rollout    Rollout
		assertions func(t *testing.T, err error)
	}{
		{
			name: "valid",
			rollout: Rollout{
				Name: "vote",
				Steps: []Step{
					{SetWeight: weight(10)},
					{Pause: &PauseStep{}},
					{SetWeight: weight(100)},
				},
			},
			assertions: func(t *testing.T, err error) {
				require.NoError(t, err)
			},
		},
		{
			name:    "no name",
			rollout: Rollout{Steps: []Step{{SetWeight: weight(10)}}},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "no name")
			},
		},
		{
			name:    "no steps",
			rollout: Rollout{Name: "vote"},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "no steps")
			},
		},
		{
			name: "empty step",
			rollout: Rollout{
				Name:  "vote",
				Steps: []Step{{}},
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "exactly one of")
			},
		},
		{
			name: "step with two actions",
			rollout: Rollout{
				Name: "vote",
				Steps: []Step{{
					SetWeight: weight(10),
					Pause:     &PauseStep{},
				}},
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "exactly one of")
			},
		},
		{
			name: "weight decreases",
			rollout: Rollout{
				Name: "vote",
				Steps: []Step{
					{SetWeight: weight(50)},
					{SetWeight: weight(10)},
				},
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "must not decrease")
			},
		},
		{
			name: "weight out of range",
			rollout: Rollout{
				Name:  "vote",
				Steps: []Step{{SetWeight: weight(101)}},
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "out of range")
			},
		},
		{
			name: "duplicate analysis template",
			rollout: Rollout{
				Name:  "vote",
				Steps: []Step{{SetWeight: weight(10)}},
				AnalysisTemplates: []AnalysisTemplate{
					{
						Name:    "checks",
						Metrics: []Metric{{Name: "m", Provider: queryProvider}},
					},
					{
						Name:    "checks",
						Metrics: []Metric{{Name: "m", Provider: queryProvider}},
					},
				},
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "duplicate analysis template")
			},
		},
		{
			name: "template without metrics",
			rollout: Rollout{
				Name:              "vote",
				Steps:             []Step{{SetWeight: weight(10)}},
				AnalysisTemplates: []AnalysisTemplate{{Name: "checks"}},
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "no metrics")
			},
		},
		{
			name: "duplicate metric",
			rollout: Rollout{
				Name:  "vote",
				Steps: []Step{{SetWeight: weight(10)}},
				AnalysisTemplates: []AnalysisTemplate{{
					Name: "checks",
					Metrics: []Metric{
						{Name: "m", Provider: queryProvider},
						{Name: "m", Provider: queryProvider},
					},
				}},
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "duplicate metric")
			},
		},
		{
			name: "metric without provider",
			rollout: Rollout{
				Name:  "vote",
				Steps: []Step{{SetWeight: weight(10)}},
				AnalysisTemplates: []AnalysisTemplate{{
					Name:    "checks",
					Metrics: []Metric{{Name: "m"}},
				}},
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "exactly one of query, probe or exec")
			},
		},
		{
			name: "metric with two providers",
			rollout: Rollout{
				Name:  "vote",
				Steps: []Step{{SetWeight: weight(10)}},
				AnalysisTemplates: []AnalysisTemplate{{
					Name: "checks",
					Metrics: []Metric{{
						Name: "m",
						Provider: ProviderSpec{
							Query: queryProvider.Query,
							Probe: &ProbeProviderSpec{URL: "http://example.com"},
						},
					}},
				}},
			},
			assertions: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidTemplate)
				require.ErrorContains(t, err, "exactly one of query, probe or exec")
			},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			testCase.assertions(t, testCase.rollout.Validate())
		})
	}
}
