package v1alpha1

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"
)

// ErrInvalidTemplate is wrapped by every error returned for a malformed
// Rollout manifest. Such errors are fatal at creation time: a Rollout that
// fails validation never shifts any traffic.
var ErrInvalidTemplate = errors.New("invalid rollout template")

// UnmarshalRollout decodes and validates a YAML or JSON Rollout manifest.
func UnmarshalRollout(data []byte) (*Rollout, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: parse manifest: %s", ErrInvalidTemplate, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(rolloutSchema),
		gojsonschema.NewBytesLoader(jsonData),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: validate manifest: %s", ErrInvalidTemplate, err)
	}
	if !result.Valid() {
		issues := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			issues[i] = desc.String()
		}
		return nil, fmt.Errorf(
			"%w: %s", ErrInvalidTemplate, strings.Join(issues, "; "),
		)
	}

	rollout := &Rollout{}
	if err = yaml.Unmarshal(data, rollout); err != nil {
		return nil, fmt.Errorf("%w: unmarshal manifest: %s", ErrInvalidTemplate, err)
	}
	if err = rollout.Validate(); err != nil {
		return nil, err
	}
	return rollout, nil
}

// Validate performs the semantic checks a schema cannot express: one-of
// constraints on steps and providers, template reference resolution, and
// weight monotonicity.
func (r *Rollout) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: rollout has no name", ErrInvalidTemplate)
	}
	if len(r.Steps) == 0 {
		return fmt.Errorf("%w: rollout %q has no steps", ErrInvalidTemplate, r.Name)
	}

	templates := make(map[string]*AnalysisTemplate, len(r.AnalysisTemplates))
	for i := range r.AnalysisTemplates {
		template := &r.AnalysisTemplates[i]
		if _, ok := templates[template.Name]; ok {
			return fmt.Errorf(
				"%w: duplicate analysis template %q", ErrInvalidTemplate, template.Name,
			)
		}
		if err := template.validate(); err != nil {
			return err
		}
		templates[template.Name] = template
	}

	var lastWeight int32
	for i, step := range r.Steps {
		if err := step.validate(i); err != nil {
			return err
		}
		if step.SetWeight != nil {
			if *step.SetWeight < lastWeight {
				return fmt.Errorf(
					"%w: step %d decreases weight from %d to %d; "+
						"weight must not decrease while progressing",
					ErrInvalidTemplate, i, lastWeight, *step.SetWeight,
				)
			}
			lastWeight = *step.SetWeight
		}
		if step.Analysis != nil {
			if _, ok := templates[step.Analysis.Template]; !ok {
				return fmt.Errorf(
					"%w: step %d references unknown analysis template %q",
					ErrInvalidTemplate, i, step.Analysis.Template,
				)
			}
		}
	}
	return nil
}

func (s *Step) validate(index int) error {
	var set int
	if s.SetWeight != nil {
		set++
		if *s.SetWeight < 0 || *s.SetWeight > 100 {
			return fmt.Errorf(
				"%w: step %d weight %d out of range [0,100]",
				ErrInvalidTemplate, index, *s.SetWeight,
			)
		}
	}
	if s.Pause != nil {
		set++
	}
	if s.Analysis != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf(
			"%w: step %d must set exactly one of setWeight, pause or analysis",
			ErrInvalidTemplate, index,
		)
	}
	return nil
}

func (t *AnalysisTemplate) validate() error {
	if len(t.Metrics) == 0 {
		return fmt.Errorf(
			"%w: analysis template %q has no metrics", ErrInvalidTemplate, t.Name,
		)
	}
	seen := make(map[string]struct{}, len(t.Metrics))
	for i := range t.Metrics {
		metric := &t.Metrics[i]
		if metric.Name == "" {
			return fmt.Errorf(
				"%w: analysis template %q has an unnamed metric",
				ErrInvalidTemplate, t.Name,
			)
		}
		if _, ok := seen[metric.Name]; ok {
			return fmt.Errorf(
				"%w: analysis template %q has duplicate metric %q",
				ErrInvalidTemplate, t.Name, metric.Name,
			)
		}
		seen[metric.Name] = struct{}{}
		if err := metric.Provider.validate(t.Name, metric.Name); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProviderSpec) validate(template, metric string) error {
	var set int
	if p.Query != nil {
		set++
	}
	if p.Probe != nil {
		set++
	}
	if p.Exec != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf(
			"%w: metric %q of analysis template %q must configure exactly one "+
				"of query, probe or exec",
			ErrInvalidTemplate, metric, template,
		)
	}
	return nil
}
