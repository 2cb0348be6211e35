// Package sequence defines emulation sequence specifications: ordered lists
// of job steps executed against a remote operations API. Specs are YAML
// documents loaded from a directory and resolved by name at start time.
package sequence

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNameRequired    = errors.New("sequence name is required")
	ErrNoSteps         = errors.New("sequence must have at least one step")
	ErrTooManySteps    = errors.New("sequence exceeds the step limit")
	ErrStepMissingName = errors.New("step name is required")
	ErrDuplicateStep   = errors.New("duplicate step name")
	ErrStepMissingJob  = errors.New("step job template is required")
	ErrMissingProfile  = errors.New("job template must reference a profile")
	ErrInvalidOnFail   = errors.New("invalid on_fail mode")
	ErrMissingFallback = errors.New("on_fail is fallback but no fallback_job is set")
)

// maxSteps bounds a single sequence; longer chains should be split.
const maxSteps = 64

// Defaults applied by Normalize when the YAML omits the fields.
const (
	DefaultMaxRetries  = 3
	DefaultStepTimeout = 300 // seconds
)

// OnFail selects the recovery mode for transient step failures.
type OnFail string

const (
	OnFailRetry    OnFail = "retry"
	OnFailFallback OnFail = "fallback"
	OnFailSkip     OnFail = "skip"
)

// Spec is a named, ordered sequence of job steps. Timeouts are integer
// seconds, matching the document format operators already write.
type Spec struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	MaxRetries  int    `yaml:"max_retries" json:"max_retries"`
	StepTimeout int    `yaml:"step_timeout" json:"step_timeout"`
	Steps       []Step `yaml:"steps" json:"steps"`
}

// Step is one unit of work: an opaque job template submitted to the remote
// API, plus fact-chaining and failure-handling directives. The template map
// is forwarded to the job client untouched except for fact merging; the only
// key the engine itself requires is "profile".
type Step struct {
	Name         string         `yaml:"name" json:"name"`
	Job          map[string]any `yaml:"job" json:"job"`
	InheritFacts bool           `yaml:"inherit_facts" json:"inherit_facts"`
	FactFilters  []string       `yaml:"fact_filters,omitempty" json:"fact_filters,omitempty"`
	OnFail       OnFail         `yaml:"on_fail,omitempty" json:"on_fail,omitempty"`
	FallbackJob  map[string]any `yaml:"fallback_job,omitempty" json:"fallback_job,omitempty"`
	Critical     bool           `yaml:"critical" json:"critical"`
	Timeout      int            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Target identifies where a sequence run is aimed: a display name for job
// naming and the default agent group for steps whose template omits one.
// Targets are supplied at start time, never in the spec document.
type Target struct {
	Name  string `yaml:"name" json:"name"`
	Group string `yaml:"group" json:"group"`
}

// Summary is the listing shape for a spec.
type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       int    `json:"steps"`
}

// Normalize fills in defaults for omitted fields. Call before Validate.
func (s *Spec) Normalize() {
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxRetries
	}
	if s.StepTimeout <= 0 {
		s.StepTimeout = DefaultStepTimeout
	}
	for i := range s.Steps {
		if s.Steps[i].OnFail == "" {
			s.Steps[i].OnFail = OnFailRetry
		}
	}
}

// Validate checks the spec for structural correctness.
func (s *Spec) Validate() error {
	if s.Name == "" {
		return ErrNameRequired
	}
	if len(s.Steps) == 0 {
		return ErrNoSteps
	}
	if len(s.Steps) > maxSteps {
		return fmt.Errorf("%d steps (max %d): %w", len(s.Steps), maxSteps, ErrTooManySteps)
	}

	seen := make(map[string]struct{}, len(s.Steps))
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Name == "" {
			return fmt.Errorf("step %d: %w", i, ErrStepMissingName)
		}
		if _, dup := seen[st.Name]; dup {
			return fmt.Errorf("step %d (%s): %w", i, st.Name, ErrDuplicateStep)
		}
		seen[st.Name] = struct{}{}

		if err := validateJob(st.Job); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, st.Name, err)
		}

		switch st.OnFail {
		case OnFailRetry, OnFailSkip:
			// ok
		case OnFailFallback:
			if len(st.FallbackJob) == 0 {
				return fmt.Errorf("step %d (%s): %w", i, st.Name, ErrMissingFallback)
			}
			if err := validateJob(st.FallbackJob); err != nil {
				return fmt.Errorf("step %d (%s) fallback: %w", i, st.Name, err)
			}
		default:
			return fmt.Errorf("step %d (%s): %q: %w", i, st.Name, st.OnFail, ErrInvalidOnFail)
		}
	}

	return nil
}

// validateJob checks that a job template is present and names a profile.
func validateJob(job map[string]any) error {
	if len(job) == 0 {
		return ErrStepMissingJob
	}
	profile, ok := job["profile"].(string)
	if !ok || profile == "" {
		return ErrMissingProfile
	}
	return nil
}

// BudgetFor returns the poll budget for step i, honoring per-step overrides.
func (s *Spec) BudgetFor(i int) time.Duration {
	if i >= 0 && i < len(s.Steps) && s.Steps[i].Timeout > 0 {
		return time.Duration(s.Steps[i].Timeout) * time.Second
	}
	return time.Duration(s.StepTimeout) * time.Second
}

// Summarize returns the listing shape for this spec.
func (s *Spec) Summarize() Summary {
	return Summary{Name: s.Name, Description: s.Description, Steps: len(s.Steps)}
}
