package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the configuration. Call it after ApplyDefaults.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	validateTarget(&c.Target, errs)
	validateStages(c.Stages, errs)

	if c.GracefulStop < 0 {
		errs.Add("gracefulStop", "must be >= 0")
	}
	if c.Workflow.PollInterval <= 0 {
		errs.Add("workflow.pollInterval", "must be > 0")
	}
	if c.Workflow.PollDeadline <= 0 {
		errs.Add("workflow.pollDeadline", "must be > 0")
	}

	switch c.Throughput.Mode {
	case ThroughputOpportunistic, ThroughputTimer:
	default:
		errs.Add("throughput.mode", fmt.Sprintf("unknown mode %q (want %s or %s)",
			c.Throughput.Mode, ThroughputOpportunistic, ThroughputTimer))
	}
	if c.Throughput.Mode == ThroughputTimer && c.Throughput.Resolution <= 0 {
		errs.Add("throughput.resolution", "must be > 0 in timer mode")
	}

	validateThresholds(c.Thresholds, errs)

	switch c.Log.Format {
	case "", "console", "json":
	default:
		errs.Add("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateTarget(t *TargetConfig, errs *ValidationErrors) {
	if t.URL == "" {
		errs.Add("target.url", "url is required")
	} else if u, err := url.Parse(t.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add("target.url", fmt.Sprintf("invalid url %q", t.URL))
	}
	if t.Timeout <= 0 {
		errs.Add("target.timeout", "must be > 0")
	}
	if t.MaxRPS < 0 {
		errs.Add("target.maxRPS", "must be >= 0")
	}
	if t.MaxConnsPerHost < 0 {
		errs.Add("target.maxConnsPerHost", "must be >= 0")
	}
}

func validateStages(stages []StageConfig, errs *ValidationErrors) {
	if len(stages) == 0 {
		errs.Add("stages", "at least one stage is required")
		return
	}
	for i, stage := range stages {
		if stage.Duration < 0 {
			errs.Add(fmt.Sprintf("stages[%d].duration", i), "must be >= 0")
		}
		if stage.Target < 0 {
			errs.Add(fmt.Sprintf("stages[%d].target", i), "must be >= 0")
		}
	}
}

func validateThresholds(thresholds map[string][]string, errs *ValidationErrors) {
	metrics := lo.Keys(thresholds)
	slices.Sort(metrics)
	for _, metric := range metrics {
		for i, expr := range thresholds[metric] {
			if _, err := ParseThreshold(expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
		}
	}
}
