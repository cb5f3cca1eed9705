package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	configMetricsOnce sync.Once
	configCounter     metric.Int64Counter
)

func recordConfigValidationEvent(ctx context.Context, env, deployment, outcome, errorClass string) {
	configMetricsOnce.Do(func() {
		counter, err := otel.Meter("clinic-survey-relay/config").Int64Counter("config.validation.events")
		if err == nil {
			configCounter = counter
		}
	})
	if configCounter == nil {
		return
	}
	configCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app_env", normalizeConfigProfile(env)),
		attribute.String("deployment_profile", normalizeConfigProfile(deployment)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass),
	))
}

// normalizeConfigProfile keeps metric attribute cardinality bounded to
// lowercase trimmed values, with "unknown" for blanks.
func normalizeConfigProfile(profile string) string {
	v := strings.TrimSpace(strings.ToLower(profile))
	if v == "" {
		return "unknown"
	}
	if len(v) > 32 {
		v = v[:32]
	}
	return strings.ToValidUTF8(v, "")
}

// ParseError reports an environment variable whose value could not be
// converted to its field type.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string { return "parse " + e.Key + ": " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError wraps the joined list of rule violations from Validate.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validate config: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

func classifyConfigLoadError(err error) string {
	var parseErr *ParseError
	var validationErr *ValidationError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &validationErr):
		return "validation"
	case errors.As(err, &parseErr):
		return "parse"
	default:
		return "load"
	}
}
