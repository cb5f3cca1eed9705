package observability

import (
	"context"
	"errors"

	"github.com/sandeepkv93/clinic-survey-relay/internal/config"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider
}

func InitRuntime(ctx context.Context, cfg *config.Config, logging *Logging) (*Runtime, error) {
	mp, err := InitMetrics(ctx, cfg, logging.Logger)
	if err != nil {
		return nil, err
	}
	tp, err := InitTracing(ctx, cfg, logging.Logger)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, err
	}
	return &Runtime{MeterProvider: mp, TracerProvider: tp, LoggerProvider: logging.Provider}, nil
}

type shutdowner interface {
	Shutdown(context.Context) error
}

// Shutdown flushes every provider. The logger provider goes last so
// shutdown logs from the other providers are still exported.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var providers []shutdowner
	if r.MeterProvider != nil {
		providers = append(providers, r.MeterProvider)
	}
	if r.TracerProvider != nil {
		providers = append(providers, r.TracerProvider)
	}
	if r.LoggerProvider != nil {
		providers = append(providers, r.LoggerProvider)
	}
	var errs []error
	for _, p := range providers {
		errs = append(errs, p.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
