package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/sandeepkv93/clinic-survey-relay/internal/config"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

type Logging struct {
	Logger   *slog.Logger
	Provider *sdklog.LoggerProvider
}

// InitLogging builds the process logger. Records always go to stdout as JSON
// and are also exported over OTLP when OTEL_LOGS_ENABLED is set.
func InitLogging(ctx context.Context, cfg *config.Config) (*Logging, error) {
	return initLogging(ctx, cfg, os.Stdout)
}

func initLogging(ctx context.Context, cfg *config.Config, w io.Writer) (*Logging, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})

	var provider *sdklog.LoggerProvider
	if cfg.OTELLogsEnabled {
		opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
		if cfg.OTELExporterOTLPInsecure {
			opts = append(opts, otlploggrpc.WithInsecure())
		}
		exporter, err := otlploggrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp log exporter: %w", err)
		}
		res, err := newResource(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create log resource: %w", err)
		}
		provider = sdklog.NewLoggerProvider(
			sdklog.WithResource(res),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		)
		handler = teeHandler(level, handler, otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider)))
	}

	logger := slog.New(handler).With("service", cfg.OTELServiceName, "owner_id", cfg.ClinicOwnerID)
	slog.SetDefault(logger)
	return &Logging{Logger: logger, Provider: provider}, nil
}

func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("parse LOG_LEVEL: unknown level %q", raw)
	}
}

// teeHandler writes every record to primary and forwards records at or above
// level to secondary, which may not filter on its own.
func teeHandler(level slog.Leveler, primary, secondary slog.Handler) slog.Handler {
	return slogmulti.Fanout(primary, slogmulti.Pipe(minLevel(level)).Handler(secondary))
}

func minLevel(level slog.Leveler) slogmulti.Middleware {
	return slogmulti.NewEnabledInlineMiddleware(func(ctx context.Context, l slog.Level, next func(context.Context, slog.Level) bool) bool {
		return l >= level.Level() && next(ctx, l)
	})
}
