package observability

import (
	"context"

	"github.com/sandeepkv93/clinic-survey-relay/internal/config"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
)

func newResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
			attribute.String("clinic.owner_id", cfg.ClinicOwnerID),
			attribute.String("clinic.deployment_profile", string(cfg.DeploymentProfile)),
		),
	)
}
