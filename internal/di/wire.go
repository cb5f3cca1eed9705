//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/clinic-survey-relay/internal/app"
	"github.com/sandeepkv93/clinic-survey-relay/internal/config"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/service"
)

func InitializeApp(ctx context.Context, cfg *config.Config, logging *observability.Logging) (*app.App, func(), error) {
	wire.Build(ConfigSet, StorageSet, ServiceSet, HTTPSet, AppSet)
	return nil, nil, nil
}

func InitializeTooling(cfg *config.Config, logging *observability.Logging) (*Tooling, func(), error) {
	wire.Build(
		provideLogger,
		StorageSet,
		service.NewChangeNotifier,
		provideUnknownTokenCache,
		provideTokenGenerator,
		provideTemplateService,
		provideSessionService,
		provideIngestor,
		ToolingSet,
	)
	return nil, nil, nil
}
