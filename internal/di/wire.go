//go:build wireinject
// +build wireinject

package di

import (
	"GridCast/pkg/config"
	"GridCast/pkg/server"

	"github.com/google/wire"
)

var baseSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideStores,
	ProvideRedisClient,
	ProvideCache,
	ProvideKafkaProducer,
	ProvideEventPublisher,
	ProvideFeatureEngine,
	ProvideSettings,
	ProvideForecastCache,

	ProvideTrainingPipeline,
	ProvideTuningUseCase,
	ProvideEvaluationUseCase,
	ProvideDriftUseCase,
	ProvideForecastUseCase,
)

// InitializeApp wires the HTTP server and the job queue workers.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		baseSet,
		ProvideJobs,
		ProvideQueue,
		ProvideHandler,
		ProvideRetrainConsumer,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializePipeline wires the batch use cases for the command line.
func InitializePipeline(cfg *config.Config) (*Pipeline, func(), error) {
	wire.Build(
		baseSet,
		ProvideIngestUseCase,
		ProvideSourceClient,
		ProvidePipeline,
	)
	return nil, nil, nil
}
