//go:build wireinject
// +build wireinject

package di

import (
	"RegimePull/pkg/config"
	"RegimePull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation in wire_gen.go.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Engine core
		ProvideEngineParams,
		ProvideTracker,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideAuditLog,
		ProvideBarHistory,
		ProvideSnapshotPublisher,
		ProvideSnapshotCache,
		ProvideFeedStream,

		// Use cases
		ProvideBarProcessor,
		ProvideKafkaBarsHandler,
		ProvideBarCollector,
		ProvideSnapshotQuery,

		// Surfaces
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
