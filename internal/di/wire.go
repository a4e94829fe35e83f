//go:build wireinject
// +build wireinject

package di

import (
	"CoinPull/pkg/config"
	"CoinPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideClock,
		ProvideMetrics,
		ProvideInstanceID,

		// Storage
		ProvideCache,
		ProvideSnapshotStore,

		// Upstream
		ProvideHTTPClient,
		ProvidePriceSource,

		// Delivery
		ProvideFanout,
		ProvideKafkaProducer,
		ProvideSnapshotPublisher,
		ProvideSnapshotPipeline,

		// Use cases
		ProvideScheduler,
		ProvideSweeper,
		ProvidePriceGate,
		ProvideRelayConsumer,

		// HTTP
		ProvidePricesHandler,
		ProvideWSHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return nil, nil, nil
}
