//go:build wireinject
// +build wireinject

package di

import (
	"ChartSync/pkg/config"
	"ChartSync/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Observability
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideCache,
		ProvideSourceConn,

		// Repositories
		ProvideCandleSource,
		ProvideUpdateMonitor,
		ProvideUpdatePublisher,

		// Use cases
		ProvideFetchCoordinator,
		ProvideResolutionController,
		ProvideReconciler,
		ProvideHub,
		ProvideChartSession,
		ProvideCandlesUseCase,

		// Transport
		ProvideChartHandler,
		ProvideHealthHandler,
		ProvideHTTPServer,

		// Application server
		ProvideResources,
		ProvideApp,
	)
	return &server.App{}, nil
}
