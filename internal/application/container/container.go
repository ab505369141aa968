// Package container provides dependency injection for the presence
// server's singleton services.
package container

import (
	"github.com/redis/go-redis/v9"

	"github.com/AtRiskMedia/presence-go/internal/application/services"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/config"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/customer"
	"github.com/AtRiskMedia/presence-go/internal/infrastructure/observability/logging"
	presenceinfra "github.com/AtRiskMedia/presence-go/internal/infrastructure/presence"
)

// Container holds every singleton service and infrastructure
// dependency wired for the presence server.
type Container struct {
	Logger *logging.ChanneledLogger
	Redis  *redis.Client

	Store    *presenceinfra.Store
	Fleet    *presenceinfra.Fleet
	Resolver *presenceinfra.DisconnectResolver
	Registry *customer.Registry

	PresenceService *services.PresenceService
	EMAEngine       *services.EMAEngine
}

// NewContainer wires the presence server's dependency graph. The
// presence service needs the resolver and registry; the fleet needs
// the presence service as its auth handler; the EMA engine needs the
// store, the fleet, and the registry.
func NewContainer(logger *logging.ChanneledLogger, rdb *redis.Client) *Container {
	store := presenceinfra.NewStore(rdb)
	registry := customer.NewRegistry()
	resolver := presenceinfra.NewDisconnectResolver(store.GetKeyTTL, store.Remove, logger.Disconnect())

	presenceService := services.NewPresenceService(store, resolver, registry, logger.Presence())
	fleet := presenceinfra.NewFleet(presenceService, store, logger.Websocket())

	emaEngine := services.NewEMAEngine(store, store, fleet, registry, config.EMAAlpha, config.EMAUpdateInterval, logger.EMA())

	return &Container{
		Logger:          logger,
		Redis:           rdb,
		Store:           store,
		Fleet:           fleet,
		Resolver:        resolver,
		Registry:        registry,
		PresenceService: presenceService,
		EMAEngine:       emaEngine,
	}
}
