// Package di assembles the application graph. The provider sets live next
// to the packages they build; InitializeHub is the hand-wired composition
// used by cmd/server, kept in the shape wire generates so the sets stay
// usable with the generator.
package di

import (
	"database/sql"

	"portalchat/config"
	"portalchat/internal/cache"
	"portalchat/internal/database"
	"portalchat/internal/hub"
	"portalchat/internal/messaging"
	"portalchat/internal/presence"
	"portalchat/internal/user"
	"portalchat/pkg/jwt"
)

// ProvideJWT builds the token validator from config.
func ProvideJWT(cfg *config.Config) *jwt.JWT {
	return jwt.NewJWT(cfg.JWTSecret, cfg.JWTExpireSeconds)
}

// InitializeHub wires the messaging hub with its full dependency graph.
// redisCache may be nil; the directory then skips caching.
func InitializeHub(cfg *config.Config, sqlDB *sql.DB, gormDB *database.Database, redisCache *cache.RedisCache) *hub.Hub {
	tokens := ProvideJWT(cfg)
	messages := messaging.ProvideService(messaging.ProvideRepository(sqlDB))
	directory := user.ProvideDirectory(user.ProvideStorage(gormDB), redisCache)
	registry := presence.NewRegistry()
	dispatcher := hub.ProvideDispatcher(registry)
	return hub.NewHub(tokens, messages, directory, registry, dispatcher)
}
