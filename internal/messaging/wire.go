package messaging

import (
	"database/sql"

	"github.com/google/wire"
)

// ProvideRepository is a Wire provider function that creates the Postgres
// persistence gateway.
func ProvideRepository(db *sql.DB) Repository {
	return NewPostgresRepository(db)
}

// ProvideService is a Wire provider function that creates the messaging service.
func ProvideService(repo Repository) *Service {
	return NewService(repo)
}

var Set = wire.NewSet(ProvideRepository, ProvideService)
