package user

import (
	"github.com/google/wire"

	"portalchat/internal/cache"
	"portalchat/internal/database"
)

// ProvideStorage is a Wire provider function that creates the gorm-backed
// directory storage.
func ProvideStorage(db *database.Database) Storage {
	return NewGormStorage(db)
}

// ProvideDirectory is a Wire provider function that creates the Directory.
func ProvideDirectory(storage Storage, cache *cache.RedisCache) *Directory {
	return NewDirectory(storage, cache)
}

var Set = wire.NewSet(ProvideStorage, ProvideDirectory)
