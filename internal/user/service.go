package user

import (
	"context"
	"time"

	"portalchat/internal/cache"
)

const userNameCacheTTL = 5 * time.Minute

// Directory resolves user IDs to profile data for event payloads. Username
// lookups are hot on every fan-out, so they go through the cache when one
// is configured.
type Directory struct {
	storage Storage
	cache   *cache.RedisCache
}

func NewDirectory(storage Storage, cache *cache.RedisCache) *Directory {
	return &Directory{storage: storage, cache: cache}
}

func (d *Directory) Get(ctx context.Context, id string) (*User, error) {
	return d.storage.ByID(ctx, id)
}

func (d *Directory) GetByUserName(ctx context.Context, userName string) (*User, error) {
	return d.storage.ByUserName(ctx, userName)
}

func (d *Directory) Save(ctx context.Context, user *User) error {
	return d.storage.Save(ctx, user)
}

// UserName resolves a user ID to its username, returning the ID itself when
// the user is unknown so payload building never fails on directory gaps.
func (d *Directory) UserName(ctx context.Context, id string) string {
	if d.cache != nil {
		if name, err := d.cache.Get(ctx, "username:"+id); err == nil && name != "" {
			return name
		}
	}

	u, err := d.storage.ByID(ctx, id)
	if err != nil {
		return id
	}

	if d.cache != nil {
		_ = d.cache.Set(ctx, "username:"+id, u.UserName, userNameCacheTTL)
	}
	return u.UserName
}
