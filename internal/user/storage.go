package user

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"portalchat/infrastructure"
	"portalchat/internal/database"
)

type Storage interface {
	ByID(ctx context.Context, id string) (*User, error)
	ByUserName(ctx context.Context, userName string) (*User, error)
	Save(ctx context.Context, user *User) error
}

type GormStorage struct {
	db *database.Database
}

func NewGormStorage(db *database.Database) *GormStorage {
	return &GormStorage{db: db}
}

// Migrate creates the directory table.
func (s *GormStorage) Migrate() error {
	if err := s.db.AutoMigrate(&User{}); err != nil {
		return fmt.Errorf("failed to migrate user directory: %w", err)
	}
	return nil
}

func (s *GormStorage) ByID(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, infrastructure.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *GormStorage) ByUserName(ctx context.Context, userName string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "user_name = ?", userName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, infrastructure.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return &u, nil
}

func (s *GormStorage) Save(ctx context.Context, user *User) error {
	if err := s.db.WithContext(ctx).Save(user).Error; err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// MemoryStorage backs tests and local development without a database.
type MemoryStorage struct {
	mu     sync.RWMutex
	byID   map[string]User
	byName map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		byID:   make(map[string]User),
		byName: make(map[string]string),
	}
}

func (s *MemoryStorage) ByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, infrastructure.ErrUserNotFound
	}
	return &u, nil
}

func (s *MemoryStorage) ByUserName(_ context.Context, userName string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[userName]
	if !ok {
		return nil, infrastructure.ErrUserNotFound
	}
	u := s.byID[id]
	return &u, nil
}

func (s *MemoryStorage) Save(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[user.ID] = *user
	s.byName[user.UserName] = user.ID
	return nil
}
