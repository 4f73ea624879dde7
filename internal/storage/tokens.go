package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when no token is stored under the key
var ErrNotFound = errors.New("token not found")

// StoredToken is a persisted TableCRM API token of one session
type StoredToken struct {
	SessionKey string `gorm:"primaryKey;size:128"`
	Token      string `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TokenStore persists session tokens
type TokenStore struct {
	db *gorm.DB
}

// Open connects to the database and migrates the token table.
// Supported drivers are "sqlite" and "postgres".
func Open(driver, dsn string, debug bool) (*TokenStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logLevel)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the token table
func New(db *gorm.DB) (*TokenStore, error) {
	if err := db.AutoMigrate(&StoredToken{}); err != nil {
		return nil, fmt.Errorf("migrate token table: %w", err)
	}
	return &TokenStore{db: db}, nil
}

// Save stores or replaces the token for the key
func (s *TokenStore) Save(ctx context.Context, key, token string) error {
	rec := StoredToken{SessionKey: key, Token: token}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// Load returns the token stored for the key
func (s *TokenStore) Load(ctx context.Context, key string) (string, error) {
	var rec StoredToken
	err := s.db.WithContext(ctx).Where("session_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	return rec.Token, nil
}

// Keys lists every stored session key
func (s *TokenStore) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&StoredToken{}).Order("session_key").Pluck("session_key", &keys).Error; err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return keys, nil
}

// Delete removes the token for the key; deleting a missing key is not an error
func (s *TokenStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("session_key = ?", key).Delete(&StoredToken{}).Error; err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// Close releases the database connection
func (s *TokenStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
