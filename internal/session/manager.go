package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/catalog"
	"tablecrm-orders-go/internal/config"
	"tablecrm-orders-go/internal/directory"
	"tablecrm-orders-go/internal/normalize"
	"tablecrm-orders-go/internal/processor"
	"tablecrm-orders-go/internal/storage"
	"tablecrm-orders-go/internal/tablecrm"
)

var (
	// ErrInvalidToken is returned when TableCRM rejects the token at login
	ErrInvalidToken = errors.New("invalid TableCRM API token")
	// ErrNoSession is returned when nothing is known about the session key
	ErrNoSession = errors.New("session not found")
)

// TokenStore persists tokens between restarts
type TokenStore interface {
	Save(ctx context.Context, key, token string) error
	Load(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Manager creates, restores and ends sessions
type Manager struct {
	config     *config.Config
	store      TokenStore
	observer   tablecrm.RequestObserver
	httpClient *http.Client
	logger     *logrus.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option customizes the manager
type Option func(*Manager)

// WithObserver reports CRM request timings of every session
func WithObserver(o tablecrm.RequestObserver) Option {
	return func(m *Manager) { m.observer = o }
}

// WithHTTPClient sets the client used for TableCRM calls
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// NewManager creates a session manager. The store may be nil, in which case tokens live only in memory.
func NewManager(cfg *config.Config, store TokenStore, logger *logrus.Logger, opts ...Option) *Manager {
	m := &Manager{
		config:   cfg,
		store:    store,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewKey returns a fresh random session key
func NewKey() string {
	return "web:" + uuid.NewString()
}

// Login verifies the token, replaces any session under key and persists the token
func (m *Manager) Login(ctx context.Context, key, token string) (*Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	s := m.build(key, token)
	if !s.Processor.CheckConnection(ctx) {
		m.logger.Warnf("Login rejected for session %s", key)
		return nil, ErrInvalidToken
	}

	if m.store != nil {
		if err := m.store.Save(ctx, key, token); err != nil {
			m.logger.Errorf("Failed to persist token of session %s: %v", key, err)
		}
	}

	m.mu.Lock()
	if old, ok := m.sessions[key]; ok {
		old.Clear()
	}
	m.sessions[key] = s
	m.mu.Unlock()

	m.logger.Infof("Session %s logged in", key)
	return s, nil
}

// Get returns an active session
func (m *Manager) Get(key string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Restore returns the active session or rebuilds it from the stored token
func (m *Manager) Restore(ctx context.Context, key string) (*Session, error) {
	if s, ok := m.Get(key); ok {
		return s, nil
	}
	if m.store == nil {
		return nil, ErrNoSession
	}

	token, err := m.store.Load(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}
	s := m.build(key, token)
	m.sessions[key] = s
	m.logger.Infof("Session %s restored from storage", key)
	return s, nil
}

// RestoreAll rebuilds every stored session and returns how many are active afterwards
func (m *Manager) RestoreAll(ctx context.Context) (int, error) {
	if m.store == nil {
		return m.Count(), nil
	}
	keys, err := m.store.Keys(ctx)
	if err != nil {
		return m.Count(), fmt.Errorf("list stored sessions: %w", err)
	}
	for _, key := range keys {
		if _, err := m.Restore(ctx, key); err != nil {
			m.logger.Warnf("Failed to restore session %s: %v", key, err)
		}
	}
	return m.Count(), nil
}

// Logout clears the session caches and forgets the token
func (m *Manager) Logout(ctx context.Context, key string) error {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if ok {
		s.Clear()
	}
	if m.store != nil {
		if err := m.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	m.logger.Infof("Session %s logged out", key)
	return nil
}

// Count returns the number of active sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) build(key, token string) *Session {
	cfg := m.config
	api := tablecrm.NewAPI(tablecrm.Options{
		BaseURL:       cfg.TableCRMAPIURL,
		Token:         token,
		CORSProxy:     cfg.TableCRMCORSProxy,
		AuthHeader:    cfg.TableCRMAuthHeader,
		Timeout:       cfg.TableCRMTimeout,
		RetryAttempts: cfg.OrdersRetryAttempts,
		RetryDelay:    cfg.OrdersRetryDelay,
		HTTPClient:    m.httpClient,
		Observer:      m.observer,
	}, m.logger)

	n := normalize.New()
	products := catalog.NewProducts(n, m.logger)
	return &Session{
		Key:        key,
		CreatedAt:  time.Now(),
		API:        api,
		Clients:    directory.New(api, n, directory.Options{PageSize: cfg.ClientsPageSize, MaxTotal: cfg.ClientsMaxTotal}, m.logger),
		Products:   products,
		Categories: catalog.NewCategories(api, n, products, m.logger),
		Processor:  processor.NewSaleProcessor(api, m.logger),
		normalizer: n,
		ordersPage: cfg.OrdersPageSize,
		logger:     m.logger,
	}
}
