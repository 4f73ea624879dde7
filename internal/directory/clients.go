package directory

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"tablecrm-orders-go/internal/models"
	"tablecrm-orders-go/internal/normalize"
)

const loadKey = "contragents"

// Source returns one page of contragents
type Source interface {
	Contragents(ctx context.Context, limit, offset int) (normalize.Envelope, error)
}

// Options bounds the directory fetch
type Options struct {
	PageSize int
	// MaxTotal stops pagination once this many clients are loaded; 0 means no cap
	MaxTotal int
}

// Directory caches the complete client list of a session
type Directory struct {
	source     Source
	normalizer *normalize.Normalizer
	opts       Options
	logger     *logrus.Logger

	group singleflight.Group

	mu      sync.RWMutex
	clients []models.Client
	loaded  bool
	// generation is bumped by Reset; a fetch started earlier must not publish its result
	generation uint64
}

// New creates an empty directory
func New(source Source, n *normalize.Normalizer, opts Options, logger *logrus.Logger) *Directory {
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &Directory{
		source:     source,
		normalizer: n,
		opts:       opts,
		logger:     logger,
	}
}

// Loaded reports whether the client list is cached
func (d *Directory) Loaded() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loaded
}

// Load fetches the client list once. Concurrent callers share the same fetch.
func (d *Directory) Load(ctx context.Context) ([]models.Client, error) {
	d.mu.RLock()
	if d.loaded {
		clients := d.clients
		d.mu.RUnlock()
		return clients, nil
	}
	d.mu.RUnlock()

	// The fetch outlives a cancelled caller so that other waiters still get the result
	fetchCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan(loadKey, func() (interface{}, error) {
		return d.fetchAll(fetchCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]models.Client), nil
	}
}

func (d *Directory) fetchAll(ctx context.Context) ([]models.Client, error) {
	d.mu.RLock()
	if d.loaded {
		clients := d.clients
		d.mu.RUnlock()
		return clients, nil
	}
	gen := d.generation
	d.mu.RUnlock()

	start := time.Now()
	clients := make([]models.Client, 0, d.opts.PageSize)
	offset := 0
	pages := 0

	for {
		env, err := d.source.Contragents(ctx, d.opts.PageSize, offset)
		if err != nil {
			d.logger.Errorf("Error loading clients at offset %d: %v", offset, err)
			d.mu.Lock()
			if d.generation == gen {
				d.clients = nil
				d.loaded = false
			}
			d.mu.Unlock()
			return nil, err
		}
		pages++

		for _, r := range env.Items {
			clients = append(clients, d.normalizer.Client(r))
		}
		offset += len(env.Items)

		if d.opts.MaxTotal > 0 && len(clients) >= d.opts.MaxTotal {
			if len(clients) > d.opts.MaxTotal {
				clients = clients[:d.opts.MaxTotal]
			}
			d.logger.Warnf("Client directory capped at %d records", d.opts.MaxTotal)
			break
		}
		if len(env.Items) < d.opts.PageSize {
			break
		}
		if env.HasCount && offset >= env.Count {
			break
		}
	}

	d.mu.Lock()
	if d.generation != gen {
		d.mu.Unlock()
		d.logger.Debugf("Discarding %d clients loaded before reset", len(clients))
		return clients, nil
	}
	d.clients = clients
	d.loaded = true
	d.mu.Unlock()

	d.logger.Infof("Loaded %d clients in %d pages (%dms)", len(clients), pages, time.Since(start).Milliseconds())
	return clients, nil
}

// Search matches clients by phone digits and, for non-numeric queries, by name.
// An empty query returns every client. Load failures yield an empty result.
func (d *Directory) Search(ctx context.Context, query string) []models.Client {
	clients, err := d.Load(ctx)
	if err != nil {
		d.logger.Errorf("Error searching clients: %v", err)
		return []models.Client{}
	}
	return Filter(clients, query)
}

// Filter applies the client search rules to a list
func Filter(clients []models.Client, query string) []models.Client {
	query = strings.TrimSpace(query)
	if query == "" {
		return append([]models.Client(nil), clients...)
	}

	digits := digitsOnly(query)
	byName := strings.IndexFunc(query, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0
	term := normalize.Fold(query)

	out := make([]models.Client, 0)
	for _, c := range clients {
		if digits != "" && phoneMatches(digitsOnly(c.Phone), digits) {
			out = append(out, c)
			continue
		}
		if byName && strings.Contains(normalize.Fold(c.Name), term) {
			out = append(out, c)
		}
	}
	return out
}

// phoneMatches tolerates partial and extended numbers: either side may contain the other
func phoneMatches(candidate, query string) bool {
	if candidate == "" {
		return false
	}
	return strings.Contains(candidate, query) || strings.Contains(query, candidate)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Placeholder synthesizes a client for a phone that matched nobody
func (d *Directory) Placeholder(phone string) models.Client {
	return models.NewPlaceholderClient(strings.TrimSpace(phone), time.Now())
}

// Reset forgets the cached clients
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients = nil
	d.loaded = false
	d.generation++
	d.group.Forget(loadKey)
}
