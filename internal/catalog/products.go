package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/models"
	"tablecrm-orders-go/internal/normalize"
)

// DefaultSearchLimit is the number of products returned for an empty query
const DefaultSearchLimit = 20

var (
	orderNomenclature = normalize.Keys("nomenclature")
	orderLines        = normalize.Keys("goods", "items", "products")
)

// SalesSource lists recent sale documents
type SalesSource interface {
	SalesWithRetry(ctx context.Context, limit, offset int) []normalize.Record
}

// productIndex is an insertion-ordered product set keyed by id
type productIndex struct {
	order []string
	byID  map[string]models.Product
}

func newProductIndex() *productIndex {
	return &productIndex{byID: make(map[string]models.Product)}
}

func (idx *productIndex) apply(patch normalize.ProductPatch) {
	if existing, ok := idx.byID[patch.ID]; ok {
		idx.byID[patch.ID] = patch.Apply(&existing)
		return
	}
	idx.order = append(idx.order, patch.ID)
	idx.byID[patch.ID] = patch.Apply(nil)
}

func (idx *productIndex) put(p models.Product) {
	if _, ok := idx.byID[p.ID]; !ok {
		idx.order = append(idx.order, p.ID)
	}
	idx.byID[p.ID] = p
}

func (idx *productIndex) applyOrders(n *normalize.Normalizer, orders []normalize.Record) {
	for _, order := range orders {
		if nom, ok := orderNomenclature.Record(order); ok {
			idx.apply(n.ProductPatch(nom, normalize.NomenclatureFields))
		}
		if lines, ok := orderLines.List(order); ok {
			for _, line := range normalize.Records(lines) {
				idx.apply(n.ProductPatch(line, normalize.LineItemFields))
			}
		}
	}
}

func (idx *productIndex) list() []models.Product {
	out := make([]models.Product, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.byID[id])
	}
	return out
}

// Extract deduplicates the products embedded in sale documents.
// Later occurrences overwrite earlier ones only for the fields they carry.
func Extract(n *normalize.Normalizer, orders []normalize.Record) []models.Product {
	idx := newProductIndex()
	idx.applyOrders(n, orders)
	return idx.list()
}

// Products caches products seen in order history and category listings
type Products struct {
	mu         sync.RWMutex
	index      *productIndex
	loaded     bool
	normalizer *normalize.Normalizer
	logger     *logrus.Logger
}

// NewProducts creates an empty product cache
func NewProducts(n *normalize.Normalizer, logger *logrus.Logger) *Products {
	return &Products{
		index:      newProductIndex(),
		normalizer: n,
		logger:     logger,
	}
}

// MergeOrders extracts products from sale documents into the cache
func (p *Products) MergeOrders(orders []normalize.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	before := len(p.index.order)
	p.index.applyOrders(p.normalizer, orders)
	p.loaded = true
	p.logger.Debugf("Product cache: %d orders scanned, %d new products, %d total", len(orders), len(p.index.order)-before, len(p.index.order))
}

// Put stores fully normalized products, replacing entries with the same id
func (p *Products) Put(products []models.Product) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, product := range products {
		p.index.put(product)
	}
}

// Replace discards the cache contents and stores the given products
func (p *Products) Replace(products []models.Product) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = newProductIndex()
	for _, product := range products {
		p.index.put(product)
	}
	p.loaded = true
}

// Refresh scans the most recent sale documents
func (p *Products) Refresh(ctx context.Context, source SalesSource, limit int) {
	orders := source.SalesWithRetry(ctx, limit, 0)
	p.MergeOrders(orders)
	p.logger.Infof("Product cache refreshed from %d sale documents", len(orders))
}

// EnsureLoaded refreshes the cache once
func (p *Products) EnsureLoaded(ctx context.Context, source SalesSource, limit int) {
	p.mu.RLock()
	loaded := p.loaded
	p.mu.RUnlock()
	if !loaded {
		p.Refresh(ctx, source, limit)
	}
}

// Get returns a product by id
func (p *Products) Get(id string) (models.Product, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	product, ok := p.index.byID[id]
	return product, ok
}

// All returns the cached products in insertion order
func (p *Products) All() []models.Product {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index.list()
}

// Len returns the number of cached products
func (p *Products) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.index.order)
}

// Search matches name, SKU and article case-insensitively.
// An empty query returns the first DefaultSearchLimit products.
func (p *Products) Search(query string) []models.Product {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.Product, 0)
	if strings.TrimSpace(query) == "" {
		for _, id := range p.index.order {
			if len(out) == DefaultSearchLimit {
				break
			}
			out = append(out, p.index.byID[id])
		}
		return out
	}

	term := normalize.Fold(query)
	for _, id := range p.index.order {
		product := p.index.byID[id]
		if strings.Contains(normalize.Fold(product.Name), term) ||
			(product.SKU != "" && strings.Contains(normalize.Fold(product.SKU), term)) ||
			(product.Article != "" && strings.Contains(normalize.Fold(product.Article), term)) {
			out = append(out, product)
		}
	}
	return out
}

// Clear empties the cache
func (p *Products) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = newProductIndex()
	p.loaded = false
}
