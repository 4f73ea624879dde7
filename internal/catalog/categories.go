package catalog

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/models"
	"tablecrm-orders-go/internal/normalize"
)

// CategorySource is the part of the TableCRM API used for category browsing
type CategorySource interface {
	CategoriesTree(ctx context.Context) (normalize.Envelope, error)
	NomenclaturesByCategory(ctx context.Context, categoryID string) (normalize.Envelope, error)
}

// Categories caches the category tree and the products of visited categories
type Categories struct {
	mu         sync.Mutex
	source     CategorySource
	normalizer *normalize.Normalizer
	products   *Products
	tree       []*models.Category
	byCategory map[string][]models.Product
	logger     *logrus.Logger
}

// NewCategories creates a category browser. Products loaded per category are also
// stored in the given product cache so that text search can find them.
func NewCategories(source CategorySource, n *normalize.Normalizer, products *Products, logger *logrus.Logger) *Categories {
	return &Categories{
		source:     source,
		normalizer: n,
		products:   products,
		byCategory: make(map[string][]models.Product),
		logger:     logger,
	}
}

// Tree returns the category tree, fetching it on first use
func (c *Categories) Tree(ctx context.Context) []*models.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.tree) == 0 {
		c.tree = c.fetchTree(ctx)
	}
	return c.tree
}

// Reload fetches the category tree again
func (c *Categories) Reload(ctx context.Context) []*models.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree = c.fetchTree(ctx)
	return c.tree
}

func (c *Categories) fetchTree(ctx context.Context) []*models.Category {
	env, err := c.source.CategoriesTree(ctx)
	if err != nil {
		c.logger.Errorf("Error fetching categories tree: %v", err)
		return []*models.Category{}
	}
	tree := make([]*models.Category, 0, len(env.Items))
	for _, r := range env.Items {
		tree = append(tree, c.normalizer.Category(r))
	}
	c.logger.Infof("Loaded %d root categories", len(tree))
	return tree
}

// Flatten returns the tree in depth-first order
func Flatten(tree []*models.Category) []*models.Category {
	out := make([]*models.Category, 0, len(tree))
	var walk func(nodes []*models.Category)
	walk = func(nodes []*models.Category) {
		for _, node := range nodes {
			out = append(out, node)
			walk(node.Children)
		}
	}
	walk(tree)
	return out
}

// Flat returns every category of the tree
func (c *Categories) Flat(ctx context.Context) []*models.Category {
	return Flatten(c.Tree(ctx))
}

// Search filters the flattened categories by name
func (c *Categories) Search(ctx context.Context, query string) []*models.Category {
	all := c.Flat(ctx)
	if query == "" {
		return all
	}
	out := make([]*models.Category, 0)
	for _, cat := range all {
		if normalize.ContainsFold(cat.Name, query) {
			out = append(out, cat)
		}
	}
	return out
}

// Products returns the products of a category. Successful lookups are cached by category id.
func (c *Categories) Products(ctx context.Context, categoryID string) []models.Product {
	c.mu.Lock()
	if cached, ok := c.byCategory[categoryID]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	env, err := c.source.NomenclaturesByCategory(ctx, categoryID)
	if err != nil {
		c.logger.Errorf("Error fetching products of category %s: %v", categoryID, err)
		return []models.Product{}
	}

	products := make([]models.Product, 0, len(env.Items))
	for _, r := range env.Items {
		products = append(products, c.normalizer.Product(r, normalize.CatalogFields))
	}

	c.mu.Lock()
	c.byCategory[categoryID] = products
	c.mu.Unlock()

	if c.products != nil {
		c.products.Put(products)
	}
	return products
}

// Reset drops the cached tree and category products
func (c *Categories) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree = nil
	c.byCategory = make(map[string][]models.Product)
}
