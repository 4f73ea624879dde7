package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tablecrm-orders-go/internal/catalog"
	"tablecrm-orders-go/internal/directory"
	"tablecrm-orders-go/internal/models"
	"tablecrm-orders-go/internal/normalize"
	"tablecrm-orders-go/internal/processor"
	"tablecrm-orders-go/internal/tablecrm"
)

// Order list filters
const (
	FilterAll       = "all"
	FilterActive    = "active"
	FilterCompleted = "completed"
)

// Session owns the caches and the order draft of one authenticated user
type Session struct {
	Key       string
	CreatedAt time.Time

	API        *tablecrm.API
	Clients    *directory.Directory
	Products   *catalog.Products
	Categories *catalog.Categories
	Processor  *processor.SaleProcessor

	normalizer *normalize.Normalizer
	ordersPage int
	logger     *logrus.Logger

	mu    sync.Mutex
	draft models.Order
}

// Draft returns a copy of the current order draft
func (s *Session) Draft() models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.draft)
}

// SetDraft replaces the draft
func (s *Session) SetDraft(o models.Order) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.Normalize()
	s.draft = cloneOrder(o)
	return cloneOrder(s.draft)
}

// EditDraft applies fn to the draft; the draft is left unchanged when fn fails
func (s *Session) EditDraft(fn func(o *models.Order) error) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	edited := cloneOrder(s.draft)
	if err := fn(&edited); err != nil {
		return cloneOrder(s.draft), err
	}
	s.draft = edited
	return cloneOrder(s.draft), nil
}

// AddProduct appends a cached product to the draft
func (s *Session) AddProduct(productID string, quantity decimal.Decimal) (models.Order, error) {
	product, ok := s.Products.Get(productID)
	if !ok {
		return s.Draft(), fmt.Errorf("product %s is not in the catalog", productID)
	}
	return s.EditDraft(func(o *models.Order) error {
		return o.AddItem(product, quantity)
	})
}

// ResetDraft discards the draft
func (s *Session) ResetDraft() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = models.Order{}
}

// SubmitDraft sends the draft and discards it on success.
// The draft lock is held for the whole submission so that two submits cannot race.
func (s *Session) SubmitDraft(ctx context.Context, conduct bool) (*models.SubmissionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.Processor.Submit(ctx, &s.draft, conduct)
	if err != nil {
		return result, err
	}
	s.draft = models.Order{}
	return result, nil
}

// Reference fetches accounts, organizations, warehouses and price types in parallel.
// A failed list is logged and returned empty.
func (s *Session) Reference(ctx context.Context) models.ReferenceData {
	var data models.ReferenceData
	fetch := func(name string, get func(context.Context) (normalize.Envelope, error), dst *[]models.Reference) func() error {
		return func() error {
			env, err := get(ctx)
			if err != nil {
				s.logger.Errorf("Error fetching %s: %v", name, err)
				*dst = []models.Reference{}
				return nil
			}
			*dst = s.normalizer.References(env.Items)
			return nil
		}
	}

	var g errgroup.Group
	g.Go(fetch("payboxes", s.API.Payboxes, &data.Accounts))
	g.Go(fetch("organizations", s.API.Organizations, &data.Organizations))
	g.Go(fetch("warehouses", s.API.Warehouses, &data.Warehouses))
	g.Go(fetch("price types", s.API.PriceTypes, &data.PriceTypes))
	_ = g.Wait()
	return data
}

// ApplyDefaults selects the first entry of each reference list for unset draft fields
func (s *Session) ApplyDefaults(ref models.ReferenceData) models.Order {
	o, _ := s.EditDraft(func(o *models.Order) error {
		o.Account = firstIfNil(o.Account, ref.Accounts)
		o.Organization = firstIfNil(o.Organization, ref.Organizations)
		o.Warehouse = firstIfNil(o.Warehouse, ref.Warehouses)
		o.PriceType = firstIfNil(o.PriceType, ref.PriceTypes)
		return nil
	})
	return o
}

// Orders lists sale documents and feeds their products into the product cache
func (s *Session) Orders(ctx context.Context, limit, offset int, filter string) []models.SaleDocument {
	if limit <= 0 {
		limit = s.ordersPage
	}
	records := s.API.SalesWithRetry(ctx, limit, offset)
	if len(records) > 0 {
		s.Products.MergeOrders(records)
	}

	out := make([]models.SaleDocument, 0, len(records))
	for _, r := range records {
		doc := s.normalizer.SaleDocument(r)
		switch filter {
		case FilterActive:
			if doc.Conducted {
				continue
			}
		case FilterCompleted:
			if !doc.Conducted {
				continue
			}
		}
		out = append(out, doc)
	}
	return out
}

// SearchProducts loads the product cache from recent orders on first use
func (s *Session) SearchProducts(ctx context.Context, query string) []models.Product {
	s.Products.EnsureLoaded(ctx, s.API, s.ordersPage)
	return s.Products.Search(query)
}

// Clear drops every cache and the draft
func (s *Session) Clear() {
	s.Clients.Reset()
	s.Products.Clear()
	s.Categories.Reset()
	s.ResetDraft()
}

func firstIfNil(current *models.Reference, list []models.Reference) *models.Reference {
	if current != nil || len(list) == 0 {
		return current
	}
	first := list[0]
	return &first
}

func cloneOrder(o models.Order) models.Order {
	c := o
	c.Items = append(make([]models.OrderItem, 0, len(o.Items)), o.Items...)
	if o.Client != nil {
		client := *o.Client
		c.Client = &client
	}
	c.Account = cloneRef(o.Account)
	c.Organization = cloneRef(o.Organization)
	c.Warehouse = cloneRef(o.Warehouse)
	c.PriceType = cloneRef(o.PriceType)
	if o.Delivery != nil {
		delivery := *o.Delivery
		c.Delivery = &delivery
	}
	if o.AdditionalParams != nil {
		params := *o.AdditionalParams
		params.Tags = append([]string(nil), o.AdditionalParams.Tags...)
		c.AdditionalParams = &params
	}
	return c
}

func cloneRef(ref *models.Reference) *models.Reference {
	if ref == nil {
		return nil
	}
	c := *ref
	return &c
}
