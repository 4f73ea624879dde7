package normalize

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tablecrm-orders-go/internal/models"
)

// DefaultStock is assumed when a payload carries no stock figure
var DefaultStock = decimal.NewFromInt(10)

var (
	clientID      = Keys("id")
	clientName    = Keys("name")
	clientFirst   = Keys("first_name")
	clientLast    = Keys("last_name")
	clientCompany = Keys("company")
	clientTitle   = Keys("title")
	clientPhone   = Keys("phone", "phone_number", "mobile")
	clientEmail   = Keys("email")
	clientAddress = Keys("address", "legal_address", "actual_address")
)

// ProductFields lists the candidate keys for each product attribute of one payload shape
type ProductFields struct {
	ID      Chain
	Name    Chain
	Article Chain
	SKU     Chain
	Price   Chain
	Stock   Chain
}

var (
	// LineItemFields describes entries of goods/items/products lists inside sale documents
	LineItemFields = ProductFields{
		ID:      Keys("nomenclature", "nomenclature_id", "product_id", "good_id", "id"),
		Name:    Keys("nomenclature_name", "nomenclature_title", "name", "title", "product_name", "good_name"),
		Article: Keys("article", "articul", "code"),
		SKU:     Keys("sku", "article", "articul", "code"),
		Price:   Keys("price", "price_sale", "price_retail"),
		Stock:   Keys("quantity", "rest", "stock", "available"),
	}

	// NomenclatureFields describes a nested nomenclature object of a sale document
	NomenclatureFields = ProductFields{
		ID:      Keys("id", "code"),
		Name:    Keys("name", "title"),
		Article: Keys("article", "articul"),
		SKU:     Keys("sku", "article"),
		Price:   Keys("price", "price_sale"),
		Stock:   Keys("quantity", "stock"),
	}

	// CatalogFields describes entries returned by the nomenclatures-by-category lookup
	CatalogFields = ProductFields{
		ID:      Keys("id", "code"),
		Name:    Keys("name", "title"),
		Article: Keys("article", "articul"),
		SKU:     Keys("sku", "article"),
		Price:   Keys("price", "price_sale", "price_retail"),
		Stock:   Keys("quantity", "rest", "stock"),
	}
)

var (
	categoryID          = Keys("key", "id")
	categoryName        = Keys("name")
	categoryParent      = Keys("parent")
	categoryDescription = Keys("description")
	categoryCode        = Keys("code")
	categoryStatus      = Keys("status")
	categoryCount       = Keys("nom_count")
	categoryChildren    = Keys("children")

	referenceID   = Keys("id")
	referenceName = Keys("name", "short_name", "work_name", "full_name", "title")

	saleID          = Keys("id")
	saleNumber      = Keys("number")
	saleDated       = Keys("dated")
	saleOperation   = Keys("operation")
	saleStatus      = Keys("status")
	saleSum         = Keys("sum")
	saleContragent  = Keys("contragent_name")
	saleOrderStatus = Keys("order_status")
	saleCreatedAt   = Keys("created_at")
	saleWarehouse   = Keys("warehouse")
	saleOrg         = Keys("organization")
	saleDelivery    = Keys("delivery_info")
	saleRecipient   = Keys("recipient")
	recipientName   = Keys("name")
	recipientPhone  = Keys("phone")
)

// Normalizer converts raw records into models. It is deterministic for a deterministic ID generator.
type Normalizer struct {
	newID func() string
}

// New creates a normalizer that fills missing identifiers with random placeholders
func New() *Normalizer {
	return &Normalizer{newID: func() string { return "tmp-" + uuid.NewString() }}
}

// NewWithIDGenerator creates a normalizer with a custom placeholder generator
func NewWithIDGenerator(newID func() string) *Normalizer {
	return &Normalizer{newID: newID}
}

// Client normalizes a contragent record
func (n *Normalizer) Client(r Record) models.Client {
	c := models.Client{
		ID:      clientID.StringOr(r, ""),
		Phone:   clientPhone.StringOr(r, ""),
		Email:   clientEmail.StringOr(r, ""),
		Address: clientAddress.StringOr(r, ""),
	}
	if c.ID == "" {
		c.ID = n.newID()
	}
	c.Name = DisplayName(r, c.ID, c.Phone)
	return c
}

// DisplayName applies the client name fallback chain:
// name, first+last name, company, title, "Client {phone}", "Client #{id}"
func DisplayName(r Record, id, phone string) string {
	if name, ok := clientName.String(r); ok {
		return strings.TrimSpace(name)
	}
	first := clientFirst.StringOr(r, "")
	last := clientLast.StringOr(r, "")
	if full := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last)); full != "" {
		return full
	}
	if company, ok := clientCompany.String(r); ok {
		return company
	}
	if title, ok := clientTitle.String(r); ok {
		return title
	}
	if phone != "" {
		return "Client " + phone
	}
	return "Client #" + id
}

// ProductPatch carries the product attributes present in one payload.
// Nil fields were absent and must not overwrite previously known values.
type ProductPatch struct {
	ID      string
	Name    *string
	Article *string
	SKU     *string
	Price   *decimal.Decimal
	Stock   *decimal.Decimal
}

// ProductPatch extracts product attributes using the given key chains
func (n *Normalizer) ProductPatch(r Record, f ProductFields) ProductPatch {
	p := ProductPatch{ID: f.ID.StringOr(r, "")}
	if p.ID == "" {
		p.ID = n.newID()
	}
	if s, ok := f.Name.String(r); ok {
		p.Name = &s
	}
	if s, ok := f.Article.String(r); ok {
		p.Article = &s
	}
	if s, ok := f.SKU.String(r); ok {
		p.SKU = &s
	}
	if d, ok := f.Price.Decimal(r); ok {
		p.Price = &d
	}
	if d, ok := f.Stock.Decimal(r); ok {
		p.Stock = &d
	}
	return p
}

// Apply merges the patch over an existing product. Without one, defaults fill the gaps.
func (p ProductPatch) Apply(existing *models.Product) models.Product {
	var out models.Product
	if existing != nil {
		out = *existing
	} else {
		out = models.Product{
			Name:  "Товар " + p.ID,
			Price: decimal.Zero,
			Stock: DefaultStock,
		}
	}
	out.ID = p.ID
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Article != nil {
		out.Article = *p.Article
	}
	if p.SKU != nil {
		out.SKU = *p.SKU
	}
	if p.Price != nil {
		out.Price = *p.Price
	}
	if p.Stock != nil {
		out.Stock = *p.Stock
	}
	return out
}

// Product normalizes a standalone product record
func (n *Normalizer) Product(r Record, f ProductFields) models.Product {
	return n.ProductPatch(r, f).Apply(nil)
}

// Category maps a category tree node and its children
func (n *Normalizer) Category(r Record) *models.Category {
	c := &models.Category{
		ID:          categoryID.StringOr(r, ""),
		Name:        categoryName.StringOr(r, ""),
		Description: categoryDescription.StringOr(r, ""),
		Code:        categoryCode.StringOr(r, ""),
		Children:    []*models.Category{},
	}
	if c.ID == "" {
		c.ID = n.newID()
	}
	if parent, ok := categoryParent.String(r); ok {
		c.Parent = &parent
	}
	c.Status, _ = categoryStatus.Bool(r)
	if count, ok := categoryCount.Int(r); ok {
		c.ProductCount = int(count)
	}
	if children, ok := categoryChildren.List(r); ok {
		for _, child := range Records(children) {
			c.Children = append(c.Children, n.Category(child))
		}
	}
	return c
}

// Reference normalizes an account, organization, warehouse or price type
func (n *Normalizer) Reference(r Record) models.Reference {
	ref := models.Reference{ID: referenceID.StringOr(r, "")}
	if ref.ID == "" {
		ref.ID = n.newID()
	}
	ref.Name = referenceName.StringOr(r, "#"+ref.ID)
	return ref
}

// References normalizes every record of a list
func (n *Normalizer) References(records []Record) []models.Reference {
	out := make([]models.Reference, 0, len(records))
	for _, r := range records {
		out = append(out, n.Reference(r))
	}
	return out
}

// SaleDocument normalizes an entry of the docs_sales list
func (n *Normalizer) SaleDocument(r Record) models.SaleDocument {
	doc := models.SaleDocument{
		ID:             saleID.StringOr(r, ""),
		Number:         saleNumber.StringOr(r, ""),
		Operation:      saleOperation.StringOr(r, ""),
		Sum:            saleSum.DecimalOr(r, decimal.Zero),
		ContragentName: saleContragent.StringOr(r, ""),
		OrderStatus:    saleOrderStatus.StringOr(r, ""),
		Warehouse:      saleWarehouse.StringOr(r, ""),
		Organization:   saleOrg.StringOr(r, ""),
	}
	if doc.ID == "" {
		doc.ID = n.newID()
	}
	doc.Conducted, _ = saleStatus.Bool(r)
	doc.Dated = epoch(saleDated, r)
	doc.CreatedAt = epoch(saleCreatedAt, r)
	if delivery, ok := saleDelivery.Record(r); ok {
		if rec, ok := saleRecipient.Record(delivery); ok {
			doc.Recipient = &models.Recipient{
				Name:  recipientName.StringOr(rec, ""),
				Phone: recipientPhone.StringOr(rec, ""),
			}
		}
	}
	return doc
}

func epoch(c Chain, r Record) *time.Time {
	seconds, ok := c.Int(r)
	if !ok || seconds == 0 {
		return nil
	}
	t := time.Unix(seconds, 0)
	return &t
}
