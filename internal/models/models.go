package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PlaceholderClientPrefix marks clients synthesized locally and not yet known to TableCRM
const PlaceholderClientPrefix = "new-"

// Client represents a TableCRM contragent
type Client struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// IsPlaceholder reports whether the client still has to be created in TableCRM
func (c Client) IsPlaceholder() bool {
	return strings.HasPrefix(c.ID, PlaceholderClientPrefix)
}

// NewPlaceholderClient builds a local client for a phone number that matched nobody
func NewPlaceholderClient(phone string, now time.Time) Client {
	return Client{
		ID:    PlaceholderClientPrefix + strconv.FormatInt(now.UnixMilli(), 10),
		Name:  "Новый клиент",
		Phone: phone,
	}
}

// Product represents a nomenclature entry
type Product struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Article string          `json:"article,omitempty"`
	SKU     string          `json:"sku,omitempty"`
	Price   decimal.Decimal `json:"price"`
	Stock   decimal.Decimal `json:"stock"`
}

// Category represents a node of the nomenclature category tree
type Category struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Parent       *string     `json:"parent"`
	Description  string      `json:"description,omitempty"`
	Code         string      `json:"code,omitempty"`
	Status       bool        `json:"status"`
	ProductCount int         `json:"nom_count"`
	Children     []*Category `json:"children,omitempty"`
}

// Reference is an id/name pair used for accounts, organizations, warehouses and price types
type Reference struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReferenceData groups the select lists needed to assemble an order
type ReferenceData struct {
	Accounts      []Reference `json:"accounts"`
	Organizations []Reference `json:"organizations"`
	Warehouses    []Reference `json:"warehouses"`
	PriceTypes    []Reference `json:"price_types"`
}

// OrderItem represents an order line
type OrderItem struct {
	Product  Product         `json:"product"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// NewOrderItem creates an item priced from the product
func NewOrderItem(product Product, quantity decimal.Decimal) OrderItem {
	item := OrderItem{
		Product:  product,
		Quantity: quantity,
		Price:    product.Price,
	}
	item.Recalculate()
	return item
}

// Recalculate restores Total = Price * Quantity. Discount is not applied to the line total.
func (i *OrderItem) Recalculate() {
	i.Total = i.Price.Mul(i.Quantity)
}

// Recipient is the person receiving a delivery
type Recipient struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Delivery holds optional delivery details
type Delivery struct {
	Enabled   bool      `json:"enabled"`
	Address   string    `json:"address,omitempty"`
	Date      string    `json:"date,omitempty"`
	Time      string    `json:"time,omitempty"`
	Cost      string    `json:"cost,omitempty"`
	Note      string    `json:"note,omitempty"`
	Recipient Recipient `json:"recipient"`
}

// AdditionalParams holds optional document metadata
type AdditionalParams struct {
	Number   string   `json:"number,omitempty"`
	Comment  string   `json:"comment,omitempty"`
	Contract string   `json:"contract,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	DealID   string   `json:"deal_id,omitempty"`
}

// Order is a draft sale assembled before submission
type Order struct {
	Client           *Client           `json:"client,omitempty"`
	Account          *Reference        `json:"account,omitempty"`
	Organization     *Reference        `json:"organization,omitempty"`
	Warehouse        *Reference        `json:"warehouse,omitempty"`
	PriceType        *Reference        `json:"price_type,omitempty"`
	Items            []OrderItem       `json:"items"`
	Comment          string            `json:"comment,omitempty"`
	Priority         string            `json:"priority,omitempty"`
	Delivery         *Delivery         `json:"delivery,omitempty"`
	AdditionalParams *AdditionalParams `json:"additional_params,omitempty"`
}

// Total returns the sum of line totals
func (o *Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Total)
	}
	return total
}

// Discount returns the sum of line discounts
func (o *Order) Discount() decimal.Decimal {
	discount := decimal.Zero
	for _, item := range o.Items {
		discount = discount.Add(item.Discount)
	}
	return discount
}

// AddItem appends a line for the product
func (o *Order) AddItem(product Product, quantity decimal.Decimal) error {
	if !quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", quantity)
	}
	o.Items = append(o.Items, NewOrderItem(product, quantity))
	return nil
}

// SetQuantity changes a line quantity and recomputes its total
func (o *Order) SetQuantity(index int, quantity decimal.Decimal) error {
	if index < 0 || index >= len(o.Items) {
		return fmt.Errorf("item %d out of range", index)
	}
	if !quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive, got %s", quantity)
	}
	o.Items[index].Quantity = quantity
	o.Items[index].Recalculate()
	return nil
}

// RemoveItem deletes a line
func (o *Order) RemoveItem(index int) error {
	if index < 0 || index >= len(o.Items) {
		return fmt.Errorf("item %d out of range", index)
	}
	o.Items = append(o.Items[:index], o.Items[index+1:]...)
	return nil
}

// Normalize recomputes every line total; used after decoding an order from a request
func (o *Order) Normalize() {
	for i := range o.Items {
		o.Items[i].Recalculate()
	}
}

// SaleDocument is a normalized entry of the docs_sales list
type SaleDocument struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	Dated          *time.Time      `json:"dated,omitempty"`
	Operation      string          `json:"operation"`
	Conducted      bool            `json:"status"`
	Sum            decimal.Decimal `json:"sum"`
	ContragentName string          `json:"contragent_name,omitempty"`
	OrderStatus    string          `json:"order_status,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	Warehouse      string          `json:"warehouse,omitempty"`
	Organization   string          `json:"organization,omitempty"`
	Recipient      *Recipient      `json:"recipient,omitempty"`
}

// StatusText returns the label shown to users
func (d SaleDocument) StatusText() string {
	switch {
	case d.Conducted:
		return "Проведен"
	case d.OrderStatus == "received":
		return "Получен"
	default:
		return "Черновик"
	}
}

// Summary returns a brief description of the document
func (d SaleDocument) Summary() string {
	s := fmt.Sprintf("Заказ №%s (%s): %s ₽", d.Number, d.StatusText(), d.Sum.StringFixed(2))
	if d.ContragentName != "" {
		s += "\nКлиент: " + d.ContragentName
	}
	if d.CreatedAt != nil {
		s += "\nСоздан: " + d.CreatedAt.Format("02.01.2006 15:04")
	}
	return s
}

// SubmissionResult represents the result of order submission
type SubmissionResult struct {
	Success    bool                   `json:"success"`
	Message    string                 `json:"message"`
	Conducted  bool                   `json:"conducted"`
	DocumentID string                 `json:"document_id,omitempty"`
	Number     string                 `json:"number,omitempty"`
	Total      decimal.Decimal        `json:"total"`
	Discount   decimal.Decimal        `json:"discount"`
	Document   map[string]interface{} `json:"document,omitempty"`
	ErrorCode  string                 `json:"error_code,omitempty"`
}
