package order

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tablecrm-orders-go/internal/models"
)

// Operation is the document kind of every submitted sale
const Operation = "Заказ"

// ValidationError lists required order fields that are not set
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order is incomplete: missing %s", strings.Join(e.Missing, ", "))
}

// Validate returns a *ValidationError when the order cannot be submitted
func Validate(o *models.Order) error {
	var missing []string
	if o.Client == nil || strings.TrimSpace(o.Client.ID) == "" {
		missing = append(missing, "client")
	}
	if o.Account == nil || strings.TrimSpace(o.Account.ID) == "" {
		missing = append(missing, "account")
	}
	if len(o.Items) == 0 {
		missing = append(missing, "items")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

// FlexID is an identifier sent as a JSON number when it parses as an integer and as a string otherwise
type FlexID string

func (id FlexID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// SaleGood is one line of the sale document
type SaleGood struct {
	Nomenclature FlexID  `json:"nomenclature"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
}

// SalePayload is the body of POST /docs_sales/
type SalePayload struct {
	Dated        int64      `json:"dated"`
	Operation    string     `json:"operation"`
	Contragent   FlexID     `json:"contragent"`
	Paybox       FlexID     `json:"paybox"`
	Organization *FlexID    `json:"organization,omitempty"`
	Warehouse    *FlexID    `json:"warehouse,omitempty"`
	PriceType    *FlexID    `json:"price_type,omitempty"`
	Goods        []SaleGood `json:"goods"`
	Comment      string     `json:"comment"`
	Number       string     `json:"number,omitempty"`
	Contract     *FlexID    `json:"contract,omitempty"`
	Tags         string     `json:"tags,omitempty"`
	DealID       *FlexID    `json:"deal_id,omitempty"`
	Priority     string     `json:"priority,omitempty"`
	Status       bool       `json:"status"`
}

// Build converts a validated draft into the sale payload
func Build(o *models.Order, conduct bool, now time.Time) SalePayload {
	payload := SalePayload{
		Dated:     now.Unix(),
		Operation: Operation,
		Goods:     make([]SaleGood, 0, len(o.Items)),
		Comment:   Comment(o),
		Priority:  o.Priority,
		Status:    conduct,
	}
	if o.Client != nil {
		payload.Contragent = FlexID(o.Client.ID)
	}
	if o.Account != nil {
		payload.Paybox = FlexID(o.Account.ID)
	}
	payload.Organization = optionalRef(o.Organization)
	payload.Warehouse = optionalRef(o.Warehouse)
	payload.PriceType = optionalRef(o.PriceType)

	for _, item := range o.Items {
		payload.Goods = append(payload.Goods, SaleGood{
			Nomenclature: FlexID(item.Product.ID),
			Quantity:     item.Quantity.InexactFloat64(),
			Price:        item.Price.InexactFloat64(),
		})
	}

	if params := o.AdditionalParams; params != nil {
		payload.Number = strings.TrimSpace(params.Number)
		payload.Contract = optionalID(params.Contract)
		payload.DealID = optionalID(params.DealID)
		payload.Tags = joinTags(params.Tags)
	}
	return payload
}

// Wrap puts the payload into the single-element list the endpoint expects
func Wrap(payload SalePayload) []SalePayload {
	return []SalePayload{payload}
}

// Comment returns the document comment with the delivery summary appended
func Comment(o *models.Order) string {
	comment := o.Comment
	if o.AdditionalParams != nil && strings.TrimSpace(o.AdditionalParams.Comment) != "" {
		comment = o.AdditionalParams.Comment
	}
	if summary := DeliverySummary(o.Delivery); summary != "" {
		if comment != "" {
			comment += "\n"
		}
		comment += summary
	}
	return comment
}

// DeliverySummary renders enabled delivery details as a single line
func DeliverySummary(d *models.Delivery) string {
	if d == nil || !d.Enabled {
		return ""
	}
	var parts []string
	add := func(label, value string) {
		if value = strings.TrimSpace(value); value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Адрес", d.Address)
	date := strings.TrimSpace(d.Date + " " + d.Time)
	add("Дата", date)
	add("Получатель", d.Recipient.Name)
	add("Телефон", d.Recipient.Phone)
	if len(parts) == 0 {
		return ""
	}
	return "DELIVERY: " + strings.Join(parts, ", ")
}

func joinTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	for _, tag := range tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			clean = append(clean, tag)
		}
	}
	return strings.Join(clean, ",")
}

func optionalRef(ref *models.Reference) *FlexID {
	if ref == nil {
		return nil
	}
	return optionalID(ref.ID)
}

func optionalID(id string) *FlexID {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	v := FlexID(id)
	return &v
}
