package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/models"
	"tablecrm-orders-go/internal/normalize"
	"tablecrm-orders-go/internal/order"
	"tablecrm-orders-go/internal/tablecrm"
)

var (
	createdID     = normalize.Keys("id")
	createdNumber = normalize.Keys("number", "doc_number")
)

// SaleAPI is the part of the TableCRM client used to submit orders
type SaleAPI interface {
	VerifyToken(ctx context.Context) bool
	CreateContragent(ctx context.Context, name, phone string) (normalize.Record, error)
	CreateSale(ctx context.Context, payload interface{}) (normalize.Record, error)
}

// SaleProcessor turns order drafts into TableCRM sale documents
type SaleProcessor struct {
	api    SaleAPI
	now    func() time.Time
	logger *logrus.Logger
}

// NewSaleProcessor creates a new sale processor
func NewSaleProcessor(api SaleAPI, logger *logrus.Logger) *SaleProcessor {
	return &SaleProcessor{
		api:    api,
		now:    time.Now,
		logger: logger,
	}
}

// Submit validates and sends the order. A placeholder client is created in TableCRM first
// and replaces the draft client, so a repeated submit does not create it twice.
// The result is always filled; the error is non-nil when nothing was created.
func (p *SaleProcessor) Submit(ctx context.Context, o *models.Order, conduct bool) (*models.SubmissionResult, error) {
	o.Normalize()

	if err := order.Validate(o); err != nil {
		var verr *order.ValidationError
		errors.As(err, &verr)
		return &models.SubmissionResult{
			Success:   false,
			Message:   "❌ Заполните обязательные поля: " + strings.Join(translateFields(verr.Missing), ", "),
			ErrorCode: "VALIDATION_ERROR",
		}, err
	}

	p.logger.Infof("Submitting order: client %s, %d items, total %s, conduct=%t",
		o.Client.ID, len(o.Items), o.Total().StringFixed(2), conduct)

	if o.Client.IsPlaceholder() {
		client, err := p.createClient(ctx, o.Client)
		if err != nil {
			p.logger.Errorf("Contragent creation error: %v", err)
			return &models.SubmissionResult{
				Success:   false,
				Message:   fmt.Sprintf("❌ Не удалось создать клиента:\n%v", err),
				ErrorCode: "CONTRAGENT_ERROR",
			}, err
		}
		o.Client = client
	}

	payload := order.Build(o, conduct, p.now())
	doc, err := p.api.CreateSale(ctx, order.Wrap(payload))
	if err != nil {
		p.logger.Errorf("TableCRM API error: %v", err)
		return &models.SubmissionResult{
			Success:   false,
			Message:   fmt.Sprintf("❌ Ошибка создания заказа:\n%v", err),
			ErrorCode: "TABLECRM_API_ERROR",
		}, fmt.Errorf("create sale: %w", err)
	}

	return p.createSuccessResult(o, conduct, doc), nil
}

func (p *SaleProcessor) createClient(ctx context.Context, placeholder *models.Client) (*models.Client, error) {
	name := strings.TrimSpace(placeholder.Name)
	if name == "" {
		name = "Новый клиент"
	}
	rec, err := p.api.CreateContragent(ctx, name, placeholder.Phone)
	if err != nil {
		return nil, err
	}
	id, ok := createdID.String(rec)
	if !ok {
		return nil, &tablecrm.APIError{Message: "TableCRM returned a contragent without id"}
	}
	p.logger.Infof("Contragent created: %s (%s)", id, placeholder.Phone)
	return &models.Client{
		ID:      id,
		Name:    name,
		Phone:   placeholder.Phone,
		Email:   placeholder.Email,
		Address: placeholder.Address,
	}, nil
}

// createSuccessResult creates successful processing result
func (p *SaleProcessor) createSuccessResult(o *models.Order, conduct bool, doc normalize.Record) *models.SubmissionResult {
	result := &models.SubmissionResult{
		Success:    true,
		Conducted:  conduct,
		DocumentID: createdID.StringOr(doc, ""),
		Number:     createdNumber.StringOr(doc, ""),
		Total:      o.Total(),
		Discount:   o.Discount(),
		Document:   doc,
	}
	result.Message = p.formatSuccessMessage(o, result)
	return result
}

// formatSuccessMessage formats success message
func (p *SaleProcessor) formatSuccessMessage(o *models.Order, result *models.SubmissionResult) string {
	message := "✅ Заказ создан"
	if result.Conducted {
		message = "✅ Заказ создан и проведен"
	}
	if result.Number != "" {
		message += " №" + result.Number
	}
	message += "\n\n"

	message += fmt.Sprintf("👤 Клиент: %s", o.Client.Name)
	if o.Client.Phone != "" {
		message += fmt.Sprintf(" (%s)", o.Client.Phone)
	}
	message += "\n"
	message += fmt.Sprintf("📦 Позиций: %d\n", len(o.Items))
	message += fmt.Sprintf("💵 Сумма: %s ₽\n", result.Total.StringFixed(2))
	if result.Discount.IsPositive() {
		message += fmt.Sprintf("🏷 Скидка: %s ₽\n", result.Discount.StringFixed(2))
	}
	if result.DocumentID != "" {
		message += fmt.Sprintf("\n🆔 Документ: %s", result.DocumentID)
	}
	return message
}

// CheckConnection checks TableCRM connection
func (p *SaleProcessor) CheckConnection(ctx context.Context) bool {
	return p.api.VerifyToken(ctx)
}

func translateFields(fields []string) []string {
	labels := map[string]string{
		"client":  "клиент",
		"account": "счет",
		"items":   "товары",
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if label, ok := labels[f]; ok {
			out = append(out, label)
			continue
		}
		out = append(out, f)
	}
	return out
}
