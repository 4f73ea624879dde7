package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tablecrm-orders-go/internal/models"
	"tablecrm-orders-go/internal/order"
	"tablecrm-orders-go/internal/tablecrm"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeCRM records posted bodies per path
type fakeCRM struct {
	mu         sync.Mutex
	bodies     map[string][]string
	saleStatus int
}

func (f *fakeCRM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], string(body))
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/contragents/":
		w.Write([]byte(`[{"id":501,"name":"Новый клиент"}]`))
	case "/docs_sales/":
		if f.saleStatus != 0 {
			w.WriteHeader(f.saleStatus)
			w.Write([]byte(`{"detail":"bad paybox"}`))
			return
		}
		w.Write([]byte(`[{"id":9001,"number":"17"}]`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func setup(t *testing.T) (*fakeCRM, *SaleProcessor) {
	t.Helper()
	crm := &fakeCRM{bodies: make(map[string][]string)}
	srv := httptest.NewServer(crm)
	t.Cleanup(srv.Close)

	api := tablecrm.NewAPI(tablecrm.Options{BaseURL: srv.URL, Token: "t"}, testLogger())
	p := NewSaleProcessor(api, testLogger())
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	return crm, p
}

func draft(client models.Client) *models.Order {
	o := &models.Order{
		Client:  &client,
		Account: &models.Reference{ID: "3"},
	}
	o.AddItem(models.Product{ID: "7", Name: "Milk", Price: decimal.NewFromInt(50)}, decimal.NewFromInt(5))
	return o
}

func TestSubmit_Success(t *testing.T) {
	crm, p := setup(t)

	result, err := p.Submit(context.Background(), draft(models.Client{ID: "42", Name: "Ann"}), true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !result.Success || result.DocumentID != "9001" || result.Number != "17" || !result.Conducted {
		t.Fatalf("result = %+v", result)
	}
	if !result.Total.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("total = %s", result.Total)
	}
	if !strings.Contains(result.Message, "проведен №17") {
		t.Fatalf("message = %q", result.Message)
	}

	var sent []map[string]interface{}
	if err := json.Unmarshal([]byte(crm.bodies["/docs_sales/"][0]), &sent); err != nil {
		t.Fatal(err)
	}
	if len(sent) != 1 || sent[0]["contragent"] != float64(42) || sent[0]["dated"] != float64(1700000000) || sent[0]["status"] != true {
		t.Fatalf("payload = %v", sent)
	}
	if len(crm.bodies["/contragents/"]) != 0 {
		t.Fatalf("existing client was recreated")
	}
}

func TestSubmit_CreatesPlaceholderClient(t *testing.T) {
	crm, p := setup(t)
	o := draft(models.NewPlaceholderClient("+79990001122", time.Now()))

	if _, err := p.Submit(context.Background(), o, false); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got := crm.bodies["/contragents/"]; len(got) != 1 || !strings.Contains(got[0], "+79990001122") {
		t.Fatalf("contragent bodies = %v", got)
	}
	if o.Client.ID != "501" {
		t.Fatalf("draft client = %+v", o.Client)
	}
	if !strings.Contains(crm.bodies["/docs_sales/"][0], `"contragent":501`) {
		t.Fatalf("sale body = %s", crm.bodies["/docs_sales/"][0])
	}
}

func TestSubmit_ValidationBeforeNetwork(t *testing.T) {
	crm, p := setup(t)

	result, err := p.Submit(context.Background(), &models.Order{}, false)
	var verr *order.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want validation error", err)
	}
	if result.ErrorCode != "VALIDATION_ERROR" || !strings.Contains(result.Message, "клиент") {
		t.Fatalf("result = %+v", result)
	}
	if len(crm.bodies) != 0 {
		t.Fatalf("network used: %v", crm.bodies)
	}
}

func TestSubmit_APIError(t *testing.T) {
	crm, p := setup(t)
	crm.saleStatus = http.StatusUnprocessableEntity

	result, err := p.Submit(context.Background(), draft(models.Client{ID: "42"}), false)
	var apiErr *tablecrm.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("err = %v", err)
	}
	if result.Success || result.ErrorCode != "TABLECRM_API_ERROR" {
		t.Fatalf("result = %+v", result)
	}
}
