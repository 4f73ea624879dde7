package order

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tablecrm-orders-go/internal/models"
)

func sampleOrder() *models.Order {
	o := &models.Order{
		Client:  &models.Client{ID: "42", Name: "Ann"},
		Account: &models.Reference{ID: "3", Name: "Касса"},
	}
	o.AddItem(models.Product{ID: "7", Name: "Milk", Price: decimal.NewFromInt(50)}, decimal.NewFromInt(3))
	o.AddItem(models.Product{ID: "sku-x", Name: "Bread", Price: decimal.NewFromInt(100)}, decimal.NewFromInt(1))
	return o
}

func TestValidate(t *testing.T) {
	if err := Validate(sampleOrder()); err != nil {
		t.Fatalf("valid order rejected: %v", err)
	}

	err := Validate(&models.Order{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if got := strings.Join(verr.Missing, ","); got != "client,account,items" {
		t.Fatalf("missing = %s", got)
	}
}

func TestBuild_Goods(t *testing.T) {
	o := sampleOrder()
	now := time.Unix(1700000000, 0)
	p := Build(o, true, now)

	if p.Dated != 1700000000 || p.Operation != "Заказ" || !p.Status {
		t.Fatalf("header = %+v", p)
	}
	if len(p.Goods) != 2 {
		t.Fatalf("goods = %d", len(p.Goods))
	}
	if p.Goods[0].Quantity != 3 || p.Goods[0].Price != 50 {
		t.Fatalf("goods[0] = %+v", p.Goods[0])
	}
	if !o.Total().Equal(decimal.NewFromInt(250)) {
		t.Fatalf("total = %s, want 250", o.Total())
	}
}

func TestBuild_JSONShape(t *testing.T) {
	o := sampleOrder()
	o.Warehouse = &models.Reference{ID: "9"}
	o.AdditionalParams = &models.AdditionalParams{Tags: []string{"vip", " ", "urgent"}, Contract: "c-1"}

	data, err := json.Marshal(Wrap(Build(o, false, time.Unix(10, 0))))
	if err != nil {
		t.Fatal(err)
	}
	var decoded []map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 {
		t.Fatalf("wrapped length = %d", len(decoded))
	}
	doc := decoded[0]

	if doc["contragent"] != float64(42) || doc["paybox"] != float64(3) || doc["warehouse"] != float64(9) {
		t.Fatalf("numeric ids not coerced: %s", data)
	}
	if _, ok := doc["organization"]; ok {
		t.Fatalf("organization present without selection: %s", data)
	}
	if doc["contract"] != "c-1" || doc["tags"] != "vip,urgent" {
		t.Fatalf("params: %s", data)
	}
	goods := doc["goods"].([]interface{})
	if goods[1].(map[string]interface{})["nomenclature"] != "sku-x" {
		t.Fatalf("non-numeric id changed: %s", data)
	}
}

func TestDeliverySummary(t *testing.T) {
	d := &models.Delivery{
		Enabled:   true,
		Address:   "Main St 1",
		Recipient: models.Recipient{Name: "Ann"},
	}
	if got := DeliverySummary(d); got != "DELIVERY: Адрес: Main St 1, Получатель: Ann" {
		t.Fatalf("summary = %q", got)
	}

	d.Enabled = false
	if got := DeliverySummary(d); got != "" {
		t.Fatalf("disabled delivery rendered %q", got)
	}
}

func TestComment(t *testing.T) {
	tests := []struct {
		name string
		o    models.Order
		want string
	}{
		{
			name: "plain",
			o:    models.Order{Comment: "call first"},
			want: "call first",
		},
		{
			name: "delivery appended",
			o: models.Order{
				Comment:  "call first",
				Delivery: &models.Delivery{Enabled: true, Date: "2024-05-01", Time: "10:00", Recipient: models.Recipient{Phone: "+7999"}},
			},
			want: "call first\nDELIVERY: Дата: 2024-05-01 10:00, Телефон: +7999",
		},
		{
			name: "delivery only",
			o:    models.Order{Delivery: &models.Delivery{Enabled: true, Address: "A"}},
			want: "DELIVERY: Адрес: A",
		},
		{
			name: "params comment wins",
			o:    models.Order{Comment: "old", AdditionalParams: &models.AdditionalParams{Comment: "new"}},
			want: "new",
		},
		{
			name: "empty delivery omitted",
			o:    models.Order{Comment: "x", Delivery: &models.Delivery{Enabled: true}},
			want: "x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Comment(&tt.o); got != tt.want {
				t.Fatalf("Comment = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFlexID(t *testing.T) {
	tests := map[FlexID]string{
		"12":  `12`,
		"007": `7`,
		"a1":  `"a1"`,
		"":    `""`,
		"1.5": `"1.5"`,
		"-3":  `-3`,
	}
	for id, want := range tests {
		data, err := json.Marshal(id)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != want {
			t.Errorf("Marshal(%q) = %s, want %s", id, data, want)
		}
	}
}
