// Package normalize maps loosely shaped TableCRM payloads onto the local models.
//
// TableCRM endpoints do not agree on field names (a product price may arrive as
// "price", "price_sale" or "price_retail"), so every logical attribute is read
// through a Chain of candidate keys.
package normalize

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Record is a decoded JSON object
type Record map[string]interface{}

// Chain is an ordered list of candidate keys for one attribute
type Chain []string

// Keys builds a chain
func Keys(keys ...string) Chain {
	return Chain(keys)
}

// Lookup returns the first present value. Missing keys, nulls and blank strings are absent.
func (c Chain) Lookup(r Record) (interface{}, bool) {
	for _, key := range c {
		v, ok := r[key]
		if !ok || isAbsent(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

// String returns the first value that renders as a scalar string
func (c Chain) String(r Record) (string, bool) {
	for _, key := range c {
		if s, ok := scalarString(r[key]); ok {
			return s, true
		}
	}
	return "", false
}

// StringOr returns the chain value or def
func (c Chain) StringOr(r Record, def string) string {
	if s, ok := c.String(r); ok {
		return s
	}
	return def
}

// Decimal returns the first value that parses as a number
func (c Chain) Decimal(r Record) (decimal.Decimal, bool) {
	for _, key := range c {
		if d, ok := toDecimal(r[key]); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

// DecimalOr returns the chain value or def
func (c Chain) DecimalOr(r Record, def decimal.Decimal) decimal.Decimal {
	if d, ok := c.Decimal(r); ok {
		return d
	}
	return def
}

// Int returns the first value that parses as an integer
func (c Chain) Int(r Record) (int64, bool) {
	d, ok := c.Decimal(r)
	if !ok {
		return 0, false
	}
	return d.IntPart(), true
}

// Bool returns the first boolean-like value
func (c Chain) Bool(r Record) (bool, bool) {
	for _, key := range c {
		switch v := r[key].(type) {
		case bool:
			return v, true
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return b, true
			}
		case json.Number, float64, int, int64:
			if d, ok := toDecimal(v); ok {
				return !d.IsZero(), true
			}
		}
	}
	return false, false
}

// Record returns the first value that is a JSON object
func (c Chain) Record(r Record) (Record, bool) {
	for _, key := range c {
		if rec, ok := AsRecord(r[key]); ok {
			return rec, true
		}
	}
	return nil, false
}

// List returns the first value that is a JSON array
func (c Chain) List(r Record) ([]interface{}, bool) {
	for _, key := range c {
		if list, ok := r[key].([]interface{}); ok {
			return list, true
		}
	}
	return nil, false
}

// AsRecord converts a decoded value into a Record
func AsRecord(v interface{}) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]interface{}:
		return Record(m), true
	}
	return nil, false
}

// Records keeps the object elements of a list
func Records(list []interface{}) []Record {
	out := make([]Record, 0, len(list))
	for _, v := range list {
		if rec, ok := AsRecord(v); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Envelope is a list response with an optional server-reported total
type Envelope struct {
	Items    []Record
	Count    int
	HasCount bool
}

// Unwrap accepts a bare array, {"result": [...], "count": N} or {"data": [...]}
func Unwrap(v interface{}) Envelope {
	if list, ok := v.([]interface{}); ok {
		return Envelope{Items: Records(list)}
	}
	rec, ok := AsRecord(v)
	if !ok {
		return Envelope{Items: []Record{}}
	}
	env := Envelope{Items: []Record{}}
	if list, ok := Keys("result", "data", "rows").List(rec); ok {
		env.Items = Records(list)
	}
	if n, ok := Keys("count", "total").Int(rec); ok {
		env.Count = int(n)
		env.HasCount = true
	}
	return env
}

func isAbsent(v interface{}) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(s) == ""
	}
	return false
}

func scalarString(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		if strings.TrimSpace(s) == "" {
			return "", false
		}
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case bool:
		return strconv.FormatBool(s), true
	}
	return "", false
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case float32:
		return decimal.NewFromFloat32(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case decimal.Decimal:
		return n, true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", ".")
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	}
	return decimal.Zero, false
}
