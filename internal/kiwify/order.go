package kiwify

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Order is an approved purchase as reported by the provider, either from
// the orders listing or from a webhook body.
type Order struct {
	ID     string
	Status string
	Email  string
	Name   string
	PaidAt *time.Time
	Amount decimal.Decimal
	Raw    json.RawMessage
}

var (
	orderIDKeys     = []string{"id", "order_id"}
	orderStatusKeys = []string{"status", "order_status"}
	orderEmailKeys  = []string{"buyer_email", "email", "customer.email", "Customer.email"}
	orderNameKeys   = []string{"buyer_name", "customer.name", "customer.full_name", "Customer.full_name", "Customer.name"}
	orderPaidKeys   = []string{"approved_at", "approved_date", "paid_at", "created_at"}
	orderAmountKeys = []string{"amount", "net_amount", "Commissions.charge_amount"}
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// DecodeOrder reads one order object, tolerating the field-name variants
// the provider uses across its API and webhook payloads.
func DecodeOrder(raw []byte) (Order, error) {
	fields := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Order{}, fmt.Errorf("decode order: %w", err)
	}

	o := Order{
		ID:     firstString(fields, orderIDKeys),
		Status: firstString(fields, orderStatusKeys),
		Email:  firstString(fields, orderEmailKeys),
		Name:   firstString(fields, orderNameKeys),
		Raw:    json.RawMessage(raw),
	}
	if t, ok := parseTime(firstString(fields, orderPaidKeys)); ok {
		o.PaidAt = &t
	}
	o.Amount = parseAmount(firstValue(fields, orderAmountKeys))
	return o, nil
}

func firstString(fields map[string]any, keys []string) string {
	for _, key := range keys {
		if s := scalar(lookup(fields, key)); s != "" {
			return s
		}
	}
	return ""
}

func firstValue(fields map[string]any, keys []string) any {
	for _, key := range keys {
		if v := lookup(fields, key); v != nil && scalar(v) != "" {
			return v
		}
	}
	return nil
}

// lookup resolves a dotted path through nested objects.
func lookup(fields map[string]any, path string) any {
	var cur any = fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseAmount treats integers as cents and decimal strings as units.
func parseAmount(v any) decimal.Decimal {
	s := scalar(v)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	if strings.Contains(s, ".") {
		return d
	}
	return d.Shift(-2)
}
