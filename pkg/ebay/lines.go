package ebay

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Line 扁平化后的订单行
type Line struct {
	OrderID  string
	LineID   string
	SKU      string
	Quantity int
}

// 字段名按顺序尝试，先命中者为准
var (
	lineIDKeys   = []string{"lineItemId", "lineItemID", "itemId", "id"}
	skuKeys      = []string{"sku", "SKU", "sellerSku", "customLabel"}
	quantityKeys = []string{"quantity", "quantityPurchased"}
)

// FlattenLines 展开订单行：优先 lineItems，为空时退回 lineItemSummaries
func FlattenLines(o Order) []Line {
	orderID := o.OrderID
	if orderID == "" {
		orderID = o.LegacyOrderID
	}

	raw := o.LineItems
	if len(raw) == 0 {
		raw = o.LineItemSummaries
	}

	lines := make([]Line, 0, len(raw))
	for _, item := range raw {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil {
			continue
		}
		qty, _ := strconv.Atoi(firstValue(fields, quantityKeys))
		lines = append(lines, Line{
			OrderID:  orderID,
			LineID:   firstValue(fields, lineIDKeys),
			SKU:      strings.TrimSpace(firstValue(fields, skuKeys)),
			Quantity: qty,
		})
	}
	return lines
}

func firstValue(fields map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		if v := scalar(raw); v != "" {
			return v
		}
	}
	return ""
}

// scalar 字符串或数字统一转成字符串
func scalar(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
