package ebay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenLines(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []Line
	}{
		{
			name: "lineItems",
			body: `{"orderId":"O1","lineItems":[{"lineItemId":"L1","sku":"ABC-1","quantity":2}]}`,
			want: []Line{{OrderID: "O1", LineID: "L1", SKU: "ABC-1", Quantity: 2}},
		},
		{
			name: "summaries fallback",
			body: `{"orderId":"O2","lineItemSummaries":[{"itemId":"L9","sellerSku":" X ","quantity":"3"}]}`,
			want: []Line{{OrderID: "O2", LineID: "L9", SKU: "X", Quantity: 3}},
		},
		{
			name: "lineItems win over summaries",
			body: `{"orderId":"O3","lineItems":[{"lineItemId":"A","sku":"S","quantity":1}],"lineItemSummaries":[{"lineItemId":"B","sku":"T","quantity":1}]}`,
			want: []Line{{OrderID: "O3", LineID: "A", SKU: "S", Quantity: 1}},
		},
		{
			name: "sku field order",
			body: `{"orderId":"O4","lineItems":[{"lineItemId":"A","sku":"","SKU":"UPPER","customLabel":"C","quantity":1}]}`,
			want: []Line{{OrderID: "O4", LineID: "A", SKU: "UPPER", Quantity: 1}},
		},
		{
			name: "legacy order id and numeric line id",
			body: `{"legacyOrderId":"110-22","lineItems":[{"lineItemId":1234567,"sku":"Q","quantityPurchased":4}]}`,
			want: []Line{{OrderID: "110-22", LineID: "1234567", SKU: "Q", Quantity: 4}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o Order
			require.NoError(t, json.Unmarshal([]byte(tt.body), &o))
			assert.Equal(t, tt.want, FlattenLines(o))
		})
	}
}

func TestIsLocalizationError(t *testing.T) {
	assert.True(t, IsLocalizationError([]byte(`{"errors":[{"errorId":25709,"message":"Invalid value for header Accept-Language."}]}`)))
	assert.True(t, IsLocalizationError([]byte(`{"errors":[{"errorId":1,"message":"bad Content-Language"}]}`)))
	assert.False(t, IsLocalizationError([]byte(`{"errors":[{"errorId":25001,"message":"System error"}]}`)))
	assert.False(t, IsLocalizationError([]byte(`not json`)))
}

func TestEndpointsFor(t *testing.T) {
	assert.Equal(t, "https://api.sandbox.ebay.com/identity/v1/oauth2/token", EndpointsFor("sandbox", "", "").TokenURL())
	assert.Equal(t, "https://auth.ebay.com/oauth2/authorize", EndpointsFor("production", "", "").AuthorizeURL())
	assert.Equal(t, "http://mock/identity/v1/oauth2/token", EndpointsFor("production", "http://mock/", "").TokenURL())
}
