package ebay

import (
	"encoding/json"
	"strings"
)

// ==========================================
// DTO: 平台 REST 接口的原始 JSON 结构
// ==========================================

// TokenResp OAuth 令牌端点返回
type TokenResp struct {
	AccessToken           string `json:"access_token"`
	RefreshToken          string `json:"refresh_token,omitempty"`
	ExpiresIn             int64  `json:"expires_in"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in,omitempty"`
	TokenType             string `json:"token_type"`
	Scope                 string `json:"scope,omitempty"`

	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// ==================== 订单 ====================

// OrdersPage 订单分页
type OrdersPage struct {
	Orders []Order `json:"orders"`
	Next   string  `json:"next,omitempty"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Order 行项目字段形态不固定，先保留原始 JSON，由 FlattenLines 解析
type Order struct {
	OrderID           string            `json:"orderId"`
	LegacyOrderID     string            `json:"legacyOrderId,omitempty"`
	LastModifiedDate  string            `json:"lastModifiedDate,omitempty"`
	OrderStatus       string            `json:"orderFulfillmentStatus,omitempty"`
	LineItems         []json.RawMessage `json:"lineItems,omitempty"`
	LineItemSummaries []json.RawMessage `json:"lineItemSummaries,omitempty"`
}

// ==================== 库存 ====================

// InventoryItemsPage 库存条目分页 (offset/limit)
type InventoryItemsPage struct {
	Href           string          `json:"href,omitempty"`
	Next           string          `json:"next,omitempty"`
	Total          int             `json:"total"`
	Size           int             `json:"size"`
	Limit          int             `json:"limit"`
	InventoryItems []InventoryItem `json:"inventoryItems"`
}

type InventoryItem struct {
	SKU          string       `json:"sku"`
	Product      ItemProduct  `json:"product"`
	Availability Availability `json:"availability"`
	Condition    string       `json:"condition,omitempty"`
}

type ItemProduct struct {
	Title string `json:"title"`
}

type Availability struct {
	ShipToLocationAvailability ShipToLocationAvailability `json:"shipToLocationAvailability"`
}

type ShipToLocationAvailability struct {
	Quantity int `json:"quantity"`
}

// OffersPage 单个 SKU 的 offer 列表
type OffersPage struct {
	Total  int     `json:"total"`
	Offers []Offer `json:"offers"`
}

type Offer struct {
	OfferID           string         `json:"offerId"`
	SKU               string         `json:"sku"`
	MarketplaceID     string         `json:"marketplaceId"`
	Format            string         `json:"format"`
	Status            string         `json:"status"`
	AvailableQuantity int            `json:"availableQuantity"`
	PricingSummary    PricingSummary `json:"pricingSummary"`
	Listing           *OfferListing  `json:"listing,omitempty"`
}

type PricingSummary struct {
	Price Amount `json:"price"`
}

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type OfferListing struct {
	ListingID     string `json:"listingId"`
	ListingStatus string `json:"listingStatus,omitempty"`
}

// ==================== 批量更新 ====================

// BulkPriceQuantityReq bulk_update_price_quantity 请求体 (单次最多 25 条)
type BulkPriceQuantityReq struct {
	Requests []BulkPriceQuantityItem `json:"requests"`
}

type BulkPriceQuantityItem struct {
	SKU                        string                     `json:"sku"`
	ShipToLocationAvailability ShipToLocationAvailability `json:"shipToLocationAvailability"`
}

// BulkPriceQuantityResp 逐条结果
type BulkPriceQuantityResp struct {
	Responses []BulkItemResp `json:"responses"`
}

type BulkItemResp struct {
	SKU        string        `json:"sku"`
	OfferID    string        `json:"offerId,omitempty"`
	StatusCode int           `json:"statusCode"`
	Errors     []ErrorDetail `json:"errors,omitempty"`
	Warnings   []ErrorDetail `json:"warnings,omitempty"`
}

// ==================== 错误 ====================

// ErrorResp 平台统一错误体
type ErrorResp struct {
	Errors []ErrorDetail `json:"errors"`
}

type ErrorDetail struct {
	ErrorID     int    `json:"errorId"`
	Domain      string `json:"domain,omitempty"`
	Category    string `json:"category,omitempty"`
	Message     string `json:"message"`
	LongMessage string `json:"longMessage,omitempty"`
}

// ErrLocalization 平台对 Accept-Language/Content-Language 不合法时返回的错误码
const ErrLocalization = 25709

// IsLocalizationError 判断响应体是否为本地化头错误
func IsLocalizationError(body []byte) bool {
	var resp ErrorResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return false
	}
	for _, e := range resp.Errors {
		if e.ErrorID == ErrLocalization {
			return true
		}
		msg := e.Message + " " + e.LongMessage
		if strings.Contains(msg, "Accept-Language") || strings.Contains(msg, "Content-Language") {
			return true
		}
	}
	return false
}

// Messages 拼接错误信息
func (e ErrorResp) Messages() string {
	parts := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		parts = append(parts, d.Message)
	}
	return strings.Join(parts, "; ")
}
