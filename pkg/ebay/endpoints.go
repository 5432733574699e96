package ebay

import "strings"

// ==================== 域名 ====================

const (
	apiProduction  = "https://api.ebay.com"
	apiSandbox     = "https://api.sandbox.ebay.com"
	authProduction = "https://auth.ebay.com"
	authSandbox    = "https://auth.sandbox.ebay.com"
)

// ==================== 路径 ====================

const (
	PathToken         = "/identity/v1/oauth2/token"
	PathAuthorize     = "/oauth2/authorize"
	PathOrders        = "/sell/fulfillment/v1/order"
	PathBulkUpdate    = "/sell/inventory/v1/bulk_update_price_quantity"
	PathInventoryItem = "/sell/inventory/v1/inventory_item"
	PathOffer         = "/sell/inventory/v1/offer"
)

// Endpoints 某个环境下的 API 与授权页根地址
type Endpoints struct {
	API  string
	Auth string
}

// EndpointsFor 按环境返回根地址，override 非空时覆盖 (测试/代理网关)
func EndpointsFor(environment, apiOverride, authOverride string) Endpoints {
	ep := Endpoints{API: apiProduction, Auth: authProduction}
	if environment == "sandbox" {
		ep = Endpoints{API: apiSandbox, Auth: authSandbox}
	}
	if apiOverride != "" {
		ep.API = strings.TrimRight(apiOverride, "/")
	}
	if authOverride != "" {
		ep.Auth = strings.TrimRight(authOverride, "/")
	}
	return ep
}

// TokenURL OAuth 令牌端点
func (e Endpoints) TokenURL() string { return e.API + PathToken }

// AuthorizeURL 授权同意页
func (e Endpoints) AuthorizeURL() string { return e.Auth + PathAuthorize }
