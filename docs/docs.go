// Package docs 由 swag init 生成的接口文档
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "paths": {
        "/api/oauth/login": {
            "get": {
                "tags": ["Auth (授权模块)"],
                "summary": "发起 eBay 授权",
                "parameters": [
                    {"type": "string", "description": "sandbox / production", "name": "environment", "in": "query"},
                    {"type": "integer", "description": "重新授权已有账号时传入", "name": "account_id", "in": "query"},
                    {"type": "string", "description": "授权完成后跳回的前端地址", "name": "return_url", "in": "query"},
                    {"type": "string", "description": "json 时不跳转", "name": "format", "in": "query"}
                ],
                "responses": {"302": {"description": "跳转到授权页"}, "400": {"description": "参数错误"}}
            }
        },
        "/api/oauth/callback": {
            "get": {
                "tags": ["Auth (授权模块)"],
                "summary": "eBay 授权回调",
                "parameters": [
                    {"type": "string", "name": "code", "in": "query"},
                    {"type": "string", "name": "state", "in": "query"},
                    {"type": "string", "name": "error", "in": "query"}
                ],
                "responses": {"302": {"description": "跳回前端，结果写入 cookie ebay_connect_status"}}
            }
        },
        "/api/accounts": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Account (账号管理)"],
                "summary": "账号列表",
                "parameters": [
                    {"type": "string", "name": "environment", "in": "query"},
                    {"type": "boolean", "name": "needs_reauth", "in": "query"},
                    {"type": "integer", "default": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/accounts/{id}/refresh": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Account (账号管理)"],
                "summary": "手动刷新账号令牌",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "需要重新授权"}, "404": {"description": "账号不存在"}}
            }
        },
        "/api/sync/orders": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sync"],
                "summary": "手动同步订单",
                "parameters": [{"name": "body", "in": "body", "schema": {"$ref": "#/definitions/dto.SyncOrdersReq"}}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "全量同步正在运行"}, "429": {"description": "冷却中"}}
            }
        },
        "/api/sync/inventory": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sync"],
                "summary": "手动推送库存",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.SyncInventoryReq"}}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "参数错误"}, "429": {"description": "冷却中"}}
            }
        },
        "/api/sync/logs": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sync"],
                "summary": "同步日志",
                "parameters": [
                    {"type": "integer", "name": "account_id", "in": "query"},
                    {"type": "string", "name": "operation", "in": "query"},
                    {"type": "string", "name": "outcome", "in": "query"},
                    {"type": "integer", "default": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/sync/ledger": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Sync"],
                "summary": "订单行台账",
                "parameters": [
                    {"type": "integer", "name": "account_id", "in": "query"},
                    {"type": "string", "name": "order_id", "in": "query"},
                    {"type": "boolean", "name": "unmapped_only", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/listings/{account_id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Listing (在售管理)"],
                "summary": "账号在售信息",
                "parameters": [{"type": "integer", "name": "account_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "需要重新授权"}, "429": {"description": "冷却中"}}
            }
        },
        "/api/listings/{account_id}/cached": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Listing (在售管理)"],
                "summary": "在售信息缓存",
                "parameters": [{"type": "integer", "name": "account_id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/mappings/candidates": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Mapping (SKU 映射)"],
                "summary": "SKU 候选商品",
                "parameters": [
                    {"type": "string", "name": "sku", "in": "query", "required": true},
                    {"type": "integer", "default": 5, "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/mappings": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Mapping (SKU 映射)"],
                "summary": "人工映射 SKU",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.MapReq"}}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "已映射到其他商品"}}
            }
        },
        "/api/mappings/ignore": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Mapping (SKU 映射)"],
                "summary": "忽略 SKU",
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.IgnoreReq"}}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/tasks": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["Task"],
                "summary": "定时任务状态",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/api/tasks/{name}/run": {
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["Task"],
                "summary": "立即执行定时任务",
                "parameters": [{"type": "string", "name": "name", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "正在运行"}}
            }
        }
    },
    "definitions": {
        "dto.SyncOrdersReq": {
            "type": "object",
            "properties": {
                "account_id": {"type": "integer"},
                "lookback_minutes": {"type": "integer"}
            }
        },
        "dto.SyncInventoryReq": {
            "type": "object",
            "required": ["account_id"],
            "properties": {
                "account_id": {"type": "integer"},
                "dry_run": {"type": "boolean"},
                "batch_size": {"type": "integer"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/service.PushItem"}}
            }
        },
        "service.PushItem": {
            "type": "object",
            "required": ["sku"],
            "properties": {
                "sku": {"type": "string"},
                "quantity": {"type": "integer"}
            }
        },
        "dto.MapReq": {
            "type": "object",
            "required": ["account_id", "sku", "product_id"],
            "properties": {
                "account_id": {"type": "integer"},
                "sku": {"type": "string"},
                "product_id": {"type": "integer"},
                "override": {"type": "boolean"}
            }
        },
        "dto.IgnoreReq": {
            "type": "object",
            "required": ["account_id", "sku"],
            "properties": {
                "account_id": {"type": "integer"},
                "sku": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "eBay Sync API",
	Description:      "eBay 账号授权、订单扣减库存、库存推送与 SKU 映射",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
