package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebay_sync_v1_202610/internal/middleware"
	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/service"
	"ebay_sync_v1_202610/pkg/apperr"
)

type fakeMapper struct {
	match      *service.MatchResult
	suggested  int
	lastMap    service.MapInput
	mapErr     error
	ignoredBy  int64
	ignoredSKU string
}

func (f *fakeMapper) Candidates(_ context.Context, sku string) (*service.MatchResult, error) {
	if f.match != nil {
		return f.match, nil
	}
	return &service.MatchResult{SKU: sku, Status: "not_found", Candidates: []model.Product{}}, nil
}

func (f *fakeMapper) Suggest(context.Context, string, int) ([]service.Suggestion, error) {
	f.suggested++
	return []service.Suggestion{{ProductID: 9, SKU: "ABC-12", Distance: 1}}, nil
}

func (f *fakeMapper) Map(_ context.Context, in service.MapInput) (*service.MapOutcome, error) {
	f.lastMap = in
	if f.mapErr != nil {
		return nil, f.mapErr
	}
	pid := in.ProductID
	return &service.MapOutcome{Mapping: &model.SkuMapping{AccountID: in.AccountID, RemoteSKU: in.SKU, ProductID: &pid}, Changed: true}, nil
}

func (f *fakeMapper) Ignore(_ context.Context, accountID int64, sku string, operatorID int64) (*model.SkuMapping, error) {
	f.ignoredSKU, f.ignoredBy = sku, operatorID
	return &model.SkuMapping{AccountID: accountID, RemoteSKU: sku, Ignored: true}, nil
}

func setupMappingCtlRouter(mapper SkuMapper, jwt middleware.JWTConfig) *gin.Engine {
	ctrl := NewMappingController(mapper)
	r := gin.New()
	api := r.Group("/api", middleware.JWTAuth(jwt))
	api.GET("/mappings/candidates", ctrl.Candidates)
	api.POST("/mappings", ctrl.Map)
	api.POST("/mappings/ignore", ctrl.Ignore)
	return r
}

func TestMappingController_Candidates(t *testing.T) {
	mapper := &fakeMapper{}
	r := setupMappingCtlRouter(mapper, middleware.JWTConfig{})

	w := doJSON(r, http.MethodGet, "/api/mappings/candidates?sku=ABC-123", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status      string               `json:"status"`
		Suggestions []service.Suggestion `json:"suggestions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Status)
	require.Len(t, resp.Suggestions, 1)
	assert.Equal(t, 1, mapper.suggested)

	// 已匹配时不查相近 SKU
	mapper.match = &service.MatchResult{SKU: "ABC-123", Status: service.MatchMatched, Tier: service.TierExact, Candidates: []model.Product{}}
	w = doJSON(r, http.MethodGet, "/api/mappings/candidates?sku=ABC-123", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, mapper.suggested)
	assert.Contains(t, w.Body.String(), `"suggestions":[]`)

	w = doJSON(r, http.MethodGet, "/api/mappings/candidates", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMappingController_Map(t *testing.T) {
	jwt := middleware.JWTConfig{SecretKey: "jwt-secret"}
	mapper := &fakeMapper{}
	r := setupMappingCtlRouter(mapper, jwt)
	token, err := middleware.GenerateOperatorToken(jwt, 12, "erin", "operator", time.Hour)
	require.NoError(t, err)

	do := func(body string) int {
		req := newJSONRequest(http.MethodPost, "/api/mappings", body)
		req.Header.Set("Authorization", "Bearer "+token)
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, do(`{"account_id": 1, "sku": "A-1", "product_id": 5, "override": true}`))
	assert.Equal(t, int64(12), mapper.lastMap.OperatorID)
	assert.True(t, mapper.lastMap.Override)
	assert.Equal(t, int64(5), mapper.lastMap.ProductID)

	assert.Equal(t, http.StatusBadRequest, do(`{"account_id": 1, "sku": "A-1"}`))

	mapper.mapErr = apperr.New(apperr.ErrMappingConflict, "A-1 已映射到商品 4")
	assert.Equal(t, http.StatusConflict, do(`{"account_id": 1, "sku": "A-1", "product_id": 5}`))

	// 没有令牌
	w := doJSON(r, http.MethodPost, "/api/mappings", `{"account_id": 1, "sku": "A-1", "product_id": 5}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMappingController_Ignore(t *testing.T) {
	mapper := &fakeMapper{}
	r := setupMappingCtlRouter(mapper, middleware.JWTConfig{})

	w := doJSON(r, http.MethodPost, "/api/mappings/ignore", `{"account_id": 1, "sku": "GIFT-WRAP"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "GIFT-WRAP", mapper.ignoredSKU)
	assert.Zero(t, mapper.ignoredBy)
	assert.Contains(t, w.Body.String(), `"ignored":true`)
}
