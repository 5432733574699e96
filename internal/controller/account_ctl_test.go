package controller

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/internal/service"
	"ebay_sync_v1_202610/pkg/apperr"
)

// ==================== 测试辅助 ====================

func newJSONRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type fakeAccounts struct {
	filter     repository.AccountFilter
	refreshErr error
}

func (f *fakeAccounts) List(_ context.Context, filter repository.AccountFilter) ([]service.AccountView, int64, error) {
	f.filter = filter
	a := service.AccountView{State: model.StateExpiring}
	a.ID = 1
	a.Environment = "production"
	return []service.AccountView{a}, 1, nil
}

func (f *fakeAccounts) Refresh(_ context.Context, id int64) (*service.AccountView, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	exp := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	v := &service.AccountView{State: model.StateActive, TokenExpiresAt: &exp}
	v.ID = id
	v.Environment = "production"
	return v, nil
}

type fakeListings struct {
	fetched int
}

func (f *fakeListings) Fetch(_ context.Context, id int64) (*service.ListingsResult, error) {
	f.fetched++
	return &service.ListingsResult{AccountID: id, Items: 1, Offers: 1, Rows: []service.ListingRow{{SKU: "A", OfferID: "O1"}}}, nil
}

func (f *fakeListings) Cached(_ context.Context, id int64) ([]model.ListingCache, error) {
	return []model.ListingCache{{AccountID: id, SKU: "A", OfferID: "O1"}}, nil
}

// ==================== 账号 ====================

func TestAccountController(t *testing.T) {
	accounts := &fakeAccounts{}
	ctrl := NewAccountController(accounts)
	r := gin.New()
	r.GET("/api/accounts", ctrl.List)
	r.POST("/api/accounts/:id/refresh", ctrl.Refresh)

	w := doJSON(r, http.MethodGet, "/api/accounts?environment=production&needs_reauth=false", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"expiring"`)
	assert.Equal(t, "production", accounts.filter.Environment)
	require.NotNil(t, accounts.filter.NeedsReauth)
	assert.False(t, *accounts.filter.NeedsReauth)

	w = doJSON(r, http.MethodGet, "/api/accounts?environment=qa", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/accounts/3/refresh", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"account_id":3,"environment":"production","expires_at":"2026-10-16T12:00:00Z"}`, w.Body.String())

	w = doJSON(r, http.MethodPost, "/api/accounts/abc/refresh", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	accounts.refreshErr = apperr.New(apperr.ErrNeedsReauth, "invalid_grant")
	w = doJSON(r, http.MethodPost, "/api/accounts/3/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ==================== 在售信息 ====================

func TestListingController(t *testing.T) {
	listings := &fakeListings{}
	ctrl := NewListingController(listings)
	r := gin.New()
	r.GET("/api/listings/:account_id", ctrl.Fetch)
	r.GET("/api/listings/:account_id/cached", ctrl.Cached)

	w := doJSON(r, http.MethodGet, "/api/listings/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"offer_id":"O1"`)
	assert.Equal(t, 1, listings.fetched)

	w = doJSON(r, http.MethodGet, "/api/listings/2/cached", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
	assert.Equal(t, 1, listings.fetched)

	w = doJSON(r, http.MethodGet, "/api/listings/0", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
