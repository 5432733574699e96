package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/pkg/apperr"
)

func newMappingService(t *testing.T, autoMatch bool) (*MappingService, *testServices) {
	db := setupServiceDB(t)
	svc := NewMappingService(repository.NewProductRepository(db), repository.NewMappingRepository(db), autoMatch, zap.NewNop())
	return svc, &testServices{db: db}
}

func TestMappingService_CandidateTiers(t *testing.T) {
	svc, env := newMappingService(t, false)
	seedProduct(t, env.db, &model.Product{SKU: "ABC-123"})
	seedProduct(t, env.db, &model.Product{SKU: "1234"})
	seedProduct(t, env.db, &model.Product{SKU: "RED_SHIRT_XL"})
	seedProduct(t, env.db, &model.Product{SKU: "BLUE-HAT"})

	tests := []struct {
		sku    string
		status string
		tier   string
		want   string
	}{
		{"abc-123", MatchMatched, TierExact, "ABC-123"},
		{"0001234", MatchMatched, TierExact, "1234"},
		{"red shirt xl", MatchMatched, TierSeparator, "RED_SHIRT_XL"},
		{"bluehat", MatchMatched, TierStripped, "BLUE-HAT"},
		{"nothing-like-it", MatchNotFound, "", ""},
		{"   ", MatchNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.sku, func(t *testing.T) {
			res, err := svc.Candidates(context.Background(), tt.sku)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.tier, res.Tier)
			if tt.want != "" {
				require.NotNil(t, res.Product)
				assert.Equal(t, tt.want, res.Product.SKU)
			}
		})
	}
}

func TestMappingService_TieBreak(t *testing.T) {
	t.Run("唯一根商品胜出", func(t *testing.T) {
		svc, env := newMappingService(t, false)
		root := seedProduct(t, env.db, &model.Product{SKU: "MUG-01"})
		seedProduct(t, env.db, &model.Product{SKU: "MUG-01-RED", ParentID: &root.ID})

		res, err := svc.Candidates(context.Background(), "mug")
		require.NoError(t, err)
		assert.Equal(t, MatchMatched, res.Status)
		assert.Len(t, res.Candidates, 2)
		assert.Equal(t, root.ID, res.Product.ID)
	})

	t.Run("多个根商品不猜", func(t *testing.T) {
		svc, env := newMappingService(t, false)
		seedProduct(t, env.db, &model.Product{SKU: "CUP-A"})
		seedProduct(t, env.db, &model.Product{SKU: "CUP-B"})

		res, err := svc.Candidates(context.Background(), "cup")
		require.NoError(t, err)
		assert.Equal(t, MatchMultiple, res.Status)
		assert.Nil(t, res.Product)
	})

	t.Run("全是子商品且同一父商品", func(t *testing.T) {
		svc, env := newMappingService(t, false)
		parent := seedProduct(t, env.db, &model.Product{SKU: "LAMP"})
		seedProduct(t, env.db, &model.Product{SKU: "BULB-S", ParentID: &parent.ID})
		seedProduct(t, env.db, &model.Product{SKU: "BULB-L", ParentID: &parent.ID})

		res, err := svc.Candidates(context.Background(), "bulb")
		require.NoError(t, err)
		assert.Equal(t, MatchMatched, res.Status)
		assert.Equal(t, parent.ID, res.Product.ID)
	})

	t.Run("子商品分属不同父商品", func(t *testing.T) {
		svc, env := newMappingService(t, false)
		p1 := seedProduct(t, env.db, &model.Product{SKU: "P1"})
		p2 := seedProduct(t, env.db, &model.Product{SKU: "P2"})
		seedProduct(t, env.db, &model.Product{SKU: "PEN-1", ParentID: &p1.ID})
		seedProduct(t, env.db, &model.Product{SKU: "PEN-2", ParentID: &p2.ID})

		res, err := svc.Candidates(context.Background(), "pen")
		require.NoError(t, err)
		assert.Equal(t, MatchMultiple, res.Status)
	})
}

func TestMappingService_TooManyCandidates(t *testing.T) {
	svc, env := newMappingService(t, true)
	ctx := context.Background()

	// 前 50 行只有一个根商品，另一个根商品排在上限之后
	holder := seedProduct(t, env.db, &model.Product{SKU: "LAMP-HOLDER"})
	for i := 1; i <= 49; i++ {
		seedProduct(t, env.db, &model.Product{SKU: fmt.Sprintf("LAMP-V%02d", i), ParentID: &holder.ID})
	}
	seedProduct(t, env.db, &model.Product{SKU: "LAMP-ROOT-A"})
	seedProduct(t, env.db, &model.Product{SKU: "LAMP-ROOT-B"})

	res, err := svc.Candidates(ctx, "lamp")
	require.NoError(t, err)
	assert.Equal(t, MatchMultiple, res.Status)
	assert.Equal(t, TierSeparator, res.Tier)
	assert.Nil(t, res.Product)
	assert.Len(t, res.Candidates, repository.MaxCandidates)

	// 自动匹配同样不落库
	resolved, err := svc.Resolve(ctx, 7, "lamp")
	require.NoError(t, err)
	assert.False(t, resolved.Mapped())
	assert.Equal(t, MatchMultiple, resolved.Status)

	_, err = repository.NewMappingRepository(env.db).Get(ctx, 7, "lamp")
	assert.Error(t, err)
}

func TestMappingService_LiteralWildcardInSKU(t *testing.T) {
	svc, env := newMappingService(t, false)
	ctx := context.Background()
	want := seedProduct(t, env.db, &model.Product{SKU: "50%OFF-BOX"})
	seedProduct(t, env.db, &model.Product{SKU: "50XYOFF-BOX"})
	seedProduct(t, env.db, &model.Product{SKU: "10XOFF"})

	// 分隔符层：% 按字面量比较
	res, err := svc.Candidates(ctx, "50%-off")
	require.NoError(t, err)
	assert.Equal(t, TierSeparator, res.Tier)
	assert.Equal(t, MatchMatched, res.Status)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, want.ID, res.Product.ID)

	// 去分隔符层同理
	res, err = svc.Candidates(ctx, "10%off")
	require.NoError(t, err)
	assert.Equal(t, MatchNotFound, res.Status)

	// 全是分隔符不应匹配全表
	res, err = svc.Candidates(ctx, "- _")
	require.NoError(t, err)
	assert.Equal(t, MatchNotFound, res.Status)
}

func TestMappingService_ResolvePrefersExplicitMapping(t *testing.T) {
	svc, env := newMappingService(t, true)
	ctx := context.Background()
	explicit := seedProduct(t, env.db, &model.Product{SKU: "X-1"})
	seedProduct(t, env.db, &model.Product{SKU: "REMOTE-1"})
	seedMapping(t, env.db, 7, "REMOTE-1", explicit.ID)

	res, err := svc.Resolve(ctx, 7, "REMOTE-1")
	require.NoError(t, err)
	require.True(t, res.Mapped())
	assert.Equal(t, explicit.ID, *res.ProductID)
	assert.Equal(t, model.MappingSourceManual, res.Source)
}

func TestMappingService_ResolveAutoMatchPersists(t *testing.T) {
	svc, env := newMappingService(t, true)
	ctx := context.Background()
	p := seedProduct(t, env.db, &model.Product{SKU: "GLOVE-M"})

	res, err := svc.Resolve(ctx, 7, "glove-m")
	require.NoError(t, err)
	require.True(t, res.Mapped())
	assert.Equal(t, model.MappingSourceAuto, res.Source)

	stored, err := repository.NewMappingRepository(env.db).Get(ctx, 7, "glove-m")
	require.NoError(t, err)
	assert.Equal(t, p.ID, *stored.ProductID)
	assert.Equal(t, model.MappingSourceAuto, stored.Source)
}

func TestMappingService_ResolveAmbiguousOrIgnored(t *testing.T) {
	svc, env := newMappingService(t, true)
	ctx := context.Background()
	seedProduct(t, env.db, &model.Product{SKU: "SOCK-A"})
	seedProduct(t, env.db, &model.Product{SKU: "SOCK-B"})

	res, err := svc.Resolve(ctx, 7, "sock")
	require.NoError(t, err)
	assert.False(t, res.Mapped())
	assert.Equal(t, MatchMultiple, res.Status)

	_, err = svc.Ignore(ctx, 7, "SOCK-A", 1)
	require.NoError(t, err)
	res, err = svc.Resolve(ctx, 7, "SOCK-A")
	require.NoError(t, err)
	assert.False(t, res.Mapped())
	assert.Equal(t, "ignored", res.Status)
}

func TestMappingService_ResolveWithoutAutoMatch(t *testing.T) {
	svc, env := newMappingService(t, false)
	seedProduct(t, env.db, &model.Product{SKU: "BELT"})

	res, err := svc.Resolve(context.Background(), 7, "BELT")
	require.NoError(t, err)
	assert.False(t, res.Mapped())
}

func TestMappingService_Map(t *testing.T) {
	svc, env := newMappingService(t, false)
	ctx := context.Background()
	a := seedProduct(t, env.db, &model.Product{SKU: "A"})
	b := seedProduct(t, env.db, &model.Product{SKU: "B"})

	out, err := svc.Map(ctx, MapInput{AccountID: 1, SKU: "R-1", ProductID: a.ID, OperatorID: 9})
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, int64(9), out.Mapping.CreatedBy)

	// 同一商品为空操作
	out, err = svc.Map(ctx, MapInput{AccountID: 1, SKU: "R-1", ProductID: a.ID})
	require.NoError(t, err)
	assert.False(t, out.Changed)

	// 不同商品需要 override
	_, err = svc.Map(ctx, MapInput{AccountID: 1, SKU: "R-1", ProductID: b.ID})
	assert.True(t, errors.Is(err, apperr.ErrMappingConflict))

	out, err = svc.Map(ctx, MapInput{AccountID: 1, SKU: "R-1", ProductID: b.ID, Override: true, OperatorID: 10})
	require.NoError(t, err)
	assert.True(t, out.Changed)
	assert.Equal(t, b.ID, *out.Mapping.ProductID)
	assert.Equal(t, int64(10), out.Mapping.UpdatedBy)

	_, err = svc.Map(ctx, MapInput{AccountID: 1, SKU: "R-2", ProductID: 999})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = svc.Map(ctx, MapInput{AccountID: 1, SKU: "", ProductID: a.ID})
	assert.True(t, errors.Is(err, apperr.ErrInvalidInput))
}

func TestMappingService_Suggest(t *testing.T) {
	svc, env := newMappingService(t, false)
	seedProduct(t, env.db, &model.Product{SKU: "TSHIRT-RED"})
	seedProduct(t, env.db, &model.Product{SKU: "TSHIRT-BLUE"})
	seedProduct(t, env.db, &model.Product{SKU: "TOTE-BAG"})

	out, err := svc.Suggest(context.Background(), "TSHIRT-RDE", 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "TSHIRT-RED", out[0].SKU)
	assert.LessOrEqual(t, out[0].Distance, out[1].Distance)

	// 不会写入映射
	var count int64
	env.db.Model(&model.SkuMapping{}).Count(&count)
	assert.Zero(t, count)
}
