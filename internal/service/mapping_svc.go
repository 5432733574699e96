package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"ebay_sync_v1_202610/internal/model"
	"ebay_sync_v1_202610/internal/repository"
	"ebay_sync_v1_202610/pkg/apperr"
)

// 匹配结果状态
const (
	MatchMatched  = "matched"
	MatchMultiple = "multiple_matches"
	MatchNotFound = "not_found"
)

// 匹配层级
const (
	TierExact     = "exact"
	TierSeparator = "separator_wildcard"
	TierStripped  = "separator_stripped"
)

// SKU 中视为分隔符的字符
var skuSeparators = []string{"-", "_", " "}

// MatchResult 候选商品
type MatchResult struct {
	SKU        string          `json:"sku"`
	Status     string          `json:"status"`
	Tier       string          `json:"tier,omitempty"`
	Product    *model.Product  `json:"product,omitempty"`
	Candidates []model.Product `json:"candidates"`
}

// Resolution 账号下某个 SKU 的映射结论
type Resolution struct {
	SKU       string
	ProductID *int64
	Source    string // auto / manual，未映射时为空
	Status    string // matched / multiple_matches / not_found / ignored
}

// Mapped 是否得到了商品
func (r *Resolution) Mapped() bool {
	return r.ProductID != nil
}

// MapInput 人工映射
type MapInput struct {
	AccountID  int64
	SKU        string
	ProductID  int64
	Override   bool // 已映射到别的商品时是否覆盖
	OperatorID int64
}

// MapOutcome 人工映射结果
type MapOutcome struct {
	Mapping *model.SkuMapping `json:"mapping"`
	Changed bool              `json:"changed"`
}

// Suggestion 运营参考用的相近 SKU
type Suggestion struct {
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Distance  int    `json:"distance"`
}

// MappingService SKU 映射解析
type MappingService struct {
	products  repository.ProductRepository
	mappings  repository.MappingRepository
	autoMatch bool
	log       *zap.Logger
}

// NewMappingService autoMatch: 订单处理时是否把唯一候选自动落成映射
func NewMappingService(products repository.ProductRepository, mappings repository.MappingRepository, autoMatch bool, log *zap.Logger) *MappingService {
	return &MappingService{
		products:  products,
		mappings:  mappings,
		autoMatch: autoMatch,
		log:       log.Named("mapping"),
	}
}

// ==================== 候选匹配 ====================

// Candidates 三级匹配，命中任意一级即停止
func (s *MappingService) Candidates(ctx context.Context, sku string) (*MatchResult, error) {
	raw := strings.TrimSpace(sku)
	result := &MatchResult{SKU: raw, Status: MatchNotFound, Candidates: []model.Product{}}
	if raw == "" {
		return result, nil
	}
	lowered := strings.ToLower(raw)

	tiers := []struct {
		name  string
		query func() ([]model.Product, error)
	}{
		{TierExact, func() ([]model.Product, error) {
			return s.products.FindBySKUs(ctx, exactVariants(lowered))
		}},
		{TierSeparator, func() ([]model.Product, error) {
			pattern := separatorPattern(lowered)
			if pattern == "" {
				return nil, nil
			}
			return s.products.FindBySKULike(ctx, pattern)
		}},
		{TierStripped, func() ([]model.Product, error) {
			stripped := stripSeparators(lowered)
			if stripped == "" {
				return nil, nil
			}
			return s.products.FindByStrippedSKULike(ctx, "%"+repository.EscapeLike(stripped)+"%")
		}},
	}

	for _, tier := range tiers {
		found, err := tier.query()
		if err != nil {
			return nil, fmt.Errorf("SKU 匹配查询失败 (%s): %w", tier.name, err)
		}
		if len(found) == 0 {
			continue
		}
		result.Tier = tier.name
		// 超过上限时看不到全部根商品，不能裁决
		if len(found) > repository.MaxCandidates {
			result.Candidates = found[:repository.MaxCandidates]
			result.Status = MatchMultiple
			s.log.Warn("SKU 匹配候选过多，交给人工",
				zap.String("sku", raw), zap.String("tier", tier.name))
			return result, nil
		}
		result.Candidates = found
		return s.pick(ctx, result)
	}
	return result, nil
}

// pick 多个候选时的裁决：
// 唯一根商品胜出；多个根商品交给人工；全是子商品且同属一个父商品时取父商品
func (s *MappingService) pick(ctx context.Context, result *MatchResult) (*MatchResult, error) {
	if len(result.Candidates) == 1 {
		result.Status = MatchMatched
		result.Product = &result.Candidates[0]
		return result, nil
	}

	var roots []*model.Product
	parents := make(map[int64]bool)
	for i := range result.Candidates {
		p := &result.Candidates[i]
		if p.IsRoot() {
			roots = append(roots, p)
		} else {
			parents[*p.ParentID] = true
		}
	}

	switch {
	case len(roots) == 1:
		result.Status = MatchMatched
		result.Product = roots[0]
	case len(roots) > 1:
		result.Status = MatchMultiple
	case len(parents) == 1:
		var parentID int64
		for id := range parents {
			parentID = id
		}
		parent, err := s.products.GetByID(ctx, parentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Status = MatchMultiple
				return result, nil
			}
			return nil, err
		}
		result.Status = MatchMatched
		result.Product = parent
	default:
		result.Status = MatchMultiple
	}
	return result, nil
}

// exactVariants 小写原值 + 去前导零
func exactVariants(lowered string) []string {
	variants := []string{lowered}
	if trimmed := strings.TrimLeft(lowered, "0"); trimmed != "" && trimmed != lowered {
		variants = append(variants, trimmed)
	}
	return variants
}

// separatorPattern 分隔符替换为 %，两端加 %；字面量部分转义
// 全是分隔符时返回空串
func separatorPattern(lowered string) string {
	parts := strings.FieldsFunc(lowered, isSKUSeparator)
	if len(parts) == 0 {
		return ""
	}
	for i, part := range parts {
		parts[i] = repository.EscapeLike(part)
	}
	return "%" + strings.Join(parts, "%") + "%"
}

func isSKUSeparator(r rune) bool {
	for _, sep := range skuSeparators {
		if string(r) == sep {
			return true
		}
	}
	return false
}

func stripSeparators(lowered string) string {
	p := lowered
	for _, sep := range skuSeparators {
		p = strings.ReplaceAll(p, sep, "")
	}
	return p
}

// ==================== 账号映射 ====================

// Resolve 显式映射优先；没有映射时按配置尝试自动匹配并落库
func (s *MappingService) Resolve(ctx context.Context, accountID int64, sku string) (*Resolution, error) {
	res := &Resolution{SKU: sku, Status: MatchNotFound}

	m, err := s.mappings.Get(ctx, accountID, sku)
	if err == nil {
		if m.Ignored {
			res.Status = "ignored"
			return res, nil
		}
		if m.Mapped() {
			res.ProductID = m.ProductID
			res.Source = m.Source
			res.Status = MatchMatched
			return res, nil
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询映射失败: %w", err)
	}

	if !s.autoMatch {
		return res, nil
	}

	match, err := s.Candidates(ctx, sku)
	if err != nil {
		return nil, err
	}
	res.Status = match.Status
	if match.Status != MatchMatched {
		return res, nil
	}

	productID := match.Product.ID
	if m != nil {
		m.ProductID = &productID
		m.Source = model.MappingSourceAuto
		err = s.mappings.Save(ctx, m)
	} else {
		err = s.mappings.Create(ctx, &model.SkuMapping{
			Provider:  model.ProviderEbay,
			AccountID: accountID,
			RemoteSKU: sku,
			ProductID: &productID,
			Source:    model.MappingSourceAuto,
		})
	}
	if err != nil {
		// 并发下另一处刚写入，以库里为准
		if existing, gerr := s.mappings.Get(ctx, accountID, sku); gerr == nil && existing.Mapped() {
			res.ProductID = existing.ProductID
			res.Source = existing.Source
			return res, nil
		}
		return nil, fmt.Errorf("保存自动映射失败: %w", err)
	}

	s.log.Info("自动映射",
		zap.Int64("account_id", accountID),
		zap.String("sku", sku),
		zap.Int64("product_id", productID),
		zap.String("tier", match.Tier))
	res.ProductID = &productID
	res.Source = model.MappingSourceAuto
	return res, nil
}

// Map 人工映射：同一商品为空操作，不同商品需显式 Override
func (s *MappingService) Map(ctx context.Context, in MapInput) (*MapOutcome, error) {
	sku := strings.TrimSpace(in.SKU)
	if in.AccountID <= 0 || sku == "" || in.ProductID <= 0 {
		return nil, apperr.New(apperr.ErrInvalidInput, "account_id、sku、product_id 均不能为空")
	}
	if _, err := s.products.GetByID(ctx, in.ProductID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.ErrNotFound, fmt.Sprintf("商品 %d 不存在", in.ProductID))
		}
		return nil, err
	}

	m, err := s.mappings.Get(ctx, in.AccountID, sku)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		productID := in.ProductID
		m = &model.SkuMapping{
			Provider:   model.ProviderEbay,
			AccountID:  in.AccountID,
			RemoteSKU:  sku,
			ProductID:  &productID,
			Source:     model.MappingSourceManual,
			AuditMixin: model.AuditMixin{CreatedBy: in.OperatorID, UpdatedBy: in.OperatorID},
		}
		if err := s.mappings.Create(ctx, m); err != nil {
			return nil, fmt.Errorf("保存映射失败: %w", err)
		}
		s.logMap(in, 0)
		return &MapOutcome{Mapping: m, Changed: true}, nil
	}
	if err != nil {
		return nil, err
	}

	if m.Mapped() && *m.ProductID == in.ProductID {
		return &MapOutcome{Mapping: m, Changed: false}, nil
	}
	var previous int64
	if m.Mapped() {
		previous = *m.ProductID
		if !in.Override {
			return nil, apperr.New(apperr.ErrMappingConflict,
				fmt.Sprintf("SKU %s 已映射到商品 %d", sku, previous))
		}
	}

	productID := in.ProductID
	m.ProductID = &productID
	m.Ignored = false
	m.Source = model.MappingSourceManual
	m.UpdatedBy = in.OperatorID
	if err := s.mappings.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("保存映射失败: %w", err)
	}
	s.logMap(in, previous)
	return &MapOutcome{Mapping: m, Changed: true}, nil
}

func (s *MappingService) logMap(in MapInput, previous int64) {
	s.log.Info("人工映射",
		zap.Int64("account_id", in.AccountID),
		zap.String("sku", in.SKU),
		zap.Int64("product_id", in.ProductID),
		zap.Int64("previous_product_id", previous),
		zap.Int64("operator", in.OperatorID))
}

// Ignore 标记 SKU 不需要同步
func (s *MappingService) Ignore(ctx context.Context, accountID int64, sku string, operatorID int64) (*model.SkuMapping, error) {
	sku = strings.TrimSpace(sku)
	if accountID <= 0 || sku == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, "account_id 和 sku 不能为空")
	}

	m, err := s.mappings.Get(ctx, accountID, sku)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m = &model.SkuMapping{
			Provider:   model.ProviderEbay,
			AccountID:  accountID,
			RemoteSKU:  sku,
			Ignored:    true,
			Source:     model.MappingSourceManual,
			AuditMixin: model.AuditMixin{CreatedBy: operatorID, UpdatedBy: operatorID},
		}
		if err := s.mappings.Create(ctx, m); err != nil {
			return nil, fmt.Errorf("保存忽略标记失败: %w", err)
		}
		return m, nil
	}
	if err != nil {
		return nil, err
	}

	m.Ignored = true
	m.ProductID = nil
	m.Source = model.MappingSourceManual
	m.UpdatedBy = operatorID
	if err := s.mappings.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("保存忽略标记失败: %w", err)
	}
	return m, nil
}

// ==================== 运营建议 ====================

// Suggest 按编辑距离给出相近 SKU，只做展示，不自动落库
func (s *MappingService) Suggest(ctx context.Context, sku string, limit int) ([]Suggestion, error) {
	lowered := strings.ToLower(strings.TrimSpace(sku))
	if lowered == "" {
		return []Suggestion{}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	// 取前两位做粗筛，避免全表算距离
	prefix := lowered
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	pool, err := s.products.FindBySKUPrefix(ctx, prefix, 200)
	if err != nil {
		return nil, err
	}

	target := []rune(lowered)
	out := make([]Suggestion, 0, len(pool))
	for _, p := range pool {
		d := levenshtein.DistanceForStrings(target, []rune(strings.ToLower(p.SKU)), levenshtein.DefaultOptions)
		out = append(out, Suggestion{ProductID: p.ID, SKU: p.SKU, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
