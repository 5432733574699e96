package model

// All 需要 AutoMigrate 的模型
func All() []interface{} {
	return []interface{}{
		&Account{},
		&ProviderCredential{},
		&TokenRecord{},
		&Product{},
		&StockPool{},
		&StockBucket{},
		&StockBucketLevel{},
		&SkuMapping{},
		&ProcessedOrderLine{},
		&SyncLog{},
		&ListingCache{},
	}
}
