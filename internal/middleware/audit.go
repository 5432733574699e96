package middleware

import (
	"context"
	"reflect"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ==================== 操作员上下文 ====================

type operatorContextKey struct{}

// Operator 发起请求的操作员，定时任务触发时不存在
type Operator struct {
	ID       int64
	Username string
}

// WithOperator 把操作员写入 context，一路带到 GORM 回调
func WithOperator(ctx context.Context, id int64, username string) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, &Operator{ID: id, Username: username})
}

// OperatorFrom 没有操作员时返回 nil
func OperatorFrom(ctx context.Context) *Operator {
	if op, ok := ctx.Value(operatorContextKey{}).(*Operator); ok {
		return op
	}
	return nil
}

// OperatorIDFrom 没有操作员时返回 0
func OperatorIDFrom(ctx context.Context) int64 {
	if op := OperatorFrom(ctx); op != nil {
		return op.ID
	}
	return 0
}

// AuditContext 把 JWT 中的操作员注入 request context
// 映射的 created_by/updated_by 与手动同步日志的 triggered_by 都从这里取值
func AuditContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := GetOperatorID(c); id > 0 {
			c.Request = c.Request.WithContext(WithOperator(c.Request.Context(), id, GetUsername(c)))
		}
		c.Next()
	}
}

// ==================== GORM 回调 ====================

// 新建时填充 (已有值不覆盖)
var createAuditFields = []string{"CreatedBy", "UpdatedBy", "TriggeredBy"}

// RegisterAuditCallbacks 注册审计回调
func RegisterAuditCallbacks(db *gorm.DB) error {
	err := db.Callback().Create().Before("gorm:create").Register("audit:create", func(tx *gorm.DB) {
		id := statementOperator(tx)
		if id == 0 {
			return
		}
		for _, name := range createAuditFields {
			fillIfZero(tx, name, id)
		}
	})
	if err != nil {
		return err
	}

	// 更新时总是记为当前操作员，map 更新同样生效
	return db.Callback().Update().Before("gorm:update").Register("audit:update", func(tx *gorm.DB) {
		id := statementOperator(tx)
		if id == 0 || tx.Statement.Schema == nil {
			return
		}
		if field := tx.Statement.Schema.LookUpField("UpdatedBy"); field != nil {
			tx.Statement.SetColumn(field.DBName, id, true)
		}
	})
}

func statementOperator(tx *gorm.DB) int64 {
	if tx.Statement.Context == nil {
		return 0
	}
	return OperatorIDFrom(tx.Statement.Context)
}

// fillIfZero 单条与批量插入都支持
func fillIfZero(tx *gorm.DB, fieldName string, value int64) {
	if tx.Statement.Schema == nil {
		return
	}
	field := tx.Statement.Schema.LookUpField(fieldName)
	if field == nil {
		return
	}

	ctx := tx.Statement.Context
	rv := tx.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Struct:
		if _, isZero := field.ValueOf(ctx, rv); isZero {
			_ = field.Set(ctx, rv, value)
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			elem := reflect.Indirect(rv.Index(i))
			if _, isZero := field.ValueOf(ctx, elem); isZero {
				_ = field.Set(ctx, elem, value)
			}
		}
	}
}
