package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/dustout/dustout-backend/pkg/enums"
)

// SubscriptionPlan captures the local metadata for a recurring plan.
// Read-only to the reconciliation engine.
type SubscriptionPlan struct {
	ID        string          `gorm:"column:id;primaryKey"`
	Name      string          `gorm:"column:name;not null"`
	PlanType  enums.PlanType  `gorm:"column:plan_type;type:plan_type;not null"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	Features  pq.StringArray  `gorm:"column:features;type:text[];default:ARRAY[]::text[]"`
	Active    bool            `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
