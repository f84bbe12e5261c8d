package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dustout/dustout-backend/pkg/enums"
)

// Subscription persists the recurring billing relationship for one user.
// At most one row exists per Stripe subscription id; cancellation is a
// status change plus a timestamp, never a delete.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               string                   `gorm:"column:user_id;not null;index"`
	PlanID               string                   `gorm:"column:plan_id;not null"`
	PlanName             string                   `gorm:"column:plan_name;not null"`
	PlanType             enums.PlanType           `gorm:"column:plan_type;type:plan_type;not null"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending'"`
	Revenue              decimal.Decimal          `gorm:"column:revenue;type:numeric(12,2);not null"`
	Email                string                   `gorm:"column:email;not null"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id"`
	StartDate            time.Time                `gorm:"column:start_date;not null"`
	ExpiryDate           time.Time                `gorm:"column:expiry_date;not null"`
	CurrentPeriodStart   time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd     time.Time                `gorm:"column:current_period_end;not null"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CancelledAt          *time.Time               `gorm:"column:cancelled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
