package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BookingLineItem captures one (service, variant, quantity) selection of a
// booking. Names and price are point-in-time snapshots taken when the booking
// was created; later catalog edits never change what the customer paid.
type BookingLineItem struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BookingID    uuid.UUID       `gorm:"column:booking_id;type:uuid;not null;index"`
	ServiceID    uuid.UUID       `gorm:"column:service_id;type:uuid;not null"`
	ServiceName  string          `gorm:"column:service_name;not null"`
	VariantID    uuid.UUID       `gorm:"column:variant_id;type:uuid;not null"`
	VariantName  string          `gorm:"column:variant_name;not null"`
	VariantValue string          `gorm:"column:variant_value;not null"`
	Quantity     int             `gorm:"column:quantity;not null"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
