package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dustout/dustout-backend/pkg/enums"
)

// Booking records a single paid service engagement. The Stripe checkout
// session id is unique: one checkout can only ever produce one booking.
type Booking struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID              string              `gorm:"column:user_id;not null;index"`
	FullName            string              `gorm:"column:full_name;not null"`
	Email               string              `gorm:"column:email;not null"`
	Phone               string              `gorm:"column:phone;not null"`
	Address             string              `gorm:"column:address"`
	City                string              `gorm:"column:city"`
	Postcode            string              `gorm:"column:postcode"`
	Frequency           string              `gorm:"column:frequency"`
	PreferredDate       *time.Time          `gorm:"column:preferred_date"`
	PreferredTime       string              `gorm:"column:preferred_time"`
	SpecialInstructions string              `gorm:"column:special_instructions"`
	Status              enums.BookingStatus `gorm:"column:status;type:booking_status;not null;default:'pending'"`
	PaymentStatus       enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	StripeSessionID     string              `gorm:"column:stripe_session_id;not null;unique"`
	PaymentIntentID     string              `gorm:"column:payment_intent_id"`
	EstimatedPrice      decimal.Decimal     `gorm:"column:estimated_price;type:numeric(12,2);not null"`
	LineItems           []BookingLineItem   `gorm:"foreignKey:BookingID"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
