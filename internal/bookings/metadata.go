package bookings

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/dustout/dustout-backend/pkg/errors"
)

// SessionMetadata is the booking payload the checkout flow attaches to a
// Stripe session. Field values arrive as strings; the checkout front end owns
// the wire keys, so the JSON tags below must not change.
type SessionMetadata struct {
	UserID              string
	FullName            string
	Email               string
	Phone               string
	Address             string
	City                string
	Postcode            string
	Frequency           string
	PreferredDate       string
	PreferredTime       string
	SpecialInstructions string
	EstimatedPrice      decimal.Decimal
	Selections          []ServiceSelection
}

// ServiceSelection is one chosen service with its priced variants.
type ServiceSelection struct {
	ServiceID string             `json:"serviceId"`
	Variants  []VariantSelection `json:"variables"`
}

// VariantSelection is one (variant, quantity) pick within a selection.
type VariantSelection struct {
	VariantID string `json:"variableId"`
	Quantity  int    `json:"quantity"`
}

// ParseSessionMetadata validates and decodes the checkout session metadata.
// Missing identity fields or an absent selection payload make the event
// undeliverable; the caller drops it rather than asking Stripe to retry.
func ParseSessionMetadata(meta map[string]string) (*SessionMetadata, error) {
	if meta == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session metadata is required")
	}

	userID := strings.TrimSpace(meta["userId"])
	servicesData := strings.TrimSpace(meta["servicesData"])
	if userID == "" || servicesData == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "userId or servicesData missing from session metadata")
	}

	parsed := &SessionMetadata{
		UserID:              userID,
		FullName:            strings.TrimSpace(meta["fullName"]),
		Email:               strings.TrimSpace(meta["email"]),
		Phone:               strings.TrimSpace(meta["phone"]),
		Address:             meta["address"],
		City:                meta["city"],
		Postcode:            meta["postcode"],
		Frequency:           meta["frequency"],
		PreferredDate:       meta["preferredDate"],
		PreferredTime:       meta["preferredTime"],
		SpecialInstructions: meta["specialInstructions"],
	}

	if parsed.FullName == "" || parsed.Email == "" || parsed.Phone == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "required booking contact fields missing")
	}

	if raw := strings.TrimSpace(meta["estimatedPrice"]); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid estimatedPrice metadata")
		}
		parsed.EstimatedPrice = price
	}

	if err := json.Unmarshal([]byte(servicesData), &parsed.Selections); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode servicesData metadata")
	}

	return parsed, nil
}

// ParsePreferredDate converts the metadata date into a timestamp. The
// checkout form sends YYYY-MM-DD; older clients sent RFC3339. Unparseable
// values return nil so a bad date never blocks a paid booking.
func ParsePreferredDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// AddressLine formats the display address used in emails.
func (m *SessionMetadata) AddressLine() string {
	parts := []string{}
	for _, part := range []string{m.Address, m.City, m.Postcode} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}
