package bookings

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/dustout/dustout-backend/internal/notifications"
	"github.com/dustout/dustout-backend/pkg/db"
	"github.com/dustout/dustout-backend/pkg/db/models"
	"github.com/dustout/dustout-backend/pkg/enums"
	pkgerrors "github.com/dustout/dustout-backend/pkg/errors"
	"github.com/dustout/dustout-backend/pkg/logger"
	"github.com/dustout/dustout-backend/pkg/mail"
)

// ServiceParams wires booking reconciliation dependencies.
type ServiceParams struct {
	Repo     Repository
	TxRunner db.TxRunner
	Notifier *notifications.Notifier
	Logger   *logger.Logger
}

// Service turns completed one-off checkouts into bookings with priced line
// items. Exactly one booking exists per checkout session; replays of the
// same session are recognized and skipped.
type Service struct {
	repo     Repository
	txRunner db.TxRunner
	notifier *notifications.Notifier
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "bookings repo required")
	}
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	return &Service{
		repo:     params.Repo,
		txRunner: params.TxRunner,
		notifier: params.Notifier,
		logg:     params.Logger,
	}, nil
}

// HandleCheckoutCompleted reconciles a paid one-off checkout session.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	if session == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session is required")
	}

	meta, err := ParseSessionMetadata(session.Metadata)
	if err != nil {
		return err
	}

	existing, err := s.repo.FindBySessionID(ctx, session.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup booking by session")
	}
	if existing != nil {
		// Expected outcome of Stripe retry delivery, not an error.
		s.info(ctx, fmt.Sprintf("booking %s already exists for session %s, skipping", existing.ID, session.ID))
		return nil
	}

	booking := buildBooking(meta, session)

	var lineItems []models.BookingLineItem
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateBooking(ctx, booking); err != nil {
			return err
		}

		items, err := s.buildLineItems(ctx, repo, booking, meta.Selections)
		if err != nil {
			return err
		}
		if err := repo.CreateLineItems(ctx, items); err != nil {
			return err
		}
		lineItems = items
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			// A concurrent delivery of the same session won the race.
			s.info(ctx, fmt.Sprintf("booking for session %s created concurrently, skipping", session.ID))
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create booking transaction")
	}

	s.info(ctx, fmt.Sprintf("booking %s created for session %s with %d line items", booking.ID, session.ID, len(lineItems)))

	serviceSummaries := summarizeLineItems(lineItems)
	s.notifier.BookingConfirmed(ctx, mail.BookingConfirmationParams{
		To:            meta.Email,
		CustomerName:  meta.FullName,
		BookingID:     booking.ID.String(),
		Services:      serviceSummaries,
		PreferredDate: meta.PreferredDate,
		PreferredTime: meta.PreferredTime,
		TotalAmount:   meta.EstimatedPrice,
		Address:       meta.AddressLine(),
	})
	s.notifier.BookingAdminAlert(ctx, mail.BookingAdminParams{
		CustomerName:        meta.FullName,
		CustomerEmail:       meta.Email,
		CustomerPhone:       meta.Phone,
		BookingID:           booking.ID.String(),
		Services:            serviceSummaries,
		PreferredDate:       meta.PreferredDate,
		PreferredTime:       meta.PreferredTime,
		TotalAmount:         meta.EstimatedPrice,
		Address:             meta.AddressLine(),
		SpecialInstructions: meta.SpecialInstructions,
	})

	return nil
}

// buildLineItems resolves every (service, variant, quantity) triple against
// the catalog. Triples that no longer resolve are skipped with a warning;
// the booking itself is still created with whatever resolved.
func (s *Service) buildLineItems(ctx context.Context, repo Repository, booking *models.Booking, selections []ServiceSelection) ([]models.BookingLineItem, error) {
	var items []models.BookingLineItem
	for _, selection := range selections {
		serviceID, err := uuid.Parse(selection.ServiceID)
		if err != nil {
			s.warn(ctx, fmt.Sprintf("invalid service id %q in selection, skipping", selection.ServiceID))
			continue
		}

		for _, variant := range selection.Variants {
			variantID, err := uuid.Parse(variant.VariantID)
			if err != nil {
				s.warn(ctx, fmt.Sprintf("invalid variant id %q in selection, skipping", variant.VariantID))
				continue
			}

			service, err := repo.FindServiceByID(ctx, serviceID)
			if err != nil {
				return nil, err
			}
			serviceVariant, err := repo.FindServiceVariantByID(ctx, variantID)
			if err != nil {
				return nil, err
			}
			if service == nil || serviceVariant == nil {
				s.warn(ctx, fmt.Sprintf("service %s or variant %s not found, skipping line item", selection.ServiceID, variant.VariantID))
				continue
			}

			qty := variant.Quantity
			if qty <= 0 {
				qty = 1
			}
			items = append(items, models.BookingLineItem{
				ID:           uuid.New(),
				BookingID:    booking.ID,
				ServiceID:    service.ID,
				ServiceName:  service.Name,
				VariantID:    serviceVariant.ID,
				VariantName:  serviceVariant.Name,
				VariantValue: fmt.Sprintf("%d x %s", qty, serviceVariant.Name),
				Quantity:     qty,
				Price:        serviceVariant.UnitPrice.Mul(decimal.NewFromInt(int64(qty))),
			})
		}
	}
	return items, nil
}

func buildBooking(meta *SessionMetadata, session *stripe.CheckoutSession) *models.Booking {
	paymentIntentID := ""
	if session.PaymentIntent != nil {
		paymentIntentID = session.PaymentIntent.ID
	}
	return &models.Booking{
		ID:                  uuid.New(),
		UserID:              meta.UserID,
		FullName:            meta.FullName,
		Email:               meta.Email,
		Phone:               meta.Phone,
		Address:             meta.Address,
		City:                meta.City,
		Postcode:            meta.Postcode,
		Frequency:           meta.Frequency,
		PreferredDate:       ParsePreferredDate(meta.PreferredDate),
		PreferredTime:       meta.PreferredTime,
		SpecialInstructions: meta.SpecialInstructions,
		Status:              enums.BookingStatusConfirmed,
		PaymentStatus:       enums.PaymentStatusPaid,
		StripeSessionID:     session.ID,
		PaymentIntentID:     paymentIntentID,
		EstimatedPrice:      meta.EstimatedPrice,
	}
}

func summarizeLineItems(items []models.BookingLineItem) []string {
	summaries := make([]string, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, fmt.Sprintf("%s: %s", item.ServiceName, item.VariantValue))
	}
	return summaries
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Warn(ctx, msg)
	}
}
