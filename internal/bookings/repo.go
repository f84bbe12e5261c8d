package bookings

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dustout/dustout-backend/pkg/db/models"
)

// Repository handles booking persistence plus the catalog reads the
// reconciler needs for line-item snapshots.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBySessionID(ctx context.Context, sessionID string) (*models.Booking, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	CreateLineItems(ctx context.Context, items []models.BookingLineItem) error
	FindServiceByID(ctx context.Context, id uuid.UUID) (*models.Service, error)
	FindServiceVariantByID(ctx context.Context, id uuid.UUID) (*models.ServiceVariant, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a bookings repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindBySessionID returns the booking created for the checkout session, or
// nil when the session has not been reconciled yet.
func (r *repository) FindBySessionID(ctx context.Context, sessionID string) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.WithContext(ctx).
		Where("stripe_session_id = ?", sessionID).
		First(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &booking, nil
}

func (r *repository) CreateBooking(ctx context.Context, booking *models.Booking) error {
	return r.db.WithContext(ctx).Create(booking).Error
}

func (r *repository) CreateLineItems(ctx context.Context, items []models.BookingLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindServiceByID(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	var service models.Service
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&service).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &service, nil
}

func (r *repository) FindServiceVariantByID(ctx context.Context, id uuid.UUID) (*models.ServiceVariant, error) {
	var variant models.ServiceVariant
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&variant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &variant, nil
}
