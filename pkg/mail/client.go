package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/shopspring/decimal"

	"github.com/dustout/dustout-backend/pkg/config"
)

// BookingConfirmationParams carries display-ready fields for the customer
// booking confirmation email.
type BookingConfirmationParams struct {
	To            string
	CustomerName  string
	BookingID     string
	Services      []string
	PreferredDate string
	PreferredTime string
	TotalAmount   decimal.Decimal
	Address       string
}

// BookingAdminParams carries fields for the internal new-booking alert.
type BookingAdminParams struct {
	CustomerName        string
	CustomerEmail       string
	CustomerPhone       string
	BookingID           string
	Services            []string
	PreferredDate       string
	PreferredTime       string
	TotalAmount         decimal.Decimal
	Address             string
	SpecialInstructions string
}

// SubscriptionConfirmationParams carries fields for the customer
// subscription welcome email.
type SubscriptionConfirmationParams struct {
	To              string
	CustomerName    string
	SubscriptionID  string
	PlanName        string
	PlanType        string
	Price           decimal.Decimal
	BillingCycle    string
	StartDate       string
	NextBillingDate string
	Features        []string
}

// SubscriptionCancellationParams carries fields for the cancellation email.
type SubscriptionCancellationParams struct {
	To               string
	CustomerName     string
	SubscriptionID   string
	PlanName         string
	CancellationDate string
	EndDate          string
}

// SubscriptionAdminParams carries fields for internal subscription alerts.
type SubscriptionAdminParams struct {
	CustomerName   string
	CustomerEmail  string
	SubscriptionID string
	PlanName       string
	Price          decimal.Decimal
	Action         string
	ActionDate     string
}

// SubscriptionUpgradeParams carries fields for the plan-change email.
type SubscriptionUpgradeParams struct {
	To              string
	CustomerName    string
	SubscriptionID  string
	OldPlanName     string
	NewPlanName     string
	NewPrice        decimal.Decimal
	EffectiveDate   string
	NextBillingDate string
	Features        []string
}

// Client sends transactional email through Sendgrid.
type Client struct {
	send       func(ctx context.Context, email *sgmail.SGMailV3) error
	from       *sgmail.Email
	adminEmail string
}

// NewClient builds a Sendgrid-backed mail client.
func NewClient(cfg config.SendgridConfig, adminEmail string) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("sendgrid api key is required")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, errors.New("sendgrid from address is required")
	}

	sg := sendgrid.NewSendClient(apiKey)
	send := func(ctx context.Context, email *sgmail.SGMailV3) error {
		resp, err := sg.SendWithContext(ctx, email)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode, resp.Body)
		}
		return nil
	}

	return &Client{
		send:       send,
		from:       sgmail.NewEmail(cfg.FromName, from),
		adminEmail: strings.TrimSpace(adminEmail),
	}, nil
}

// SendBookingConfirmation emails the customer their booking summary.
func (c *Client) SendBookingConfirmation(ctx context.Context, p BookingConfirmationParams) error {
	subject := "Your DustOut booking is confirmed"
	body := fmt.Sprintf(
		"Hi %s,\n\nYour booking %s is confirmed for %s at %s.\n\nServices:\n%s\nAddress: %s\nTotal: £%s\n\nThank you for choosing DustOut.",
		p.CustomerName, p.BookingID, p.PreferredDate, p.PreferredTime,
		bulletList(p.Services), p.Address, p.TotalAmount.StringFixed(2),
	)
	return c.deliver(ctx, p.To, p.CustomerName, subject, body)
}

// SendBookingAdminAlert emails the operations inbox about a new booking.
func (c *Client) SendBookingAdminAlert(ctx context.Context, p BookingAdminParams) error {
	subject := fmt.Sprintf("New booking %s", p.BookingID)
	body := fmt.Sprintf(
		"Customer: %s (%s, %s)\nBooking: %s\nScheduled: %s %s\n\nServices:\n%s\nAddress: %s\nTotal: £%s\nInstructions: %s",
		p.CustomerName, p.CustomerEmail, p.CustomerPhone, p.BookingID,
		p.PreferredDate, p.PreferredTime, bulletList(p.Services),
		p.Address, p.TotalAmount.StringFixed(2), p.SpecialInstructions,
	)
	return c.deliver(ctx, c.adminEmail, "DustOut Admin", subject, body)
}

// SendSubscriptionConfirmation emails the customer their new plan details.
func (c *Client) SendSubscriptionConfirmation(ctx context.Context, p SubscriptionConfirmationParams) error {
	subject := fmt.Sprintf("Welcome to the %s plan", p.PlanName)
	body := fmt.Sprintf(
		"Hi %s,\n\nYour %s (%s) subscription %s is active.\nPrice: £%s / %s\nStarted: %s\nNext billing date: %s\n\nIncluded:\n%s",
		p.CustomerName, p.PlanName, p.PlanType, p.SubscriptionID,
		p.Price.StringFixed(2), p.BillingCycle, p.StartDate, p.NextBillingDate,
		bulletList(p.Features),
	)
	return c.deliver(ctx, p.To, p.CustomerName, subject, body)
}

// SendSubscriptionCancellation emails the customer that their plan ended.
func (c *Client) SendSubscriptionCancellation(ctx context.Context, p SubscriptionCancellationParams) error {
	subject := "Your DustOut subscription has been cancelled"
	body := fmt.Sprintf(
		"Hi %s,\n\nYour %s subscription %s was cancelled on %s and ends on %s.\n\nWe hope to see you again.",
		p.CustomerName, p.PlanName, p.SubscriptionID, p.CancellationDate, p.EndDate,
	)
	return c.deliver(ctx, p.To, p.CustomerName, subject, body)
}

// SendSubscriptionAdminAlert emails the operations inbox about a
// subscription change.
func (c *Client) SendSubscriptionAdminAlert(ctx context.Context, p SubscriptionAdminParams) error {
	subject := fmt.Sprintf("Subscription %s %s", p.SubscriptionID, p.Action)
	body := fmt.Sprintf(
		"Customer: %s (%s)\nSubscription: %s\nPlan: %s\nPrice: £%s\nAction: %s at %s",
		p.CustomerName, p.CustomerEmail, p.SubscriptionID, p.PlanName,
		p.Price.StringFixed(2), p.Action, p.ActionDate,
	)
	return c.deliver(ctx, c.adminEmail, "DustOut Admin", subject, body)
}

// SendSubscriptionUpgrade emails the customer their plan change summary.
func (c *Client) SendSubscriptionUpgrade(ctx context.Context, p SubscriptionUpgradeParams) error {
	subject := "Your DustOut plan has changed"
	body := fmt.Sprintf(
		"Hi %s,\n\nYour subscription %s moved from %s to %s, effective %s.\nNew price: £%s\nNext billing date: %s\n\nIncluded:\n%s",
		p.CustomerName, p.SubscriptionID, p.OldPlanName, p.NewPlanName,
		p.EffectiveDate, p.NewPrice.StringFixed(2), p.NextBillingDate,
		bulletList(p.Features),
	)
	return c.deliver(ctx, p.To, p.CustomerName, subject, body)
}

func (c *Client) deliver(ctx context.Context, to, toName, subject, body string) error {
	if c == nil || c.send == nil {
		return errors.New("mail client not initialized")
	}
	if strings.TrimSpace(to) == "" {
		return errors.New("recipient address is required")
	}
	message := sgmail.NewSingleEmail(c.from, subject, sgmail.NewEmail(toName, to), body, "")
	return c.send(ctx, message)
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- (none)\n"
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return b.String()
}
