package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

const notificationIDPrefix = "ntf_"

// Notification error sentinels.
var (
	ErrNotificationInvalidInput = errors.New("notification: invalid input")
	ErrNotificationNotFound     = errors.New("notification: not found")
)

// Delivery outcomes the relay may report.
const (
	receiptDelivered = "delivered"
	receiptFailed    = "failed"
)

// NotificationServiceDeps bundles the dependencies required to construct a notification service instance.
type NotificationServiceDeps struct {
	Notifications repositories.NotificationRepository
	Email         EmailSender
	SMS           SMSSender
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type notificationService struct {
	notifications repositories.NotificationRepository
	email         EmailSender
	sms           SMSSender
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewNotificationService wires dependencies into a concrete NotificationService
// implementation. Senders are optional; a missing sender records the attempt as
// failed without blocking the caller.
func NewNotificationService(deps NotificationServiceDeps) (NotificationService, error) {
	if deps.Notifications == nil {
		return nil, errors.New("notification service: notification repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &notificationService{
		notifications: deps.Notifications,
		email:         deps.Email,
		sms:           deps.SMS,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// NotifyOrder sends the template over each requested channel. Every attempt is
// recorded; no failure ever propagates to the triggering operation.
func (s *notificationService) NotifyOrder(ctx context.Context, cmd OrderNotificationCommand) {
	template := strings.TrimSpace(cmd.Template)
	if template == "" || len(cmd.Channels) == 0 {
		return
	}

	for _, channel := range cmd.Channels {
		record := domain.Notification{
			ID:         notificationIDPrefix + s.newID(),
			OrderID:    cmd.Order.ID,
			CustomerID: cmd.Order.CustomerID,
			Channel:    channel,
			Template:   template,
			Status:     domain.NotificationSent,
			CreatedAt:  s.clock(),
		}

		if err := s.send(ctx, channel, cmd, record.ID); err != nil {
			record.Status = domain.NotificationFailed
			record.Error = err.Error()
			s.logger(ctx, "notification.send_failed", map[string]any{
				"orderId":  cmd.Order.ID,
				"channel":  string(channel),
				"template": template,
				"error":    err.Error(),
			})
		}
		record.Recipient = s.recipient(channel, cmd.Customer)

		if err := s.notifications.Insert(ctx, record); err != nil {
			s.logger(ctx, "notification.record_failed", map[string]any{
				"orderId": cmd.Order.ID,
				"channel": string(channel),
				"error":   err.Error(),
			})
		}
	}
}

func (s *notificationService) send(ctx context.Context, channel NotificationChannel, cmd OrderNotificationCommand, ref string) error {
	switch channel {
	case domain.ChannelEmail:
		if s.email == nil {
			return errors.New("email sender not configured")
		}
		to := strings.TrimSpace(cmd.Customer.Email)
		if to == "" {
			return errors.New("customer has no email address")
		}
		return s.email.SendEmail(ctx, EmailMessage{
			To:       to,
			Template: cmd.Template,
			Ref:      ref,
			Data:     cmd.Data,
		})
	case domain.ChannelSMS:
		if s.sms == nil {
			return errors.New("sms sender not configured")
		}
		to := strings.TrimSpace(cmd.Customer.Phone)
		if to == "" {
			return errors.New("customer has no phone number")
		}
		return s.sms.SendSMS(ctx, SMSMessage{
			To:       to,
			Template: cmd.Template,
			Ref:      ref,
			Data:     cmd.Data,
		})
	default:
		return errors.New("unsupported channel " + string(channel))
	}
}

// ApplyDeliveryReceipt records the relay's reported outcome against the
// original send attempt.
func (s *notificationService) ApplyDeliveryReceipt(ctx context.Context, cmd DeliveryReceiptCommand) (Notification, error) {
	ref := strings.TrimSpace(cmd.Ref)
	if ref == "" {
		return Notification{}, fmt.Errorf("%w: ref is required", ErrNotificationInvalidInput)
	}

	update := repositories.NotificationStatusUpdate{Error: strings.TrimSpace(cmd.Detail)}
	switch strings.ToLower(strings.TrimSpace(cmd.Status)) {
	case receiptDelivered:
		update.Status = domain.NotificationDelivered
		at := cmd.OccurredAt
		if at.IsZero() {
			at = s.clock()
		}
		at = at.UTC()
		update.DeliveredAt = &at
		update.Error = ""
	case receiptFailed:
		update.Status = domain.NotificationFailed
	default:
		return Notification{}, fmt.Errorf("%w: unknown delivery status %q", ErrNotificationInvalidInput, cmd.Status)
	}

	if err := s.notifications.UpdateStatus(ctx, ref, update); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return Notification{}, fmt.Errorf("%w: %s", ErrNotificationNotFound, ref)
		}
		return Notification{}, err
	}

	notification := Notification{
		ID:          ref,
		Status:      update.Status,
		Error:       update.Error,
		DeliveredAt: update.DeliveredAt,
	}
	s.logger(ctx, "notification.receipt_applied", map[string]any{
		"notificationId": ref,
		"status":         string(update.Status),
	})
	return notification, nil
}

func (s *notificationService) recipient(channel NotificationChannel, customer Customer) string {
	switch channel {
	case domain.ChannelEmail:
		return strings.TrimSpace(customer.Email)
	case domain.ChannelSMS:
		return strings.TrimSpace(customer.Phone)
	}
	return ""
}
