package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/taketaketaketake/bol-sub000/internal/domain"
	pfirestore "github.com/taketaketaketake/bol-sub000/internal/platform/firestore"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

const notificationCollection = "notifications"

// NotificationRepository records send attempts in a top-level collection so
// support tooling can query across orders.
type NotificationRepository struct {
	base     *pfirestore.BaseRepository[notificationDocument]
	provider *pfirestore.Provider
}

// NewNotificationRepository constructs a Firestore-backed notification repository.
func NewNotificationRepository(provider *pfirestore.Provider) (*NotificationRepository, error) {
	if provider == nil {
		return nil, errors.New("notification repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[notificationDocument](provider, notificationCollection, nil, nil)
	return &NotificationRepository{base: base, provider: provider}, nil
}

// Insert records one send attempt.
func (r *NotificationRepository) Insert(ctx context.Context, notification domain.Notification) error {
	if r == nil || r.base == nil {
		return errors.New("notification repository not initialised")
	}
	if strings.TrimSpace(notification.ID) == "" {
		return errors.New("notification repository: notification id is required")
	}
	ref, err := r.base.DocumentRef(ctx, notification.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, fromDomainNotification(notification)); err != nil {
		return pfirestore.WrapError("notifications.insert", err)
	}
	return nil
}

// UpdateStatus applies a relay delivery receipt to a recorded attempt.
func (r *NotificationRepository) UpdateStatus(ctx context.Context, notificationID string, update repositories.NotificationStatusUpdate) error {
	if r == nil || r.base == nil {
		return errors.New("notification repository not initialised")
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return errors.New("notification repository: notification id is required")
	}
	ref, err := r.base.DocumentRef(ctx, notificationID)
	if err != nil {
		return err
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(update.Status)},
		{Path: "error", Value: strings.TrimSpace(update.Error)},
	}
	if update.DeliveredAt != nil {
		updates = append(updates, firestore.Update{Path: "deliveredAt", Value: update.DeliveredAt.UTC()})
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("notifications.update_status", err)
	}
	return nil
}

// ListByOrder returns send attempts for an order, newest first.
func (r *NotificationRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Notification], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Notification]{}, errors.New("notification repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[domain.Notification]{}, errors.New("notification repository: order id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Notification]{}, err
	}

	query := client.Collection(notificationCollection).
		Where("orderId", "==", orderID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		tokenTime, tokenID, err := decodeTimeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, fmt.Errorf("notifications.list: invalid page token: %w", err)
		}
		query = query.StartAfter(tokenTime, tokenID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var notifications []domain.Notification
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Notification]{}, pfirestore.WrapError("notifications.list", err)
		}
		var doc notificationDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Notification]{}, fmt.Errorf("notifications.list: decode %s: %w", snap.Ref.ID, err)
		}
		notifications = append(notifications, toDomainNotification(snap.Ref.ID, doc))
	}

	nextToken := ""
	if limit > 0 && len(notifications) == fetchLimit {
		last := notifications[len(notifications)-1]
		nextToken = encodeTimeToken(last.CreatedAt, last.ID)
		notifications = notifications[:len(notifications)-1]
	}

	return domain.CursorPage[domain.Notification]{Items: notifications, NextPageToken: nextToken}, nil
}

type notificationDocument struct {
	OrderID     string     `firestore:"orderId"`
	CustomerID  string     `firestore:"customerId"`
	Channel     string     `firestore:"channel"`
	Template    string     `firestore:"template"`
	Recipient   string     `firestore:"recipient"`
	Status      string     `firestore:"status"`
	Error       string     `firestore:"error,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty"`
}

func fromDomainNotification(notification domain.Notification) notificationDocument {
	return notificationDocument{
		OrderID:     strings.TrimSpace(notification.OrderID),
		CustomerID:  strings.TrimSpace(notification.CustomerID),
		Channel:     string(notification.Channel),
		Template:    strings.TrimSpace(notification.Template),
		Recipient:   strings.TrimSpace(notification.Recipient),
		Status:      string(notification.Status),
		Error:       strings.TrimSpace(notification.Error),
		CreatedAt:   notification.CreatedAt.UTC(),
		DeliveredAt: notification.DeliveredAt,
	}
}

func toDomainNotification(id string, doc notificationDocument) domain.Notification {
	return domain.Notification{
		ID:          id,
		OrderID:     doc.OrderID,
		CustomerID:  doc.CustomerID,
		Channel:     domain.NotificationChannel(doc.Channel),
		Template:    doc.Template,
		Recipient:   doc.Recipient,
		Status:      domain.NotificationStatus(doc.Status),
		Error:       doc.Error,
		CreatedAt:   doc.CreatedAt,
		DeliveredAt: doc.DeliveredAt,
	}
}

var _ repositories.NotificationRepository = (*NotificationRepository)(nil)
