package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/taketaketaketake/bol-sub000/internal/platform/firestore"
	"github.com/taketaketaketake/bol-sub000/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the typed accessors
// the DI container consumes.
type Registry struct {
	provider      *pfirestore.Provider
	orders        *OrderRepository
	refunds       *RefundRepository
	statusHistory *StatusHistoryRepository
	messages      *MessageRepository
	customers     *CustomerRepository
	memberships   *MembershipRepository
	laundromats   *LaundromatRepository
	notifications *NotificationRepository
	auditLogs     *AuditLogRepository
	health        repositories.HealthRepository
}

// NewRegistry wires every repository against the shared provider. The health
// repository is injected because its checks span more than Firestore.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	if health == nil {
		return nil, errors.New("registry requires health repository")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	refunds, err := NewRefundRepository(provider)
	if err != nil {
		return nil, err
	}
	statusHistory, err := NewStatusHistoryRepository(provider)
	if err != nil {
		return nil, err
	}
	messages, err := NewMessageRepository(provider)
	if err != nil {
		return nil, err
	}
	customers, err := NewCustomerRepository(provider)
	if err != nil {
		return nil, err
	}
	memberships, err := NewMembershipRepository(provider)
	if err != nil {
		return nil, err
	}
	laundromats, err := NewLaundromatRepository(provider)
	if err != nil {
		return nil, err
	}
	notifications, err := NewNotificationRepository(provider)
	if err != nil {
		return nil, err
	}
	auditLogs, err := NewAuditLogRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:      provider,
		orders:        orders,
		refunds:       refunds,
		statusHistory: statusHistory,
		messages:      messages,
		customers:     customers,
		memberships:   memberships,
		laundromats:   laundromats,
		notifications: notifications,
		auditLogs:     auditLogs,
		health:        health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Refunds() repositories.RefundRepository             { return r.refunds }
func (r *Registry) StatusHistory() repositories.StatusHistoryRepository { return r.statusHistory }
func (r *Registry) Messages() repositories.MessageRepository           { return r.messages }
func (r *Registry) Customers() repositories.CustomerRepository         { return r.customers }
func (r *Registry) Memberships() repositories.MembershipRepository     { return r.memberships }
func (r *Registry) Laundromats() repositories.LaundromatRepository     { return r.laundromats }
func (r *Registry) Notifications() repositories.NotificationRepository { return r.notifications }
func (r *Registry) AuditLogs() repositories.AuditLogRepository         { return r.auditLogs }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }

// RunInTx groups repository operations in a single Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

var _ repositories.Registry = (*Registry)(nil)
